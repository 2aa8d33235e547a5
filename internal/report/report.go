// Package report renders scan results for terminals, pipes and files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/sawpanic/putrun/internal/market"
	"github.com/sawpanic/putrun/internal/scan"
)

// Format selects the output rendering
type Format string

const (
	FormatAuto  Format = "auto"
	FormatTable Format = "table"
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatTable, FormatPlain, FormatJSON, FormatCSV:
		return f, nil
	case "":
		return FormatAuto, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want auto, table, plain, json or csv)", s)
	}
}

// Resolve turns FormatAuto into table for terminals and plain otherwise
func Resolve(f Format, out io.Writer) Format {
	if f != FormatAuto {
		return f
	}
	if file, ok := out.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return FormatTable
	}
	return FormatPlain
}

// Renderer writes scan results in one format
type Renderer struct {
	out     io.Writer
	format  Format
	verbose bool
}

// NewRenderer creates a renderer; verbose adds unprofitable tickers and
// failure reasons to table and plain output
func NewRenderer(out io.Writer, format Format, verbose bool) *Renderer {
	return &Renderer{out: out, format: Resolve(format, out), verbose: verbose}
}

// Render writes the result
func (r *Renderer) Render(result *scan.Result) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(result)
	case FormatCSV:
		return r.renderCSV(result)
	case FormatTable:
		return r.renderTable(result)
	default:
		return r.renderPlain(result)
	}
}

func (r *Renderer) renderJSON(result *scan.Result) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (r *Renderer) renderCSV(result *scan.Result) error {
	w := csv.NewWriter(r.out)
	if err := w.Write([]string{"rank", "ticker", "expiration", "dte", "annualized_return", "qualifying"}); err != nil {
		return err
	}
	for i, e := range result.Ranked {
		record := []string{
			strconv.Itoa(i + 1),
			e.Ticker,
			market.FormatDate(e.Expiration),
			strconv.Itoa(e.DTE),
			strconv.FormatFloat(e.AnnualizedReturn, 'f', 6, 64),
			strconv.Itoa(e.Qualifying),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (r *Renderer) renderPlain(result *scan.Result) error {
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTICKER\tEXPIRATION\tDTE\tANNUALIZED\tQUALIFYING")
	for i, e := range result.Ranked {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\n",
			i+1, e.Ticker, market.FormatDate(e.Expiration), e.DTE, Percent(e.AnnualizedReturn), e.Qualifying)
	}

	if r.verbose {
		for _, e := range result.Unprofitable {
			fmt.Fprintf(tw, "-\t%s\t%s\t%d\t%s\tunprofitable\n",
				e.Ticker, market.FormatDate(e.Expiration), e.DTE, Percent(e.AnnualizedReturn))
		}
		for _, f := range result.Failures {
			fmt.Fprintf(tw, "-\t%s\t%s\t%s\t%s\t%s\n", f.Ticker, f.Stage, f.Kind, "-", f.Reason())
		}
	}
	return tw.Flush()
}

func (r *Renderer) renderTable(result *scan.Result) error {
	var b strings.Builder

	b.WriteString("📊 UNDERLYINGS PROFITABILITY\n")
	b.WriteString("┌──────┬──────────┬────────────┬───────┬────────────┬────────────┐\n")
	b.WriteString("│ Rank │ Ticker   │ Expiration │   DTE │ Annualized │ Qualifying │\n")
	b.WriteString("├──────┼──────────┼────────────┼───────┼────────────┼────────────┤\n")
	if len(result.Ranked) == 0 {
		fmt.Fprintf(&b, "│ %-64s │\n", "no profitable candidates")
	}
	for i, e := range result.Ranked {
		fmt.Fprintf(&b, "│ %4d │ %-8s │ %-10s │ %5d │ %10s │ %10d │\n",
			i+1, truncate(e.Ticker, 8), market.FormatDate(e.Expiration), e.DTE, Percent(e.AnnualizedReturn), e.Qualifying)
	}
	b.WriteString("└──────┴──────────┴────────────┴───────┴────────────┴────────────┘\n")

	fmt.Fprintf(&b, "%d ranked, %d unprofitable, %d failed of %d tickers in %v\n",
		len(result.Ranked), len(result.Unprofitable), len(result.Failures), result.Tickers, result.Duration.Round(1e6))

	if r.verbose && len(result.Unprofitable) > 0 {
		b.WriteString("\n📉 UNPROFITABLE\n")
		for _, e := range result.Unprofitable {
			fmt.Fprintf(&b, "  %-8s %s  %s\n", e.Ticker, market.FormatDate(e.Expiration), Percent(e.AnnualizedReturn))
		}
	}
	if r.verbose && len(result.Failures) > 0 {
		b.WriteString("\n⚠️  EXCLUDED\n")
		for _, f := range result.Failures {
			fmt.Fprintf(&b, "  %-8s %-9s %-22s %s\n", f.Ticker, f.Stage, f.Kind, f.Reason())
		}
	}

	_, err := io.WriteString(r.out, b.String())
	return err
}

// Percent formats a decimal return as a percentage with two decimals
func Percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
