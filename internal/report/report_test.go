package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/putrun/internal/scan"
)

func sampleResult() *scan.Result {
	exp := time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)
	return &scan.Result{
		RunID:    "run-1",
		Tickers:  4,
		Duration: 1500 * time.Millisecond,
		Ranked: []scan.Entry{
			{Ticker: "MPW", Expiration: exp, DTE: 37, AnnualizedReturn: 0.22, Qualifying: 3},
			{Ticker: "OHI", Expiration: exp, DTE: 37, AnnualizedReturn: 0.18, Qualifying: 2},
		},
		Unprofitable: []scan.Entry{
			{Ticker: "PFE", Expiration: exp, DTE: 37, AnnualizedReturn: -0.05},
		},
		Failures: []scan.Failure{
			{Ticker: "GONE", Stage: scan.StageConstruct, Kind: scan.KindDataUnavailable, Err: errors.New("no market data")},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"auto", "TABLE", " plain ", "json", "csv"} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatAuto, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestResolve_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, FormatPlain, Resolve(FormatAuto, &buf))
	assert.Equal(t, FormatJSON, Resolve(FormatJSON, &buf))
}

func TestRender_Plain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, FormatPlain, false).Render(sampleResult()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "TICKER")
	assert.Contains(t, lines[1], "MPW")
	assert.Contains(t, lines[1], "22.00%")
	assert.Contains(t, lines[2], "OHI")
	assert.NotContains(t, buf.String(), "PFE")
	assert.NotContains(t, buf.String(), "GONE")
}

func TestRender_PlainVerbose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, FormatPlain, true).Render(sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "PFE")
	assert.Contains(t, out, "unprofitable")
	assert.Contains(t, out, "GONE")
	assert.Contains(t, out, "data_unavailable")
	assert.Contains(t, out, "no market data")
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, FormatTable, true).Render(sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "UNDERLYINGS PROFITABILITY")
	assert.Contains(t, out, "│    1 │ MPW      │ 2024-06-07 │    37 │     22.00% │          3 │")
	assert.Contains(t, out, "2 ranked, 1 unprofitable, 1 failed of 4 tickers")
	assert.Contains(t, out, "EXCLUDED")
	assert.Less(t, strings.Index(out, "MPW"), strings.Index(out, "OHI"))
}

func TestRender_TableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, FormatTable, false).Render(&scan.Result{}))
	assert.Contains(t, buf.String(), "no profitable candidates")
}

func TestRender_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, FormatCSV, true).Render(sampleResult()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"rank", "ticker", "expiration", "dte", "annualized_return", "qualifying"}, records[0])
	assert.Equal(t, []string{"1", "MPW", "2024-06-07", "37", "0.220000", "3"}, records[1])
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, FormatJSON, false).Render(sampleResult()))

	var decoded struct {
		RunID  string `json:"run_id"`
		Ranked []struct {
			Ticker           string  `json:"ticker"`
			AnnualizedReturn float64 `json:"annualized_return"`
		} `json:"ranked"`
		Failures []struct {
			Ticker string `json:"ticker"`
			Kind   string `json:"kind"`
			Reason string `json:"reason"`
		} `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.Ranked, 2)
	assert.Equal(t, "MPW", decoded.Ranked[0].Ticker)
	require.Len(t, decoded.Failures, 1)
	assert.Equal(t, "data_unavailable", decoded.Failures[0].Kind)
	assert.Equal(t, "no market data", decoded.Failures[0].Reason)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "18.00%", Percent(0.18))
	assert.Equal(t, "-5.00%", Percent(-0.05))
	assert.Equal(t, "0.00%", Percent(0))
}
