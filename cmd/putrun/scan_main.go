package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/putrun/internal/config"
	plog "github.com/sawpanic/putrun/internal/log"
	"github.com/sawpanic/putrun/internal/report"
	"github.com/sawpanic/putrun/internal/scan"
)

type scanOptions struct {
	tickers  []string
	format   string
	progress bool
}

func newScanCmd(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan [TICKER...]",
		Short: "Rank the watchlist by annualized put return",
		Long: `Loads every watchlist ticker in parallel, computes put deltas for the
expirations inside the DTE window and ranks tickers by the average annualized
return of puts inside the delta band at the expiration closest to the target.`,
		Example: `  putrun scan
  putrun scan OHI MPW PFE --target-dte 30 --format json
  putrun scan --watchlist config/watchlist.txt --max-price 100 --persist jsonl
  putrun scan --concurrency 4 --min-return 0.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.tickers = append(opts.tickers, args...)
			return runScan(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.tickers, "tickers", "t", nil, "Comma-separated tickers, overrides the watchlist")
	flags.StringVarP(&opts.format, "format", "o", string(report.FormatAuto), "Output format (auto|table|plain|json|csv)")
	flags.BoolVar(&opts.progress, "progress", true, "Show per-ticker progress on a terminal")
	flags.Int("target-dte", 0, "Target days to expiration (default from config)")
	flags.Int("concurrency", 0, "Tickers analyzed in parallel (default from config)")
	flags.Duration("timeout", 0, "Per-ticker timeout (default from config)")
	flags.Float64("min-return", 0, "Exclusive floor on the annualized return (default from config)")
	flags.Float64("delta-min", 0, "Lower put delta bound (default from config)")
	flags.Float64("delta-max", 0, "Upper put delta bound (default from config)")
	flags.Int("min-dte", 0, "Shortest expiration considered, in days (default from config)")
	flags.Int("max-dte", 0, "Longest expiration considered, in days (default from config)")
	flags.String("watchlist", "", "Watchlist file, text or JSON (default from config)")
	flags.Float64("max-price", 0, "Drop tickers whose last close is above this (default from config)")
	flags.String("provider", "", "Market data provider: massive|synthetic (default from config)")
	flags.String("persist", "", "Persistence backend: none|jsonl|postgres (default from config)")

	return cmd
}

// scanConfigFromFlags applies explicitly set flags over the file config
func scanConfigFromFlags(flags *pflag.FlagSet, base scan.Config) scan.Config {
	if flags.Changed("target-dte") {
		base.TargetDTE, _ = flags.GetInt("target-dte")
	}
	if flags.Changed("concurrency") {
		base.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("timeout") {
		base.TickerTimeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("min-return") {
		base.MinReturn, _ = flags.GetFloat64("min-return")
	}
	if flags.Changed("delta-min") {
		base.DeltaRange.Min, _ = flags.GetFloat64("delta-min")
	}
	if flags.Changed("delta-max") {
		base.DeltaRange.Max, _ = flags.GetFloat64("delta-max")
	}
	return base
}

// applyConfigFlags applies explicitly set flags that change how providers,
// the watchlist and persistence are built
func applyConfigFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	if flags.Changed("min-dte") {
		cfg.Scan.DTEWindow.MinDTE, _ = flags.GetInt("min-dte")
	}
	if flags.Changed("max-dte") {
		cfg.Scan.DTEWindow.MaxDTE, _ = flags.GetInt("max-dte")
	}
	if flags.Changed("watchlist") {
		cfg.Watchlist.Path, _ = flags.GetString("watchlist")
	}
	if flags.Changed("max-price") {
		cfg.Watchlist.MaxPrice, _ = flags.GetFloat64("max-price")
	}
	if flags.Changed("provider") {
		cfg.Providers.Market.Kind, _ = flags.GetString("provider")
	}
	if flags.Changed("persist") {
		cfg.Persistence.Kind, _ = flags.GetString("persist")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func runScan(cmd *cobra.Command, root *rootOptions, opts *scanOptions) error {
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if err := applyConfigFlags(cmd.Flags(), root.cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, root.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	tickers, err := a.tickers(ctx, opts.tickers)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		log.Warn().Msg("Watchlist is empty, nothing to scan")
	}

	var scanOpts []scan.Option
	var progress *plog.ProgressIndicator
	if opts.progress && term.IsTerminal(int(os.Stderr.Fd())) {
		progress = plog.NewProgressIndicator(os.Stderr, "Loading underlyings", len(tickers), plog.DefaultProgressConfig())
		scanOpts = append(scanOpts, scan.WithProgress(progress.Observe))
	}

	scanner, err := a.scanner(scanConfigFromFlags(cmd.Flags(), root.cfg.Scan.Scanner()), scanOpts...)
	if err != nil {
		return err
	}

	result := scanner.Scan(ctx, tickers)
	if progress != nil {
		if ctx.Err() != nil {
			progress.Fail(ctx.Err().Error())
		} else {
			progress.Finish()
		}
	}

	renderer := report.NewRenderer(cmd.OutOrStdout(), format, root.verbose)
	if err := renderer.Render(result); err != nil {
		return fmt.Errorf("failed to render results: %w", err)
	}
	return nil
}
