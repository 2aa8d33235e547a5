package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/putrun/internal/config"
)

const (
	appName = "PutRun"
	version = "v1.0.0"
)

type rootOptions struct {
	configPath string
	verbose    bool
	logJSON    bool
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "putrun",
		Short:   "Cash-secured put yield scanner",
		Version: version,
		Long: `📈 PutRun ranks a watchlist of underlyings by the average annualized return
of selling cash-secured puts near a target days-to-expiration.

For every ticker it loads the spot price, put chains, historical volatility and
the risk-free rate, computes Black-Scholes put deltas and averages the return
of puts whose delta falls inside the configured band.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.verbose, opts.logJSON)

			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Msg("Failed to load .env file")
			}

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Path to YAML configuration")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging and failure details")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(newScanCmd(opts))
	rootCmd.AddCommand(newRateCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	})

	return rootCmd
}

func setupLogging(verbose, jsonLogs bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if jsonLogs {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}
