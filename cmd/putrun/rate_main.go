package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/putrun/internal/report"
)

func newRateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate",
		Short: "Print the current risk-free rate",
		Long:  "Fetches the risk-free rate from the configured provider (Treasury Bills average or a fixed rate)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rate, err := a.rates.GetCurrentRate(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch risk-free rate: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Risk-free rate (%s): %s\n", root.cfg.Providers.Rate.Kind, report.Percent(rate))
			return nil
		},
	}
}
