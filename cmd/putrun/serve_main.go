package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/sawpanic/putrun/internal/interfaces/http"
	"github.com/sawpanic/putrun/internal/persistence"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr        string
		scanTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scans, health and metrics over HTTP",
		Long: `Starts an HTTP server with:
  GET  /health       provider, persistence and runtime status
  GET  /metrics      Prometheus metrics
  POST /scan         run a scan (optional body {"tickers": [...]})
  GET  /scan/latest  most recent ranking`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = root.cfg.Server.Addr
			}
			return runServe(root, addr, scanTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 5*time.Minute, "Maximum duration of one POST /scan")
	return cmd
}

func runServe(root *rootOptions, addr string, scanTimeout time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, root.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	scanner, err := a.scanner(root.cfg.Scan.Scanner())
	if err != nil {
		return err
	}

	var rankings persistence.RankingRepo
	if a.repo != nil {
		rankings = a.repo.Rankings
	}

	cfg := httpapi.DefaultServerConfig()
	cfg.Addr = addr
	cfg.ScanTimeout = scanTimeout

	server, err := httpapi.NewServer(cfg, httpapi.Deps{
		Scanner:   scanner,
		Tickers:   a.tickers,
		Rankings:  rankings,
		Health:    a.health,
		Metrics:   a.metrics.Handler(),
		Providers: a.providerStatus,
		Version:   version,
	})
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("health", fmt.Sprintf("http://%s/health", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Str("scan", fmt.Sprintf("http://%s/scan", addr)).
			Msg("Endpoints available")

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
		return err
	}

	log.Info().Msg("Server shutdown complete")
	return nil
}
