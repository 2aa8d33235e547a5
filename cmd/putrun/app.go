package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/cache"
	"github.com/sawpanic/putrun/internal/config"
	"github.com/sawpanic/putrun/internal/infrastructure/db"
	httpapi "github.com/sawpanic/putrun/internal/interfaces/http"
	"github.com/sawpanic/putrun/internal/market"
	"github.com/sawpanic/putrun/internal/metrics"
	"github.com/sawpanic/putrun/internal/net/budget"
	"github.com/sawpanic/putrun/internal/net/circuit"
	"github.com/sawpanic/putrun/internal/net/ratelimit"
	"github.com/sawpanic/putrun/internal/persistence"
	"github.com/sawpanic/putrun/internal/persistence/jsonl"
	"github.com/sawpanic/putrun/internal/rates"
	"github.com/sawpanic/putrun/internal/scan"
	"github.com/sawpanic/putrun/internal/watchlist"
)

// app holds the providers and stores shared by every command
type app struct {
	cfg      *config.Config
	metrics  *metrics.Registry
	limiter  *ratelimit.Limiter
	breakers *circuit.Manager
	budget   *budget.Tracker
	market   market.Provider
	rates    rates.Provider
	repo     *persistence.Repository
	health   persistence.RepositoryHealth
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		metrics: metrics.NewRegistry(),
	}

	responses := cache.New(cfg.Cache.RedisAddr, cfg.Cache.Prefix+":")
	a.limiter = ratelimit.NewLimiter(cfg.Providers.Market.RPS, cfg.Providers.Market.Burst)
	a.market = a.buildMarket(responses)
	a.rates = a.buildRates(responses)

	if err := a.buildRepository(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) buildMarket(responses cache.Cache) market.Provider {
	mc := a.cfg.Providers.Market

	var inner market.Provider
	switch mc.Kind {
	case config.MarketSynthetic:
		inner = market.NewSyntheticProvider()
	default:
		if mc.APIKey() == "" {
			log.Warn().Str("env", mc.APIKeyEnv).Msg("Market API key not set, requests will likely be rejected")
		}
		inner = market.NewMassiveProvider(market.MassiveConfig{
			BaseURL:    mc.BaseURL,
			APIKey:     mc.APIKey(),
			Timeout:    mc.Timeout,
			MaxRetries: mc.MaxRetries,
			Backoff:    mc.Backoff,
		})
	}

	a.breakers = circuit.NewManager(a.metrics.RecordCircuitState, func(err error) bool {
		return errors.Is(err, market.ErrNoData)
	})
	a.breakers.AddProvider(inner.Name(), circuit.Config{
		ConsecutiveFailures: mc.Circuit.ConsecutiveFailures,
		OpenTimeout:         mc.Circuit.OpenTimeout,
		HalfOpenRequests:    1,
	})
	a.budget = budget.NewTracker(inner.Name(), mc.DailyBudget, mc.BudgetResetHour)

	log.Info().
		Str("provider", inner.Name()).
		Float64("rps", mc.RPS).
		Int64("daily_budget", mc.DailyBudget).
		Dur("cache_ttl", mc.CacheTTL).
		Msg("Market data provider configured")

	return market.NewGuarded(inner, market.GuardConfig{
		Limiter:  a.limiter,
		Breakers: a.breakers,
		Budget:   a.budget,
		Cache:    responses,
		CacheTTL: mc.CacheTTL,
		Recorder: a.metrics,
	})
}

func (a *app) buildRates(responses cache.Cache) rates.Provider {
	rc := a.cfg.Providers.Rate
	if rc.Kind == config.RateFixed {
		log.Info().Float64("rate", rc.FixedRate).Msg("Using fixed risk-free rate")
		return rates.NewFixedProvider(rc.FixedRate)
	}

	a.limiter.Configure("treasury", 1, 2)
	return rates.NewTreasuryProvider(rates.TreasuryConfig{
		BaseURL:  rc.BaseURL,
		Timeout:  rc.Timeout,
		Limiter:  a.limiter,
		Cache:    responses,
		CacheTTL: rc.CacheTTL,
	})
}

func (a *app) buildRepository(ctx context.Context) error {
	pc := a.cfg.Persistence
	switch pc.Kind {
	case config.PersistJSONL:
		store := jsonl.NewStore(pc.Dir)
		a.repo = store.Repository()
		log.Info().Str("dir", pc.Dir).Msg("Persisting scans to JSONL")
	case config.PersistPostgres:
		manager, err := db.NewManager(ctx, pc.DB())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.repo = manager.Repository()
		a.health = manager.Health()
		a.closers = append(a.closers, manager.Close)
		log.Info().Msg("Persisting scans to PostgreSQL")
	}
	return nil
}

// scanner builds a scanner over the configured providers
func (a *app) scanner(sc scan.Config, opts ...scan.Option) (*scan.Scanner, error) {
	analyzer := scan.NewModelAnalyzer(a.market, a.rates, a.cfg.Scan.Underlying())
	opts = append([]scan.Option{scan.WithMetrics(a.metrics), scan.WithRepository(a.repo)}, opts...)
	return scan.NewScanner(analyzer, sc, opts...)
}

// tickers resolves the watchlist: explicit tickers win over the configured
// file, which wins over the built-in list. max_price drops expensive
// underlyings by last close.
func (a *app) tickers(ctx context.Context, explicit []string) ([]string, error) {
	wc := a.cfg.Watchlist

	var tickers []string
	switch {
	case len(explicit) > 0:
		parsed, err := watchlist.Parse(strings.NewReader(strings.Join(explicit, "\n")))
		if err != nil {
			return nil, err
		}
		tickers = parsed
	case wc.Path != "":
		loaded, err := watchlist.Load(wc.Path, wc.Filter())
		if err != nil {
			return nil, fmt.Errorf("failed to load watchlist: %w", err)
		}
		tickers = loaded
	default:
		tickers = append([]string(nil), watchlist.Default...)
	}

	if wc.MaxPrice > 0 {
		tickers = watchlist.FilterByLastClose(ctx, tickers, a.market, wc.MaxPrice)
	}
	return tickers, nil
}

func (a *app) Close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
}

// providerStatus reports breaker, limiter and budget state per provider
func (a *app) providerStatus() []httpapi.ProviderStatus {
	limits := a.limiter.Stats()

	var statuses []httpapi.ProviderStatus
	for _, name := range []string{a.market.Name(), "treasury"} {
		if name == "treasury" && a.cfg.Providers.Rate.Kind != config.RateTreasury {
			continue
		}
		status := httpapi.ProviderStatus{
			Name:      name,
			Circuit:   a.breakers.State(name).String(),
			Throttled: limits[name].IsThrottled() && limits[name].Key != "",
		}
		if name == a.market.Name() {
			stats := a.budget.Stats()
			status.Budget = &stats
		}
		statuses = append(statuses, status)
	}
	return statuses
}
