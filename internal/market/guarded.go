package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/cache"
	"github.com/sawpanic/putrun/internal/net/budget"
	"github.com/sawpanic/putrun/internal/net/circuit"
	"github.com/sawpanic/putrun/internal/net/ratelimit"
)

// Operation names used in cache keys, logs and metrics
const (
	OpLastClose   = "last_close"
	OpExpirations = "expirations"
	OpOptionChain = "option_chain"
	OpHistory     = "history"
)

// Recorder receives provider call telemetry
type Recorder interface {
	RecordProviderCall(provider, op, result string, latency time.Duration)
	RecordCacheHit(op string)
	RecordCacheMiss(op string)
}

// GuardConfig wires the protections applied around a provider. Every field
// is optional.
type GuardConfig struct {
	Limiter  *ratelimit.Limiter
	Breakers *circuit.Manager
	Budget   *budget.Tracker
	Cache    cache.Cache
	CacheTTL time.Duration
	Recorder Recorder
}

// Guarded decorates a Provider with response caching, a daily request
// budget, rate limiting and a circuit breaker
type Guarded struct {
	inner Provider
	cfg   GuardConfig
}

// NewGuarded wraps inner
func NewGuarded(inner Provider, cfg GuardConfig) *Guarded {
	return &Guarded{inner: inner, cfg: cfg}
}

// Name returns the wrapped provider's name
func (g *Guarded) Name() string {
	return g.inner.Name()
}

// GetLastClose returns the most recent close of the underlying
func (g *Guarded) GetLastClose(ctx context.Context, ticker string) (float64, error) {
	return guard(ctx, g, OpLastClose, g.cacheKey(OpLastClose, ticker), func(ctx context.Context) (float64, error) {
		return g.inner.GetLastClose(ctx, ticker)
	})
}

// GetAvailableExpirations returns option expirations in chronological order
func (g *Guarded) GetAvailableExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	return guard(ctx, g, OpExpirations, g.cacheKey(OpExpirations, ticker), func(ctx context.Context) ([]time.Time, error) {
		return g.inner.GetAvailableExpirations(ctx, ticker)
	})
}

// GetOptionChain returns the chain snapshot for one expiration
func (g *Guarded) GetOptionChain(ctx context.Context, ticker string, expiration time.Time, side Side) ([]OptionQuote, error) {
	key := g.cacheKey(OpOptionChain, ticker, FormatDate(expiration), string(side))
	return guard(ctx, g, OpOptionChain, key, func(ctx context.Context) ([]OptionQuote, error) {
		return g.inner.GetOptionChain(ctx, ticker, expiration, side)
	})
}

// GetHistoricalCloses returns daily closes over the lookback window
func (g *Guarded) GetHistoricalCloses(ctx context.Context, ticker string, lookback time.Duration) ([]float64, error) {
	key := g.cacheKey(OpHistory, ticker, lookback.String())
	return guard(ctx, g, OpHistory, key, func(ctx context.Context) ([]float64, error) {
		return g.inner.GetHistoricalCloses(ctx, ticker, lookback)
	})
}

func (g *Guarded) cacheKey(op string, args ...string) string {
	return fmt.Sprintf("%s:%s:%s", g.inner.Name(), op, strings.Join(args, ":"))
}

func guard[T any](ctx context.Context, g *Guarded, op, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	provider := g.inner.Name()

	if g.cfg.Cache != nil {
		if raw, ok := g.cfg.Cache.Get(ctx, key); ok {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				g.recordCache(op, true)
				return cached, nil
			}
			log.Debug().Str("key", key).Msg("discarding undecodable cache entry")
		}
		g.recordCache(op, false)
	}

	if err := g.cfg.Budget.Consume(); err != nil {
		g.record(provider, op, "budget_exhausted", 0)
		return zero, &ProviderError{Provider: provider, Op: op, Err: err}
	}

	if g.cfg.Limiter != nil {
		if err := g.cfg.Limiter.Wait(ctx, provider); err != nil {
			g.record(provider, op, "rate_limited", 0)
			return zero, fmt.Errorf("%s %s: rate limiter: %w", provider, op, err)
		}
	}

	var result T
	call := func(ctx context.Context) error {
		var err error
		result, err = fetch(ctx)
		return err
	}

	start := time.Now()
	var err error
	if g.cfg.Breakers != nil {
		err = g.cfg.Breakers.Execute(ctx, provider, call)
	} else {
		err = call(ctx)
	}
	latency := time.Since(start)

	switch {
	case err == nil:
		g.record(provider, op, "ok", latency)
	case errors.Is(err, ErrNoData):
		g.record(provider, op, "no_data", latency)
		return zero, err
	case errors.Is(err, circuit.ErrOpen):
		g.record(provider, op, "circuit_open", latency)
		return zero, &ProviderError{Provider: provider, Op: op, Err: err}
	default:
		g.record(provider, op, "error", latency)
		return zero, err
	}

	if g.cfg.Cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			g.cfg.Cache.Set(ctx, key, raw, g.cfg.CacheTTL)
		}
	}
	return result, nil
}

func (g *Guarded) record(provider, op, result string, latency time.Duration) {
	if g.cfg.Recorder != nil {
		g.cfg.Recorder.RecordProviderCall(provider, op, result, latency)
	}
}

func (g *Guarded) recordCache(op string, hit bool) {
	if g.cfg.Recorder == nil {
		return
	}
	if hit {
		g.cfg.Recorder.RecordCacheHit(op)
	} else {
		g.cfg.Recorder.RecordCacheMiss(op)
	}
}
