package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sawpanic/putrun/internal/pricing"
)

// SyntheticProvider generates deterministic market data per ticker for
// offline scans and demos. No network access.
type SyntheticProvider struct {
	Rate        float64         // rate used to price the synthetic chains
	Weeks       int             // number of weekly expirations to list
	Unavailable map[string]bool // tickers that behave as delisted
	now         func() time.Time
}

// NewSyntheticProvider creates a synthetic provider with twelve weekly expirations
func NewSyntheticProvider(unavailable ...string) *SyntheticProvider {
	set := make(map[string]bool, len(unavailable))
	for _, t := range unavailable {
		set[strings.ToUpper(t)] = true
	}
	return &SyntheticProvider{
		Rate:        0.04,
		Weeks:       12,
		Unavailable: set,
		now:         time.Now,
	}
}

// SetClock overrides the clock used to list expirations and price chains
func (s *SyntheticProvider) SetClock(now func() time.Time) {
	s.now = now
}

// Name returns the provider name
func (s *SyntheticProvider) Name() string {
	return "synthetic"
}

// GetLastClose returns the deterministic spot for the ticker
func (s *SyntheticProvider) GetLastClose(ctx context.Context, ticker string) (float64, error) {
	if err := s.check(ctx, ticker); err != nil {
		return 0, err
	}
	spot, _ := s.profile(ticker)
	return spot, nil
}

// GetAvailableExpirations lists the next weekly Friday expirations
func (s *SyntheticProvider) GetAvailableExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	if err := s.check(ctx, ticker); err != nil {
		return nil, err
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, (int(time.Friday)-int(today.Weekday())+7)%7)
	if !first.After(today) {
		first = first.AddDate(0, 0, 7)
	}

	expirations := make([]time.Time, 0, s.Weeks)
	for i := 0; i < s.Weeks; i++ {
		expirations = append(expirations, first.AddDate(0, 0, 7*i))
	}
	return expirations, nil
}

// GetOptionChain prices strikes from 70% to 110% of spot in 2.5% steps
func (s *SyntheticProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time, side Side) ([]OptionQuote, error) {
	if err := s.check(ctx, ticker); err != nil {
		return nil, err
	}

	spot, sigma := s.profile(ticker)
	years := expiration.Sub(s.now()).Hours() / 24 / pricing.DaysPerYear
	if years < 0 {
		return nil, nil
	}

	kind := pricing.Put
	if side == SideCall {
		kind = pricing.Call
	}

	var quotes []OptionQuote
	for pct := 0.70; pct <= 1.1001; pct += 0.025 {
		strike := math.Round(spot*pct*2) / 2
		price, err := pricing.Price(kind, spot, strike, years, s.Rate, sigma)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, OptionQuote{
			Strike:     strike,
			LastPrice:  math.Round(price*100) / 100,
			InTheMoney: (kind == pricing.Put && strike > spot) || (kind == pricing.Call && strike < spot),
		})
	}
	return quotes, nil
}

// GetHistoricalCloses returns a seeded random walk ending at the spot
func (s *SyntheticProvider) GetHistoricalCloses(ctx context.Context, ticker string, lookback time.Duration) ([]float64, error) {
	if err := s.check(ctx, ticker); err != nil {
		return nil, err
	}

	spot, sigma := s.profile(ticker)
	days := int(lookback.Hours() / 24)
	if days < 3 {
		days = 3
	}

	rng := rand.New(rand.NewSource(int64(seed(ticker))))
	daily := sigma / math.Sqrt(pricing.DaysPerYear)

	closes := make([]float64, days)
	closes[days-1] = spot
	for i := days - 2; i >= 0; i-- {
		closes[i] = closes[i+1] / (1 + rng.NormFloat64()*daily)
	}
	return closes, nil
}

func (s *SyntheticProvider) check(ctx context.Context, ticker string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ticker == "" || s.Unavailable[strings.ToUpper(ticker)] {
		return fmt.Errorf("%w: unknown symbol %q", ErrNoData, ticker)
	}
	return nil
}

// profile derives spot and annualized volatility from the symbol hash
func (s *SyntheticProvider) profile(ticker string) (spot, sigma float64) {
	h := seed(ticker)
	spot = 20 + float64(h%18000)/100
	sigma = 0.18 + float64((h/18000)%35)/100
	return spot, sigma
}

func seed(ticker string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToUpper(ticker)))
	return h.Sum32()
}
