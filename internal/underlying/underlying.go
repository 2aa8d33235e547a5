// Package underlying models one equity's put chains within a DTE window and
// derives delta and annualized cash-secured put returns for each contract.
package underlying

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/market"
	"github.com/sawpanic/putrun/internal/pricing"
	"github.com/sawpanic/putrun/internal/rates"
)

// State is the model lifecycle stage
type State int

const (
	// StateLoaded means market data is loaded but no derived fields exist
	StateLoaded State = iota + 1
	// StateAnalyzed means every considered put carries delta and return
	StateAnalyzed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateAnalyzed:
		return "analyzed"
	default:
		return "uninitialized"
	}
}

// Expiration is an expiration date with its DTE at construction time.
// DTE counts UTC calendar days, so after midnight it is one more than the
// floor of (expiration - now) in days, which shifts the window edges.
type Expiration struct {
	Date time.Time `json:"date"`
	DTE  int       `json:"dte"`
}

// Put is one contract of a considered expiration. Delta and
// AnnualizedReturn are zero until the underlying is analyzed.
type Put struct {
	Strike           float64 `json:"strike"`
	LastPrice        float64 `json:"last_price"`
	InTheMoney       bool    `json:"in_the_money"`
	Delta            float64 `json:"delta"`
	AnnualizedReturn float64 `json:"annualized_return"`
}

// Options controls how an Underlying is loaded
type Options struct {
	Window             Window
	VolatilityLookback time.Duration
	PeriodsPerYear     float64
	Now                func() time.Time
}

// DefaultOptions returns a 25-50 DTE window with a one-year daily
// volatility estimate
func DefaultOptions() Options {
	return Options{
		Window:             DefaultWindow(),
		VolatilityLookback: 365 * 24 * time.Hour,
		PeriodsPerYear:     365,
	}
}

// Underlying holds one ticker's snapshot and, once analyzed, the derived
// fields of every considered put
type Underlying struct {
	Ticker       string
	Spot         float64
	Volatility   float64
	RiskFreeRate float64
	Window       Window

	state      State
	asOf       time.Time
	available  []Expiration
	considered []Expiration
	chains     map[string][]Put
}

// Construct loads spot, expirations, put chains for considered expirations,
// historical volatility and the risk-free rate
func Construct(ctx context.Context, ticker string, opts Options, md market.Provider, rp rates.Provider) (*Underlying, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrInvalidArgument)
	}
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = DefaultOptions().PeriodsPerYear
	}
	if opts.VolatilityLookback <= 0 {
		opts.VolatilityLookback = DefaultOptions().VolatilityLookback
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	u := &Underlying{
		Ticker: ticker,
		Window: opts.Window,
		asOf:   now(),
		chains: make(map[string][]Put),
	}

	spot, err := md.GetLastClose(ctx, ticker)
	if err != nil {
		return nil, dataErr(ticker, "last close", err)
	}
	if spot <= 0 {
		return nil, fmt.Errorf("%w: %s last close is not positive: %v", ErrDataUnavailable, ticker, spot)
	}
	u.Spot = spot

	dates, err := md.GetAvailableExpirations(ctx, ticker)
	if err != nil {
		return nil, dataErr(ticker, "expirations", err)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: %s has no option expirations", ErrDataUnavailable, ticker)
	}
	u.setExpirations(dates)

	loaded := 0
	for _, exp := range u.considered {
		quotes, err := md.GetOptionChain(ctx, ticker, exp.Date, market.SidePut)
		if err != nil && !errors.Is(err, market.ErrNoData) {
			return nil, dataErr(ticker, "option chain "+market.FormatDate(exp.Date), err)
		}

		puts := make([]Put, 0, len(quotes))
		for _, q := range quotes {
			puts = append(puts, Put{Strike: q.Strike, LastPrice: q.LastPrice, InTheMoney: q.InTheMoney})
		}
		u.chains[market.FormatDate(exp.Date)] = puts
		if len(puts) > 0 {
			loaded++
		}
	}
	if len(u.considered) > 0 && loaded == 0 {
		return nil, fmt.Errorf("%w: %s returned empty put chains for all %d considered expirations",
			ErrDataUnavailable, ticker, len(u.considered))
	}

	closes, err := md.GetHistoricalCloses(ctx, ticker, opts.VolatilityLookback)
	if err != nil {
		return nil, dataErr(ticker, "historical closes", err)
	}
	vol, err := market.AnnualizedVolatility(closes, opts.PeriodsPerYear)
	if err != nil {
		return nil, fmt.Errorf("%w: %s volatility: %w", ErrDataUnavailable, ticker, err)
	}
	u.Volatility = vol

	rate, err := rp.GetCurrentRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s risk-free rate: %w", ticker, err)
	}
	u.RiskFreeRate = rate

	u.state = StateLoaded
	log.Debug().
		Str("ticker", ticker).
		Float64("spot", spot).
		Float64("volatility", vol).
		Int("available", len(u.available)).
		Int("considered", len(u.considered)).
		Msg("underlying loaded")

	return u, nil
}

// dataErr maps a provider's no-data answer onto ErrDataUnavailable and
// passes every other failure through
func dataErr(ticker, what string, err error) error {
	if errors.Is(err, market.ErrNoData) {
		return fmt.Errorf("%w: %s %s: %w", ErrDataUnavailable, ticker, what, err)
	}
	return fmt.Errorf("%s %s: %w", ticker, what, err)
}

// setExpirations computes DTE as whole calendar days from the construction
// date and partitions the dates into available and considered
func (u *Underlying) setExpirations(dates []time.Time) {
	y, m, d := u.asOf.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	seen := make(map[string]bool, len(dates))
	for _, date := range dates {
		ey, em, ed := date.Date()
		day := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
		key := market.FormatDate(day)
		if seen[key] {
			continue
		}
		seen[key] = true

		exp := Expiration{Date: day, DTE: int(day.Sub(today).Hours() / 24)}
		u.available = append(u.available, exp)
	}
	sort.SliceStable(u.available, func(i, j int) bool {
		return u.available[i].Date.Before(u.available[j].Date)
	})

	for _, exp := range u.available {
		if u.Window.Contains(exp.DTE) {
			u.considered = append(u.considered, exp)
		}
	}
}

// InitializeGreeksAndProfitability computes delta, then annualized return,
// for every considered put. Calling it again recomputes identical values.
// On error the model stays in its previous state.
func (u *Underlying) InitializeGreeksAndProfitability() error {
	if u.state == 0 {
		return fmt.Errorf("%w: %s was not constructed", ErrInvalidArgument, u.Ticker)
	}

	derived := make(map[string][]Put, len(u.chains))
	for _, exp := range u.considered {
		key := market.FormatDate(exp.Date)
		src := u.chains[key]
		puts := make([]Put, len(src))
		for i, p := range src {
			delta, err := pricing.PutDeltaMagnitude(u.Spot, p.Strike, exp.DTE, u.RiskFreeRate, u.Volatility)
			if err != nil {
				return fmt.Errorf("%s %s strike %v: %w", u.Ticker, key, p.Strike, err)
			}
			p.Delta = delta
			p.AnnualizedReturn = AnnualizedReturn(p.LastPrice, p.Strike, delta, exp.DTE)
			puts[i] = p
		}
		derived[key] = puts
	}

	u.chains = derived
	u.state = StateAnalyzed
	return nil
}

// AnnualizedReturn is the premium yield on the strike, scaled by the
// probability proxy (1 - delta) and normalized to 365 days
func AnnualizedReturn(lastPrice, strike, delta float64, dte int) float64 {
	return (lastPrice / strike) * (1 - delta) / float64(dte) * pricing.DaysPerYear
}

// GetAvgAnnualizedReturn averages the annualized return of the puts in
// expiration whose delta lies inside dr
func (u *Underlying) GetAvgAnnualizedReturn(expiration time.Time, dr DeltaRange) (float64, error) {
	if u.state != StateAnalyzed {
		return 0, fmt.Errorf("%w: %s is %s", ErrNotAnalyzed, u.Ticker, u.state)
	}
	if err := dr.Validate(); err != nil {
		return 0, err
	}

	key := market.FormatDate(expiration)
	if !u.isConsidered(key) {
		return 0, fmt.Errorf("%w: %s expiration %s is outside the %d-%d DTE window",
			ErrInvalidArgument, u.Ticker, key, u.Window.MinDTE, u.Window.MaxDTE)
	}

	sum := 0.0
	n := 0
	for _, p := range u.chains[key] {
		if dr.Contains(p.Delta) {
			sum += p.AnnualizedReturn
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s %s has no puts with delta in [%v, %v]",
			ErrNoQualifyingOptions, u.Ticker, key, dr.Min, dr.Max)
	}
	return sum / float64(n), nil
}

// GetExpirationClosestTo returns the available expiration whose DTE is
// nearest targetDTE, preferring the earlier date on ties
func (u *Underlying) GetExpirationClosestTo(targetDTE int) (Expiration, error) {
	if len(u.available) == 0 {
		return Expiration{}, fmt.Errorf("%w: %s has no expirations", ErrDataUnavailable, u.Ticker)
	}

	best := u.available[0]
	bestDiff := absInt(best.DTE - targetDTE)
	for _, exp := range u.available[1:] {
		if diff := absInt(exp.DTE - targetDTE); diff < bestDiff {
			best, bestDiff = exp, diff
		}
	}
	return best, nil
}

// QualifyingCount returns how many puts in expiration fall inside dr
func (u *Underlying) QualifyingCount(expiration time.Time, dr DeltaRange) int {
	if u.state != StateAnalyzed {
		return 0
	}
	n := 0
	for _, p := range u.chains[market.FormatDate(expiration)] {
		if dr.Contains(p.Delta) {
			n++
		}
	}
	return n
}

func (u *Underlying) isConsidered(key string) bool {
	for _, exp := range u.considered {
		if market.FormatDate(exp.Date) == key {
			return true
		}
	}
	return false
}

// State returns the lifecycle stage
func (u *Underlying) State() State {
	return u.state
}

// AsOf returns the construction time DTEs are measured from
func (u *Underlying) AsOf() time.Time {
	return u.asOf
}

// AvailableExpirations returns every expiration the provider listed, in
// chronological order
func (u *Underlying) AvailableExpirations() []Expiration {
	return append([]Expiration(nil), u.available...)
}

// ConsideredExpirations returns the expirations inside the DTE window
func (u *Underlying) ConsideredExpirations() []Expiration {
	return append([]Expiration(nil), u.considered...)
}

// Puts returns a copy of the puts loaded for a considered expiration
func (u *Underlying) Puts(expiration time.Time) ([]Put, error) {
	key := market.FormatDate(expiration)
	if !u.isConsidered(key) {
		return nil, fmt.Errorf("%w: %s expiration %s is not considered", ErrInvalidArgument, u.Ticker, key)
	}
	return append([]Put(nil), u.chains[key]...), nil
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
