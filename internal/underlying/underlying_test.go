package underlying

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/putrun/internal/market"
	"github.com/sawpanic/putrun/internal/pricing"
	"github.com/sawpanic/putrun/internal/rates"
)

var testNow = time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

type fakeMarket struct {
	spot       float64
	spotErr    error
	exps       []time.Time
	expErr     error
	chains     map[string][]market.OptionQuote
	chainErr   error
	closes     []float64
	chainCalls []string
}

func (f *fakeMarket) Name() string { return "fake" }

func (f *fakeMarket) GetLastClose(ctx context.Context, ticker string) (float64, error) {
	return f.spot, f.spotErr
}

func (f *fakeMarket) GetAvailableExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	return f.exps, f.expErr
}

func (f *fakeMarket) GetOptionChain(ctx context.Context, ticker string, expiration time.Time, side market.Side) ([]market.OptionQuote, error) {
	key := market.FormatDate(expiration)
	f.chainCalls = append(f.chainCalls, key)
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return f.chains[key], nil
}

func (f *fakeMarket) GetHistoricalCloses(ctx context.Context, ticker string, lookback time.Duration) ([]float64, error) {
	return f.closes, nil
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		spot: 30,
		exps: []time.Time{day(10), day(25), day(32), day(50), day(51)},
		chains: map[string][]market.OptionQuote{
			market.FormatDate(day(25)): {{Strike: 27, LastPrice: 0.20}, {Strike: 29, LastPrice: 0.55}},
			market.FormatDate(day(32)): {{Strike: 26, LastPrice: 0.18}, {Strike: 28, LastPrice: 0.45}, {Strike: 31, LastPrice: 1.60, InTheMoney: true}},
			market.FormatDate(day(50)): {{Strike: 27, LastPrice: 0.60}},
		},
		closes: []float64{29.1, 29.5, 29.2, 30.1, 29.8, 30.4, 30},
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return testNow }
	return opts
}

func TestConstruct_PartitionsExpirations(t *testing.T) {
	md := newFakeMarket()

	u, err := Construct(context.Background(), " ohi ", testOptions(), md, rates.NewFixedProvider(0.05))
	require.NoError(t, err)

	assert.Equal(t, "OHI", u.Ticker)
	assert.Equal(t, StateLoaded, u.State())
	assert.Equal(t, 30.0, u.Spot)
	assert.Equal(t, 0.05, u.RiskFreeRate)
	assert.Greater(t, u.Volatility, 0.0)

	available := u.AvailableExpirations()
	require.Len(t, available, 5)
	assert.Equal(t, []int{10, 25, 32, 50, 51}, dtes(available))

	considered := u.ConsideredExpirations()
	assert.Equal(t, []int{25, 32, 50}, dtes(considered))
	assert.Equal(t, []string{"2024-05-26", "2024-06-02", "2024-06-20"}, md.chainCalls)

	puts, err := u.Puts(day(32))
	require.NoError(t, err)
	assert.Len(t, puts, 3)
	assert.True(t, puts[2].InTheMoney)

	_, err = u.Puts(day(10))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestConstruct_SortsAndDeduplicatesExpirations(t *testing.T) {
	md := newFakeMarket()
	md.exps = []time.Time{day(32), day(25), day(32).Add(16 * time.Hour), day(10)}

	u, err := Construct(context.Background(), "OHI", testOptions(), md, rates.NewFixedProvider(0.05))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 25, 32}, dtes(u.AvailableExpirations()))
}

func TestConstruct_Failures(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*fakeMarket)
		unavailable bool
	}{
		{"unknown symbol", func(f *fakeMarket) { f.spotErr = market.ErrNoData }, true},
		{"non-positive close", func(f *fakeMarket) { f.spot = 0 }, true},
		{"no expirations", func(f *fakeMarket) { f.exps = nil }, true},
		{"expirations not found", func(f *fakeMarket) { f.expErr = market.ErrNoData }, true},
		{"all chains empty", func(f *fakeMarket) { f.chains = nil }, true},
		{"all chains missing", func(f *fakeMarket) { f.chainErr = market.ErrNoData }, true},
		{"too few closes", func(f *fakeMarket) { f.closes = []float64{30, 31} }, true},
		{"transport failure", func(f *fakeMarket) {
			f.spotErr = &market.ProviderError{Provider: "fake", Op: market.OpLastClose, StatusCode: 502}
		}, false},
		{"chain transport failure", func(f *fakeMarket) {
			f.chainErr = &market.ProviderError{Provider: "fake", Op: market.OpOptionChain, StatusCode: 500}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := newFakeMarket()
			tt.mutate(md)

			u, err := Construct(context.Background(), "OHI", testOptions(), md, rates.NewFixedProvider(0.05))
			require.Error(t, err)
			assert.Nil(t, u)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrDataUnavailable), err.Error())
		})
	}
}

func TestConstruct_PartiallyEmptyChains(t *testing.T) {
	md := newFakeMarket()
	delete(md.chains, market.FormatDate(day(25)))

	u, err := Construct(context.Background(), "OHI", testOptions(), md, rates.NewFixedProvider(0.05))
	require.NoError(t, err)

	puts, err := u.Puts(day(25))
	require.NoError(t, err)
	assert.Empty(t, puts)
}

func TestConstruct_NoConsideredExpirations(t *testing.T) {
	md := newFakeMarket()
	md.exps = []time.Time{day(5), day(90)}

	u, err := Construct(context.Background(), "OHI", testOptions(), md, rates.NewFixedProvider(0.05))
	require.NoError(t, err)
	require.NoError(t, u.InitializeGreeksAndProfitability())

	exp, err := u.GetExpirationClosestTo(40)
	require.NoError(t, err)
	assert.Equal(t, 5, exp.DTE)

	_, err = u.GetAvgAnnualizedReturn(exp.Date, DefaultDeltaRange())
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestConstruct_RejectsBadArguments(t *testing.T) {
	md := newFakeMarket()

	_, err := Construct(context.Background(), "  ", testOptions(), md, rates.NewFixedProvider(0.05))
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	opts := testOptions()
	opts.Window = Window{MinDTE: 0, MaxDTE: 50}
	_, err = Construct(context.Background(), "OHI", opts, md, rates.NewFixedProvider(0.05))
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = Construct(context.Background(), "OHI", testOptions(), md, rates.NewFixedProvider(2))
	assert.True(t, errors.Is(err, rates.ErrInvalidRate))
}

func TestInitialize_ReferenceScenario(t *testing.T) {
	exp := day(32)
	sigma := 0.015648686525647205 * math.Sqrt(365)
	u := &Underlying{
		Ticker:       "REF",
		Spot:         172.17,
		Volatility:   sigma,
		RiskFreeRate: 0.01767,
		Window:       DefaultWindow(),
		state:        StateLoaded,
		available:    []Expiration{{Date: exp, DTE: 32}},
		considered:   []Expiration{{Date: exp, DTE: 32}},
		chains: map[string][]Put{
			market.FormatDate(exp): {{Strike: 145, LastPrice: 0.35}},
		},
	}

	require.NoError(t, u.InitializeGreeksAndProfitability())
	assert.Equal(t, StateAnalyzed, u.State())

	puts, err := u.Puts(exp)
	require.NoError(t, err)
	require.Len(t, puts, 1)

	assert.InDelta(t, 0.022645920427059485, puts[0].Delta, 1e-6)
	want := (0.35 / 145) * (1 - puts[0].Delta) / 32 * 365
	assert.InDelta(t, want, puts[0].AnnualizedReturn, 1e-12)
}

func TestInitialize_MatchesPricing(t *testing.T) {
	u, err := Construct(context.Background(), "OHI", testOptions(), newFakeMarket(), rates.NewFixedProvider(0.05))
	require.NoError(t, err)
	require.NoError(t, u.InitializeGreeksAndProfitability())

	for _, exp := range u.ConsideredExpirations() {
		puts, err := u.Puts(exp.Date)
		require.NoError(t, err)
		for _, p := range puts {
			want, err := pricing.PutDeltaMagnitude(u.Spot, p.Strike, exp.DTE, u.RiskFreeRate, u.Volatility)
			require.NoError(t, err)
			assert.Equal(t, want, p.Delta)
			assert.GreaterOrEqual(t, p.Delta, 0.0)
			assert.LessOrEqual(t, p.Delta, 1.0)
			assert.Equal(t, AnnualizedReturn(p.LastPrice, p.Strike, p.Delta, exp.DTE), p.AnnualizedReturn)
		}
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	u, err := Construct(context.Background(), "OHI", testOptions(), newFakeMarket(), rates.NewFixedProvider(0.05))
	require.NoError(t, err)

	require.NoError(t, u.InitializeGreeksAndProfitability())
	first, err := u.Puts(day(32))
	require.NoError(t, err)
	avg1, err1 := u.GetAvgAnnualizedReturn(day(32), DeltaRange{Min: 0, Max: 1})
	avg2, err2 := u.GetAvgAnnualizedReturn(day(32), DeltaRange{Min: 0, Max: 1})

	require.NoError(t, u.InitializeGreeksAndProfitability())
	second, err := u.Puts(day(32))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, avg1, avg2)
}

func TestInitialize_NumericDomainKeepsState(t *testing.T) {
	md := newFakeMarket()
	md.chains[market.FormatDate(day(32))] = append(md.chains[market.FormatDate(day(32))], market.OptionQuote{Strike: 0, LastPrice: 1})

	u, err := Construct(context.Background(), "OHI", testOptions(), md, rates.NewFixedProvider(0.05))
	require.NoError(t, err)

	err = u.InitializeGreeksAndProfitability()
	require.Error(t, err)
	assert.True(t, errors.Is(err, pricing.ErrNumericDomain))
	assert.Equal(t, StateLoaded, u.State())

	_, err = u.GetAvgAnnualizedReturn(day(32), DefaultDeltaRange())
	assert.True(t, errors.Is(err, ErrNotAnalyzed))
}

func analyzedFixture() *Underlying {
	exp := day(32)
	return &Underlying{
		Ticker:     "MPW",
		Window:     DefaultWindow(),
		state:      StateAnalyzed,
		available:  []Expiration{{Date: exp, DTE: 32}},
		considered: []Expiration{{Date: exp, DTE: 32}},
		chains: map[string][]Put{
			market.FormatDate(exp): {
				{Strike: 4, Delta: 0.05, AnnualizedReturn: 0.90},
				{Strike: 4.5, Delta: 0.10, AnnualizedReturn: 0.20},
				{Strike: 5, Delta: 0.22, AnnualizedReturn: 0.30},
				{Strike: 5.5, Delta: 0.30, AnnualizedReturn: 0.16},
				{Strike: 6, Delta: 0.31, AnnualizedReturn: 0.70},
			},
		},
	}
}

func TestGetAvgAnnualizedReturn_InclusiveRange(t *testing.T) {
	u := analyzedFixture()

	avg, err := u.GetAvgAnnualizedReturn(day(32), DefaultDeltaRange())
	require.NoError(t, err)
	assert.InDelta(t, 0.22, avg, 1e-12)
	assert.Equal(t, 3, u.QualifyingCount(day(32), DefaultDeltaRange()))
}

func TestGetAvgAnnualizedReturn_Errors(t *testing.T) {
	u := analyzedFixture()

	_, err := u.GetAvgAnnualizedReturn(day(32), DeltaRange{Min: 0.5, Max: 0.9})
	assert.True(t, errors.Is(err, ErrNoQualifyingOptions))

	_, err = u.GetAvgAnnualizedReturn(day(33), DefaultDeltaRange())
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = u.GetAvgAnnualizedReturn(day(32), DeltaRange{Min: 0.4, Max: 0.2})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	u.state = StateLoaded
	_, err = u.GetAvgAnnualizedReturn(day(32), DefaultDeltaRange())
	assert.True(t, errors.Is(err, ErrNotAnalyzed))
}

func TestGetExpirationClosestTo(t *testing.T) {
	u := &Underlying{
		available: []Expiration{
			{Date: day(18), DTE: 18},
			{Date: day(35), DTE: 35},
			{Date: day(45), DTE: 45},
			{Date: day(63), DTE: 63},
		},
	}

	tests := []struct {
		target int
		want   int
	}{
		{40, 35}, // tie between 35 and 45 goes to the earlier date
		{44, 45},
		{0, 18},
		{100, 63},
		{26, 18},
		{27, 35},
	}

	for _, tt := range tests {
		exp, err := u.GetExpirationClosestTo(tt.target)
		require.NoError(t, err)
		assert.Equal(t, tt.want, exp.DTE, "target %d", tt.target)
		assert.Contains(t, u.AvailableExpirations(), exp)
	}

	_, err := (&Underlying{}).GetExpirationClosestTo(40)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
}

func TestWindowAndRangeValidation(t *testing.T) {
	assert.NoError(t, DefaultWindow().Validate())
	assert.Error(t, Window{MinDTE: 30, MaxDTE: 20}.Validate())
	assert.True(t, DefaultWindow().Contains(25))
	assert.True(t, DefaultWindow().Contains(50))
	assert.False(t, DefaultWindow().Contains(51))

	assert.NoError(t, DefaultDeltaRange().Validate())
	assert.Error(t, DeltaRange{Min: -0.1, Max: 0.3}.Validate())
	assert.Error(t, DeltaRange{Min: 0.1, Max: 1.2}.Validate())
	assert.True(t, DefaultDeltaRange().Contains(0.1))
	assert.True(t, DefaultDeltaRange().Contains(0.3))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "loaded", StateLoaded.String())
	assert.Equal(t, "analyzed", StateAnalyzed.String())
	assert.Equal(t, "uninitialized", State(0).String())
}

func dtes(exps []Expiration) []int {
	out := make([]int, len(exps))
	for i, e := range exps {
		out[i] = e.DTE
	}
	return out
}
