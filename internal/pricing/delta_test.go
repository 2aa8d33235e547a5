package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelta_PutReferenceScenario(t *testing.T) {
	sigma := 0.015648686525647205 * math.Sqrt(365)

	d, err := Delta(Put, 172.17, 145, YearsFromDTE(32), 0.01767, sigma)
	require.NoError(t, err)
	assert.InDelta(t, -0.022645920427059485, d, 1e-6)

	mag, err := PutDeltaMagnitude(172.17, 145, 32, 0.01767, sigma)
	require.NoError(t, err)
	assert.InDelta(t, 0.022645920427059485, mag, 1e-6)
}

func TestDelta_PutCallParity(t *testing.T) {
	call, err := Delta(Call, 100, 105, 0.25, 0.03, 0.4)
	require.NoError(t, err)
	put, err := Delta(Put, 100, 105, 0.25, 0.03, 0.4)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, call-put, 1e-12)
}

func TestDelta_PutMagnitudeBounds(t *testing.T) {
	sigma := 0.3
	for _, strike := range []float64{1, 25, 90, 100, 110, 250, 5000} {
		for _, dte := range []int{0, 1, 30, 365} {
			mag, err := PutDeltaMagnitude(100, strike, dte, 0.02, sigma)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, mag, 0.0, "strike=%v dte=%d", strike, dte)
			assert.LessOrEqual(t, mag, 1.0, "strike=%v dte=%d", strike, dte)
		}
	}
}

func TestDelta_DeepMoneyness(t *testing.T) {
	t.Run("deep out of the money put approaches zero", func(t *testing.T) {
		mag, err := PutDeltaMagnitude(172.17, 50, 32, 0.01767, 0.3)
		require.NoError(t, err)
		assert.Less(t, mag, 1e-6)
	})

	t.Run("deep in the money put approaches one", func(t *testing.T) {
		mag, err := PutDeltaMagnitude(172.17, 400, 32, 0.01767, 0.3)
		require.NoError(t, err)
		assert.Greater(t, mag, 1-1e-6)
	})
}

func TestDelta_DegenerateInputs(t *testing.T) {
	tests := []struct {
		name   string
		strike float64
		years  float64
		sigma  float64
		want   float64
	}{
		{"expiry today out of the money", 90, 0, 0.3, 0},
		{"expiry today in the money", 110, 0, 0.3, -1},
		{"expiry today at the money", 100, 0, 0.3, -0.5},
		{"zero volatility out of the money", 90, 0.5, 0, 0},
		{"zero volatility in the money", 110, 0.5, 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Delta(Put, 100, tt.strike, tt.years, 0, tt.sigma)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestDelta_ZeroVolatilityUsesForward(t *testing.T) {
	// spot == strike but positive carry pushes the forward above the strike
	d, err := Delta(Put, 100, 100, 1, 0.05, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestDelta_NumericDomainErrors(t *testing.T) {
	tests := []struct {
		name                      string
		spot, strike, years, sigma float64
	}{
		{"zero spot", 0, 100, 0.1, 0.2},
		{"negative spot", -5, 100, 0.1, 0.2},
		{"zero strike", 100, 0, 0.1, 0.2},
		{"negative volatility", 100, 100, 0.1, -0.2},
		{"negative time", 100, 100, -0.1, 0.2},
		{"nan spot", math.NaN(), 100, 0.1, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Delta(Put, tt.spot, tt.strike, tt.years, 0.01, tt.sigma)
			assert.ErrorIs(t, err, ErrNumericDomain)
		})
	}
}

func TestOptionType_String(t *testing.T) {
	assert.Equal(t, "put", Put.String())
	assert.Equal(t, "call", Call.String())
	assert.Equal(t, "unknown", OptionType(9).String())
}

func TestPrice_PutCallParity(t *testing.T) {
	spot, strike, years, rate, sigma := 100.0, 95.0, 0.5, 0.04, 0.25

	call, err := Price(Call, spot, strike, years, rate, sigma)
	require.NoError(t, err)
	put, err := Price(Put, spot, strike, years, rate, sigma)
	require.NoError(t, err)

	assert.InDelta(t, spot-strike*math.Exp(-rate*years), call-put, 1e-9)
}

func TestPrice_IntrinsicAtExpiry(t *testing.T) {
	put, err := Price(Put, 100, 110, 0, 0.05, 0.3)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, put, 1e-12)

	put, err = Price(Put, 100, 90, 0, 0.05, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, put)
}
