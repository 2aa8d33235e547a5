package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthetic_Deterministic(t *testing.T) {
	now := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC) // Wednesday
	a := NewSyntheticProvider()
	a.SetClock(func() time.Time { return now })
	b := NewSyntheticProvider()
	b.SetClock(func() time.Time { return now })

	ctx := context.Background()
	spotA, err := a.GetLastClose(ctx, "ohi")
	require.NoError(t, err)
	spotB, err := b.GetLastClose(ctx, "OHI")
	require.NoError(t, err)
	assert.Equal(t, spotA, spotB)

	closesA, err := a.GetHistoricalCloses(ctx, "OHI", 30*24*time.Hour)
	require.NoError(t, err)
	closesB, err := b.GetHistoricalCloses(ctx, "OHI", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, closesA, closesB)
	assert.Len(t, closesA, 30)
	assert.Equal(t, spotA, closesA[len(closesA)-1])
}

func TestSynthetic_FridayExpirations(t *testing.T) {
	now := time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC) // Friday
	p := NewSyntheticProvider()
	p.SetClock(func() time.Time { return now })

	exps, err := p.GetAvailableExpirations(context.Background(), "PFE")
	require.NoError(t, err)
	require.Len(t, exps, 12)

	assert.Equal(t, "2024-05-10", FormatDate(exps[0]))
	for i, exp := range exps {
		assert.Equal(t, time.Friday, exp.Weekday())
		if i > 0 {
			assert.Equal(t, 7*24*time.Hour, exp.Sub(exps[i-1]))
		}
	}
}

func TestSynthetic_PutChain(t *testing.T) {
	now := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	p := NewSyntheticProvider()
	p.SetClock(func() time.Time { return now })

	ctx := context.Background()
	spot, err := p.GetLastClose(ctx, "MPW")
	require.NoError(t, err)

	quotes, err := p.GetOptionChain(ctx, "MPW", now.AddDate(0, 0, 37), SidePut)
	require.NoError(t, err)
	require.NotEmpty(t, quotes)

	for i, q := range quotes {
		assert.GreaterOrEqual(t, q.LastPrice, 0.0)
		assert.Equal(t, q.Strike > spot, q.InTheMoney)
		if i > 0 {
			assert.GreaterOrEqual(t, q.Strike, quotes[i-1].Strike)
			assert.GreaterOrEqual(t, q.LastPrice, quotes[i-1].LastPrice)
		}
	}
}

func TestSynthetic_UnavailableTicker(t *testing.T) {
	p := NewSyntheticProvider("DELISTED")
	ctx := context.Background()

	_, err := p.GetLastClose(ctx, "delisted")
	assert.True(t, errors.Is(err, ErrNoData))

	_, err = p.GetAvailableExpirations(ctx, "")
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestSynthetic_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSyntheticProvider().GetLastClose(ctx, "OHI")
	assert.ErrorIs(t, err, context.Canceled)
}
