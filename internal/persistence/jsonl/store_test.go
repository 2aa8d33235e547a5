package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/putrun/internal/persistence"
)

func TestStore_SnapshotsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ctx := context.Background()
	exp := time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)

	snap := func(ticker string, spot float64) persistence.Snapshot {
		return persistence.Snapshot{
			RunID:  "run-1",
			Ticker: ticker,
			Spot:   spot,
			Expirations: []persistence.ExpirationChain{{
				Expiration: exp,
				DTE:        37,
				Puts:       []persistence.PutRecord{{Strike: spot * 0.9, LastPrice: 0.3, Delta: 0.2, AnnualizedReturn: 0.12}},
			}},
		}
	}

	require.NoError(t, store.Upsert(ctx, snap("OHI", 31)))
	require.NoError(t, store.Upsert(ctx, snap("MPW", 5)))
	require.NoError(t, store.Upsert(ctx, snap("OHI", 32)))

	assert.FileExists(t, filepath.Join(dir, "run-1", "snapshots.jsonl"))

	snapshots, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "MPW", snapshots[0].Ticker)
	assert.Equal(t, "OHI", snapshots[1].Ticker)
	assert.Equal(t, 32.0, snapshots[1].Spot)
	assert.True(t, snapshots[1].Expirations[0].Expiration.Equal(exp))

	missing, err := store.ListByRun(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestStore_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, persistence.Snapshot{RunID: "run-2", Ticker: "PFE"}))

	f, err := os.OpenFile(filepath.Join(dir, "run-2", "snapshots.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	snapshots, err := store.ListByRun(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "PFE", snapshots[0].Ticker)
}

func TestStore_RankingLatest(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ctx := context.Background()

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := persistence.Ranking{RunID: "run-a", Tickers: 3, Entries: []persistence.RankedEntry{{Rank: 1, Ticker: "OHI", AnnualizedReturn: 0.18}}}
	second := persistence.Ranking{RunID: "run-b", Tickers: 3, Failures: 1, Entries: []persistence.RankedEntry{
		{Rank: 1, Ticker: "MPW", AnnualizedReturn: 0.22},
		{Rank: 2, Ticker: "OHI", AnnualizedReturn: 0.18},
	}}

	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))

	assert.FileExists(t, filepath.Join(dir, "run-a", "ranking.json"))
	assert.FileExists(t, filepath.Join(dir, "run-b", "ranking.json"))
	assert.NoFileExists(t, filepath.Join(dir, "latest_ranking.json.tmp"))

	latest, err = store.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-b", latest.RunID)
	assert.Equal(t, 1, latest.Failures)
	require.Len(t, latest.Entries, 2)
	assert.Equal(t, "MPW", latest.Entries[0].Ticker)
}

func TestStore_RequiresIdentifiers(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	assert.Error(t, store.Upsert(ctx, persistence.Snapshot{Ticker: "OHI"}))
	assert.Error(t, store.Save(ctx, persistence.Ranking{}))
}

func TestStore_Repository(t *testing.T) {
	repo := NewStore(t.TempDir()).Repository()
	assert.NotNil(t, repo.Snapshots)
	assert.NotNil(t, repo.Rankings)
}
