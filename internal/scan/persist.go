package scan

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/persistence"
	"github.com/sawpanic/putrun/internal/underlying"
)

// persist stores each analyzed underlying's chains and then the ranking.
// It runs after ranking, sequentially; failures are logged only.
func (s *Scanner) persist(ctx context.Context, result *Result, outcomes []outcome) {
	if s.repo.Snapshots != nil {
		for _, o := range outcomes {
			u, ok := o.analysis.(*underlying.Underlying)
			if !ok {
				continue
			}
			snap, err := SnapshotOf(result.RunID, u)
			if err != nil {
				log.Warn().Err(err).Str("ticker", o.ticker).Msg("failed to build snapshot")
				continue
			}
			if err := s.repo.Snapshots.Upsert(ctx, snap); err != nil {
				log.Warn().Err(err).Str("ticker", o.ticker).Msg("failed to persist snapshot")
			}
		}
	}

	if s.repo.Rankings != nil {
		if err := s.repo.Rankings.Save(ctx, RankingOf(result)); err != nil {
			log.Warn().Err(err).Str("run_id", result.RunID).Msg("failed to persist ranking")
			return
		}
		log.Info().Str("run_id", result.RunID).Msg("ranking persisted")
	}
}

// SnapshotOf converts an underlying into its persisted form
func SnapshotOf(runID string, u *underlying.Underlying) (persistence.Snapshot, error) {
	snap := persistence.Snapshot{
		RunID:        runID,
		Ticker:       u.Ticker,
		Spot:         u.Spot,
		Volatility:   u.Volatility,
		RiskFreeRate: u.RiskFreeRate,
		CapturedAt:   u.AsOf(),
	}

	for _, exp := range u.ConsideredExpirations() {
		puts, err := u.Puts(exp.Date)
		if err != nil {
			return persistence.Snapshot{}, err
		}
		records := make([]persistence.PutRecord, len(puts))
		for i, p := range puts {
			records[i] = persistence.PutRecord{
				Strike:           p.Strike,
				LastPrice:        p.LastPrice,
				InTheMoney:       p.InTheMoney,
				Delta:            p.Delta,
				AnnualizedReturn: p.AnnualizedReturn,
			}
		}
		snap.Expirations = append(snap.Expirations, persistence.ExpirationChain{
			Expiration: exp.Date,
			DTE:        exp.DTE,
			Puts:       records,
		})
	}
	return snap, nil
}

// RankingOf converts a scan result into its persisted ranking
func RankingOf(result *Result) persistence.Ranking {
	ranking := persistence.Ranking{
		RunID:      result.RunID,
		StartedAt:  result.StartedAt,
		DurationMS: result.Duration.Milliseconds(),
		Tickers:    result.Tickers,
		Failures:   len(result.Failures),
		Entries:    make([]persistence.RankedEntry, len(result.Ranked)),
	}
	for i, e := range result.Ranked {
		ranking.Entries[i] = persistence.RankedEntry{
			Rank:             i + 1,
			Ticker:           e.Ticker,
			Expiration:       e.Expiration,
			DTE:              e.DTE,
			AnnualizedReturn: e.AnnualizedReturn,
			Qualifying:       e.Qualifying,
		}
	}
	return ranking
}
