package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/putrun/internal/persistence"
)

// rankingRepo implements RankingRepo for PostgreSQL
type rankingRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRankingRepo creates a new PostgreSQL ranking repository
func NewRankingRepo(db *sqlx.DB, timeout time.Duration) persistence.RankingRepo {
	return &rankingRepo{
		db:      db,
		timeout: timeout,
	}
}

// Save upserts the run row and replaces its ranked entries in one transaction
func (r *rankingRepo) Save(ctx context.Context, ranking persistence.Ranking) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if ranking.RunID == "" {
		return fmt.Errorf("ranking run_id is required")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ranking transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_runs (run_id, started_at, duration_ms, tickers, failures)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			started_at = EXCLUDED.started_at,
			duration_ms = EXCLUDED.duration_ms,
			tickers = EXCLUDED.tickers,
			failures = EXCLUDED.failures`,
		ranking.RunID, ranking.StartedAt, ranking.DurationMS, ranking.Tickers, ranking.Failures)
	if err != nil {
		return fmt.Errorf("failed to upsert scan run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ranked_entries WHERE run_id = $1`, ranking.RunID); err != nil {
		return fmt.Errorf("failed to clear ranked entries: %w", err)
	}

	for _, e := range ranking.Entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ranked_entries
			(run_id, rank, ticker, expiration, dte, annualized_return, qualifying)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ranking.RunID, e.Rank, e.Ticker, e.Expiration, e.DTE, e.AnnualizedReturn, e.Qualifying)
		if err != nil {
			return fmt.Errorf("failed to insert ranked entry %s: %w", e.Ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ranking: %w", err)
	}
	return nil
}

// Latest returns the most recently started run with its entries in rank order
func (r *rankingRepo) Latest(ctx context.Context) (*persistence.Ranking, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ranking persistence.Ranking
	err := r.db.GetContext(ctx, &ranking, `
		SELECT run_id, started_at, duration_ms, tickers, failures
		FROM scan_runs
		ORDER BY started_at DESC
		LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest scan run: %w", err)
	}

	err = r.db.SelectContext(ctx, &ranking.Entries, `
		SELECT rank, ticker, expiration, dte, annualized_return, qualifying
		FROM ranked_entries
		WHERE run_id = $1
		ORDER BY rank ASC`, ranking.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranked entries: %w", err)
	}

	return &ranking, nil
}
