package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates the putrun tables. Statements are idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS scan_runs (
		run_id      UUID PRIMARY KEY,
		started_at  TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		tickers     INTEGER NOT NULL DEFAULT 0,
		failures    INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS scan_runs_started_at_idx ON scan_runs (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ranked_entries (
		run_id            UUID NOT NULL REFERENCES scan_runs (run_id) ON DELETE CASCADE,
		rank              INTEGER NOT NULL,
		ticker            TEXT NOT NULL,
		expiration        DATE NOT NULL,
		dte               INTEGER NOT NULL,
		annualized_return DOUBLE PRECISION NOT NULL,
		qualifying        INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, ticker)
	)`,
	`CREATE TABLE IF NOT EXISTS option_snapshots (
		run_id         UUID NOT NULL,
		ticker         TEXT NOT NULL,
		expiration     DATE NOT NULL,
		dte            INTEGER NOT NULL,
		spot           DOUBLE PRECISION NOT NULL,
		volatility     DOUBLE PRECISION NOT NULL,
		risk_free_rate DOUBLE PRECISION NOT NULL,
		captured_at    TIMESTAMPTZ NOT NULL,
		puts           JSONB NOT NULL,
		PRIMARY KEY (run_id, ticker, expiration)
	)`,
}

// Migrate applies Schema
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
