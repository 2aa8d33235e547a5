package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/putrun/internal/persistence"
)

// snapshotRepo implements SnapshotRepo for PostgreSQL. Each considered
// expiration is one row with its puts stored as JSONB.
type snapshotRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

type snapshotRow struct {
	RunID        string    `db:"run_id"`
	Ticker       string    `db:"ticker"`
	Expiration   time.Time `db:"expiration"`
	DTE          int       `db:"dte"`
	Spot         float64   `db:"spot"`
	Volatility   float64   `db:"volatility"`
	RiskFreeRate float64   `db:"risk_free_rate"`
	CapturedAt   time.Time `db:"captured_at"`
	Puts         []byte    `db:"puts"`
}

// NewSnapshotRepo creates a new PostgreSQL snapshot repository
func NewSnapshotRepo(db *sqlx.DB, timeout time.Duration) persistence.SnapshotRepo {
	return &snapshotRepo{
		db:      db,
		timeout: timeout,
	}
}

// Upsert writes one row per expiration, keyed by (run_id, ticker, expiration)
func (r *snapshotRepo) Upsert(ctx context.Context, snapshot persistence.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if snapshot.RunID == "" || snapshot.Ticker == "" {
		return fmt.Errorf("snapshot run_id and ticker are required")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO option_snapshots
		(run_id, ticker, expiration, dte, spot, volatility, risk_free_rate, captured_at, puts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, ticker, expiration) DO UPDATE SET
			dte = EXCLUDED.dte,
			spot = EXCLUDED.spot,
			volatility = EXCLUDED.volatility,
			risk_free_rate = EXCLUDED.risk_free_rate,
			captured_at = EXCLUDED.captured_at,
			puts = EXCLUDED.puts`

	for _, chain := range snapshot.Expirations {
		putsJSON, err := json.Marshal(chain.Puts)
		if err != nil {
			return fmt.Errorf("failed to marshal puts: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			snapshot.RunID, snapshot.Ticker, chain.Expiration, chain.DTE,
			snapshot.Spot, snapshot.Volatility, snapshot.RiskFreeRate,
			snapshot.CapturedAt, putsJSON)
		if err != nil {
			return fmt.Errorf("failed to upsert snapshot %s %s: %w",
				snapshot.Ticker, chain.Expiration.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// ListByRun regroups expiration rows into per-ticker snapshots
func (r *snapshotRepo) ListByRun(ctx context.Context, runID string) ([]persistence.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []snapshotRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT run_id, ticker, expiration, dte, spot, volatility, risk_free_rate, captured_at, puts
		FROM option_snapshots
		WHERE run_id = $1
		ORDER BY ticker ASC, expiration ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var snapshots []persistence.Snapshot
	for _, row := range rows {
		var puts []persistence.PutRecord
		if err := json.Unmarshal(row.Puts, &puts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal puts for %s: %w", row.Ticker, err)
		}

		n := len(snapshots)
		if n == 0 || snapshots[n-1].Ticker != row.Ticker {
			snapshots = append(snapshots, persistence.Snapshot{
				RunID:        row.RunID,
				Ticker:       row.Ticker,
				Spot:         row.Spot,
				Volatility:   row.Volatility,
				RiskFreeRate: row.RiskFreeRate,
				CapturedAt:   row.CapturedAt,
			})
			n++
		}
		snapshots[n-1].Expirations = append(snapshots[n-1].Expirations, persistence.ExpirationChain{
			Expiration: row.Expiration,
			DTE:        row.DTE,
			Puts:       puts,
		})
	}

	return snapshots, nil
}
