package persistence

import (
	"context"
	"time"
)

// PutRecord is one analyzed put contract
type PutRecord struct {
	Strike           float64 `json:"strike" db:"strike"`
	LastPrice        float64 `json:"last_price" db:"last_price"`
	InTheMoney       bool    `json:"in_the_money" db:"in_the_money"`
	Delta            float64 `json:"delta" db:"delta"`
	AnnualizedReturn float64 `json:"annualized_return" db:"annualized_return"`
}

// ExpirationChain holds the analyzed puts of one considered expiration
type ExpirationChain struct {
	Expiration time.Time   `json:"expiration" db:"expiration"`
	DTE        int         `json:"dte" db:"dte"`
	Puts       []PutRecord `json:"puts" db:"puts"`
}

// Snapshot is the full expiration -> puts mapping of one ticker in one run
type Snapshot struct {
	RunID        string            `json:"run_id" db:"run_id"`
	Ticker       string            `json:"ticker" db:"ticker"`
	Spot         float64           `json:"spot" db:"spot"`
	Volatility   float64           `json:"volatility" db:"volatility"`
	RiskFreeRate float64           `json:"risk_free_rate" db:"risk_free_rate"`
	CapturedAt   time.Time         `json:"captured_at" db:"captured_at"`
	Expirations  []ExpirationChain `json:"expirations"`
}

// RankedEntry is one row of a scan ranking
type RankedEntry struct {
	Rank             int       `json:"rank" db:"rank"`
	Ticker           string    `json:"ticker" db:"ticker"`
	Expiration       time.Time `json:"expiration" db:"expiration"`
	DTE              int       `json:"dte" db:"dte"`
	AnnualizedReturn float64   `json:"annualized_return" db:"annualized_return"`
	Qualifying       int       `json:"qualifying" db:"qualifying"`
}

// Ranking is the ordered result of one scan run
type Ranking struct {
	RunID      string        `json:"run_id" db:"run_id"`
	StartedAt  time.Time     `json:"started_at" db:"started_at"`
	DurationMS int64         `json:"duration_ms" db:"duration_ms"`
	Tickers    int           `json:"tickers" db:"tickers"`
	Failures   int           `json:"failures" db:"failures"`
	Entries    []RankedEntry `json:"entries"`
}

// SnapshotRepo persists per-ticker option snapshots
type SnapshotRepo interface {
	// Upsert inserts or replaces the snapshot keyed by run, ticker and expiration
	Upsert(ctx context.Context, snapshot Snapshot) error

	// ListByRun returns every snapshot captured during a run, ordered by ticker
	ListByRun(ctx context.Context, runID string) ([]Snapshot, error)
}

// RankingRepo persists scan rankings
type RankingRepo interface {
	// Save stores a run and its ranked entries
	Save(ctx context.Context, ranking Ranking) error

	// Latest returns the most recent ranking, or nil when none was saved
	Latest(ctx context.Context) (*Ranking, error)
}

// Repository aggregates the persistence interfaces
type Repository struct {
	Snapshots SnapshotRepo
	Rankings  RankingRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck
}
