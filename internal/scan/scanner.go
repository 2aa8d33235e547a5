// Package scan runs the per-ticker put analysis across a watchlist with
// bounded concurrency and ranks the profitable tickers.
package scan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/putrun/internal/metrics"
	"github.com/sawpanic/putrun/internal/persistence"
	"github.com/sawpanic/putrun/internal/underlying"
)

// Analysis is an analyzed ticker that can answer return queries
type Analysis interface {
	GetExpirationClosestTo(targetDTE int) (underlying.Expiration, error)
	GetAvgAnnualizedReturn(expiration time.Time, dr underlying.DeltaRange) (float64, error)
}

// Analyzer loads and analyzes one ticker. Implementations must honor ctx.
type Analyzer interface {
	Analyze(ctx context.Context, ticker string) (Analysis, error)
}

// qualifyingCounter is implemented by analyses that can report how many
// puts entered the average
type qualifyingCounter interface {
	QualifyingCount(expiration time.Time, dr underlying.DeltaRange) int
}

// ProgressFunc is called after each ticker's analysis completes
type ProgressFunc func(done, total int, ticker string)

// Config holds orchestrator settings. Concurrency bounds live worker
// slots, not in-flight provider calls: a slot is released when its ticker
// times out even if the abandoned call has not returned yet. MinReturn is
// an exclusive floor and is never below zero.
type Config struct {
	TargetDTE     int                   `yaml:"target_dte"`
	DeltaRange    underlying.DeltaRange `yaml:"delta_range"`
	Concurrency   int                   `yaml:"concurrency"`
	TickerTimeout time.Duration         `yaml:"ticker_timeout"`
	MinReturn     float64               `yaml:"min_return"`
}

// DefaultConfig returns a 40-day target, 0.1-0.3 delta band, two workers
// and a 30 second per-ticker timeout
func DefaultConfig() Config {
	return Config{
		TargetDTE:     40,
		DeltaRange:    underlying.DefaultDeltaRange(),
		Concurrency:   2,
		TickerTimeout: 30 * time.Second,
		MinReturn:     0,
	}
}

// Validate checks the orchestrator settings
func (c Config) Validate() error {
	if c.TargetDTE < 0 {
		return fmt.Errorf("target_dte must be non-negative, got %d", c.TargetDTE)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.TickerTimeout < 0 {
		return fmt.Errorf("ticker_timeout must be non-negative, got %v", c.TickerTimeout)
	}
	if c.MinReturn < 0 || math.IsNaN(c.MinReturn) {
		return fmt.Errorf("min_return must be non-negative, got %g", c.MinReturn)
	}
	return c.DeltaRange.Validate()
}

// Scanner drives an Analyzer over a watchlist
type Scanner struct {
	analyzer Analyzer
	config   Config
	metrics  *metrics.Registry
	repo     *persistence.Repository
	progress ProgressFunc
	now      func() time.Time
}

// Option configures a Scanner
type Option func(*Scanner)

// WithMetrics records scan and ticker metrics
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithRepository persists snapshots and the ranking after each scan
func WithRepository(repo *persistence.Repository) Option {
	return func(s *Scanner) { s.repo = repo }
}

// WithProgress reports per-ticker completion
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) { s.progress = fn }
}

// NewScanner creates a scanner
func NewScanner(analyzer Analyzer, config Config, opts ...Option) (*Scanner, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan config: %w", err)
	}

	s := &Scanner{analyzer: analyzer, config: config, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type outcome struct {
	ticker   string
	analysis Analysis
	failure  *Failure
}

// Scan analyzes every ticker, then ranks the survivors. Per-ticker failures
// never abort the scan; they are returned in Result.Failures.
func (s *Scanner) Scan(ctx context.Context, tickers []string) *Result {
	started := s.now()
	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Tickers:   len(tickers),
		Ranked:    []Entry{},
	}

	var timer *metrics.ScanTimer
	if s.metrics != nil {
		timer = s.metrics.StartScan()
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("tickers", len(tickers)).
		Int("concurrency", s.config.Concurrency).
		Msg("scan started")

	outcomes := s.analyzeAll(ctx, tickers)
	s.rank(result, outcomes)
	result.Duration = time.Since(started)

	if timer != nil {
		timer.Stop()
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("ranked", len(result.Ranked)).
		Int("unprofitable", len(result.Unprofitable)).
		Int("failed", len(result.Failures)).
		Dur("duration", result.Duration).
		Msg("scan completed")

	if s.repo != nil {
		s.persist(ctx, result, outcomes)
	}
	return result
}

// analyzeAll is the only parallel section. Every outcome is collected
// before ranking so order never depends on completion order.
func (s *Scanner) analyzeAll(ctx context.Context, tickers []string) []outcome {
	outcomes := make([]outcome, len(tickers))

	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i, ticker := range tickers {
		i, ticker := i, strings.ToUpper(strings.TrimSpace(ticker))
		g.Go(func() error {
			outcomes[i] = s.analyzeOne(ctx, ticker)

			if s.progress != nil {
				mu.Lock()
				done++
				s.progress(done, len(tickers), ticker)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// analyzeOne runs the analyzer under the per-ticker timeout. A worker that
// ignores ctx is abandoned; its late result is dropped.
func (s *Scanner) analyzeOne(ctx context.Context, ticker string) outcome {
	tctx := ctx
	if s.config.TickerTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, s.config.TickerTimeout)
		defer cancel()
	}

	type analyzed struct {
		analysis Analysis
		err      error
	}
	ch := make(chan analyzed, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- analyzed{err: &PanicError{Value: r}}
			}
		}()
		a, err := s.analyzer.Analyze(tctx, ticker)
		ch <- analyzed{analysis: a, err: err}
	}()

	var res analyzed
	select {
	case res = <-ch:
	case <-tctx.Done():
		res = analyzed{err: fmt.Errorf("%s: %w", ticker, tctx.Err())}
	}

	if res.err == nil && res.analysis == nil {
		res.err = fmt.Errorf("%s: analyzer returned no analysis", ticker)
	}
	if res.err != nil {
		f := newFailure(ticker, StageAnalyze, res.err)
		return outcome{ticker: ticker, failure: &f}
	}
	return outcome{ticker: ticker, analysis: res.analysis}
}

// rank runs the selection queries sequentially in watchlist order, splits
// entries on the return floor and sorts the ranked ones descending
func (s *Scanner) rank(result *Result, outcomes []outcome) {
	floor := math.Max(0, s.config.MinReturn)
	for _, o := range outcomes {
		if o.failure != nil {
			s.recordFailure(result, *o.failure)
			continue
		}

		entry, err := s.selectEntry(o.ticker, o.analysis)
		if err != nil {
			s.recordFailure(result, newFailure(o.ticker, StageSelect, err))
			continue
		}

		if entry.AnnualizedReturn > floor {
			result.Ranked = append(result.Ranked, entry)
			s.recordOutcome("ranked")
		} else {
			result.Unprofitable = append(result.Unprofitable, entry)
			s.recordOutcome("unprofitable")
			log.Debug().
				Str("ticker", entry.Ticker).
				Float64("annualized_return", entry.AnnualizedReturn).
				Msg("excluded at or below return floor")
		}
	}

	sort.SliceStable(result.Ranked, func(i, j int) bool {
		return result.Ranked[i].AnnualizedReturn > result.Ranked[j].AnnualizedReturn
	})
}

func (s *Scanner) selectEntry(ticker string, a Analysis) (entry Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	exp, err := a.GetExpirationClosestTo(s.config.TargetDTE)
	if err != nil {
		return Entry{}, err
	}
	avg, err := a.GetAvgAnnualizedReturn(exp.Date, s.config.DeltaRange)
	if err != nil {
		return Entry{}, err
	}

	entry = Entry{
		Ticker:           ticker,
		Expiration:       exp.Date,
		DTE:              exp.DTE,
		AnnualizedReturn: avg,
	}
	if qc, ok := a.(qualifyingCounter); ok {
		entry.Qualifying = qc.QualifyingCount(exp.Date, s.config.DeltaRange)
	}
	return entry, nil
}

func (s *Scanner) recordFailure(result *Result, f Failure) {
	result.Failures = append(result.Failures, f)
	if s.metrics != nil {
		s.metrics.RecordFailure(string(f.Kind))
	}
	log.Warn().
		Str("ticker", f.Ticker).
		Str("stage", string(f.Stage)).
		Str("kind", string(f.Kind)).
		Err(f.Err).
		Msg("ticker excluded from scan")
}

func (s *Scanner) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordTicker(outcome)
	}
}
