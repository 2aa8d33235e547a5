package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/putrun/internal/market"
	"github.com/sawpanic/putrun/internal/net/budget"
	"github.com/sawpanic/putrun/internal/net/circuit"
	"github.com/sawpanic/putrun/internal/pricing"
	"github.com/sawpanic/putrun/internal/rates"
	"github.com/sawpanic/putrun/internal/underlying"
)

// Stage names the pipeline step a ticker failed in
type Stage string

const (
	StageConstruct Stage = "construct"
	StageAnalyze   Stage = "analyze"
	StageSelect    Stage = "select"
)

// Kind classifies why a ticker was excluded
type Kind string

const (
	KindDataUnavailable     Kind = "data_unavailable"
	KindNumericDomain       Kind = "numeric_domain"
	KindInvalidArgument     Kind = "invalid_argument"
	KindNoQualifyingOptions Kind = "no_qualifying_options"
	KindNotAnalyzed         Kind = "not_analyzed"
	KindTimeout             Kind = "timeout"
	KindCanceled            Kind = "canceled"
	KindProvider            Kind = "provider"
	KindPanic               Kind = "panic"
	KindUnknown             Kind = "unknown"
)

// Entry is one ranked or unprofitable ticker
type Entry struct {
	Ticker           string    `json:"ticker"`
	Expiration       time.Time `json:"expiration"`
	DTE              int       `json:"dte"`
	AnnualizedReturn float64   `json:"annualized_return"`
	Qualifying       int       `json:"qualifying"`
}

// Failure records a ticker excluded from the ranking and why
type Failure struct {
	Ticker string `json:"ticker"`
	Stage  Stage  `json:"stage"`
	Kind   Kind   `json:"kind"`
	Err    error  `json:"-"`
}

// Error implements error
func (f Failure) Error() string {
	return fmt.Sprintf("%s failed at %s (%s): %v", f.Ticker, f.Stage, f.Kind, f.Err)
}

// Unwrap exposes the underlying cause
func (f Failure) Unwrap() error {
	return f.Err
}

// Reason is the cause message for display
func (f Failure) Reason() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

// Result is the batch outcome of one scan. Ranked is sorted by return,
// descending. Unprofitable holds tickers whose return was at or below the
// floor. Failures are in watchlist order.
type Result struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Tickers      int           `json:"tickers"`
	Ranked       []Entry       `json:"ranked"`
	Unprofitable []Entry       `json:"unprofitable,omitempty"`
	Failures     []Failure     `json:"failures,omitempty"`
}

// FailureFor returns the failure recorded for ticker, if any
func (r *Result) FailureFor(ticker string) (Failure, bool) {
	for _, f := range r.Failures {
		if f.Ticker == ticker {
			return f, true
		}
	}
	return Failure{}, false
}

// MarshalJSON renders the cause as a reason string
func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Ticker string `json:"ticker"`
		Stage  Stage  `json:"stage"`
		Kind   Kind   `json:"kind"`
		Reason string `json:"reason"`
	}{f.Ticker, f.Stage, f.Kind, f.Reason()})
}

// StageError tags an error with the stage it happened in
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking worker
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// newFailure builds a Failure, taking the stage from a StageError when
// present
func newFailure(ticker string, stage Stage, err error) Failure {
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	return Failure{Ticker: ticker, Stage: stage, Kind: Classify(err), Err: err}
}

// Classify maps an error onto a failure kind
func Classify(err error) Kind {
	var (
		panicErr *PanicError
		provErr  *market.ProviderError
	)

	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &panicErr):
		return KindPanic
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, underlying.ErrDataUnavailable), errors.Is(err, market.ErrNoData):
		return KindDataUnavailable
	case errors.Is(err, pricing.ErrNumericDomain):
		return KindNumericDomain
	case errors.Is(err, underlying.ErrNoQualifyingOptions):
		return KindNoQualifyingOptions
	case errors.Is(err, underlying.ErrNotAnalyzed):
		return KindNotAnalyzed
	case errors.Is(err, underlying.ErrInvalidArgument):
		return KindInvalidArgument
	case errors.As(err, &provErr), errors.Is(err, circuit.ErrOpen), errors.Is(err, budget.ErrExhausted), errors.Is(err, rates.ErrInvalidRate):
		return KindProvider
	default:
		return KindUnknown
	}
}
