// Package market supplies spot prices, option expirations, put chains and
// historical closes for equity underlyings.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoData is returned when a provider has no data for a symbol, e.g. a
// delisted or invalid ticker
var ErrNoData = errors.New("no market data")

// DateLayout is the calendar date format used for expirations
const DateLayout = "2006-01-02"

// Side selects the option chain side
type Side string

const (
	SidePut  Side = "put"
	SideCall Side = "call"
)

// OptionQuote is one row of an option chain snapshot
type OptionQuote struct {
	Strike     float64 `json:"strike"`
	LastPrice  float64 `json:"last_price"`
	InTheMoney bool    `json:"in_the_money"`
}

// Provider supplies market data for a ticker
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// GetLastClose returns the most recent close of the underlying
	GetLastClose(ctx context.Context, ticker string) (float64, error)

	// GetAvailableExpirations returns option expirations in chronological order
	GetAvailableExpirations(ctx context.Context, ticker string) ([]time.Time, error)

	// GetOptionChain returns the chain snapshot for one expiration
	GetOptionChain(ctx context.Context, ticker string, expiration time.Time, side Side) ([]OptionQuote, error)

	// GetHistoricalCloses returns daily closes over the lookback window, oldest first
	GetHistoricalCloses(ctx context.Context, ticker string, lookback time.Duration) ([]float64, error)
}

// ProviderError represents a transport or HTTP failure from a provider
type ProviderError struct {
	Provider   string `json:"provider"`
	Op         string `json:"op"`
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s %s failed (HTTP %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the provider rejected the call with HTTP 429
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// FormatDate renders an expiration in DateLayout
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses an expiration in DateLayout as UTC midnight
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
