// Package rates supplies the annualized risk-free rate used for option
// pricing.
package rates

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRate is returned when a source yields a rate outside [0, 1]
var ErrInvalidRate = errors.New("risk-free rate out of range")

// Provider returns the current annualized risk-free rate as a decimal
// fraction (0.05 is 5%)
type Provider interface {
	GetCurrentRate(ctx context.Context) (float64, error)
}

// Validate checks that a rate is a finite decimal fraction in [0, 1]
func Validate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 || rate > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	return nil
}

// FixedProvider returns a configured rate, for offline scans and tests
type FixedProvider struct {
	Rate float64
}

// NewFixedProvider creates a fixed-rate provider
func NewFixedProvider(rate float64) *FixedProvider {
	return &FixedProvider{Rate: rate}
}

// GetCurrentRate returns the configured rate
func (f *FixedProvider) GetCurrentRate(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := Validate(f.Rate); err != nil {
		return 0, err
	}
	return f.Rate, nil
}
