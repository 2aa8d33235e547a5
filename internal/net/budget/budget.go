package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrExhausted is returned when a provider's daily request budget is spent
var ErrExhausted = errors.New("daily request budget exhausted")

// ExhaustedError carries the usage numbers and the next reset time
type ExhaustedError struct {
	Provider string
	Used     int64
	Limit    int64
	ResetAt  time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted for %s: %d/%d requests used, resets at %s",
		e.Provider, e.Used, e.Limit, e.ResetAt.Format("15:04 UTC"))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// Tracker counts requests against a daily limit that resets at a fixed UTC hour
type Tracker struct {
	provider      string
	limit         int64
	used          int64
	resetHour     int
	warnThreshold float64
	warned        bool
	lastReset     time.Time
	now           func() time.Time
	mu            sync.Mutex
}

// NewTracker creates a tracker. A non-positive limit disables the budget.
func NewTracker(provider string, limit int64, resetHour int) *Tracker {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	t := &Tracker{
		provider:      provider,
		limit:         limit,
		resetHour:     resetHour,
		warnThreshold: 0.8,
		now:           time.Now,
	}
	t.lastReset = lastResetTime(t.now().UTC(), resetHour)
	return t
}

func lastResetTime(now time.Time, resetHour int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Hour() >= resetHour {
		return today
	}
	return today.AddDate(0, 0, -1)
}

// resetIfDue must be called with mu held
func (t *Tracker) resetIfDue() {
	now := t.now().UTC()
	if !now.Before(t.lastReset.Add(24 * time.Hour)) {
		t.used = 0
		t.warned = false
		t.lastReset = lastResetTime(now, t.resetHour)
	}
}

// Consume records one request, or returns an *ExhaustedError when the
// budget is already spent
func (t *Tracker) Consume() error {
	if t == nil || t.limit <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfDue()
	if t.used >= t.limit {
		return &ExhaustedError{
			Provider: t.provider,
			Used:     t.used,
			Limit:    t.limit,
			ResetAt:  t.lastReset.Add(24 * time.Hour),
		}
	}

	t.used++
	if !t.warned && float64(t.used)/float64(t.limit) >= t.warnThreshold {
		t.warned = true
		log.Warn().
			Str("provider", t.provider).
			Int64("used", t.used).
			Int64("limit", t.limit).
			Msg("daily request budget nearly spent")
	}
	return nil
}

// Stats represents budget tracker statistics
type Stats struct {
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	NextReset time.Time `json:"next_reset"`
}

// Stats returns current usage
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfDue()
	remaining := t.limit - t.used
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		Limit:     t.limit,
		Used:      t.used,
		Remaining: remaining,
		NextReset: t.lastReset.Add(24 * time.Hour),
	}
}
