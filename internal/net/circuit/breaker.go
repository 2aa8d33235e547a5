package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned when a provider's circuit breaker rejects the call
var ErrOpen = errors.New("circuit breaker is open")

// Config represents circuit breaker configuration for one provider
type Config struct {
	ConsecutiveFailures uint32        // consecutive failures that open the circuit
	OpenTimeout         time.Duration // time spent open before probing half-open
	HalfOpenRequests    uint32        // probe calls allowed while half-open
	Interval            time.Duration // closed-state count reset period, 0 keeps counts
}

// DefaultConfig returns conservative defaults for market data providers
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// StateListener observes breaker transitions, e.g. for metrics
type StateListener func(provider string, from, to gobreaker.State)

// IgnoreFunc reports errors that must not count as breaker failures
type IgnoreFunc func(err error) bool

// Manager manages one gobreaker.CircuitBreaker per provider
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	listener StateListener
	ignore   IgnoreFunc
}

// NewManager creates a breaker manager. listener and ignore may be nil.
func NewManager(listener StateListener, ignore IgnoreFunc) *Manager {
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		listener: listener,
		ignore:   ignore,
	}
}

// AddProvider registers a breaker for provider
func (m *Manager) AddProvider(provider string, cfg Config) {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultConfig().ConsecutiveFailures
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			if m.listener != nil {
				m.listener(name, from, to)
			}
		},
	}
	if m.ignore != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || m.ignore(err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[provider] = gobreaker.NewCircuitBreaker(settings)
}

// Execute runs fn through the provider's breaker. Providers without a
// breaker run fn directly.
func (m *Manager) Execute(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	m.mu.RLock()
	breaker, exists := m.breakers[provider]
	m.mu.RUnlock()

	if !exists {
		return fn(ctx)
	}

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrOpen, err)
	}
	return err
}

// State returns the provider's breaker state; unknown providers report closed
func (m *Manager) State(provider string) gobreaker.State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if breaker, exists := m.breakers[provider]; exists {
		return breaker.State()
	}
	return gobreaker.StateClosed
}

// Counts returns the provider's current request counts
func (m *Manager) Counts(provider string) gobreaker.Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if breaker, exists := m.breakers[provider]; exists {
		return breaker.Counts()
	}
	return gobreaker.Counts{}
}
