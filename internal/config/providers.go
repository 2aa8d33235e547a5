package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sawpanic/putrun/internal/market"
	"github.com/sawpanic/putrun/internal/rates"
)

// ProvidersConfig groups the market data and risk-free rate providers
type ProvidersConfig struct {
	Market MarketConfig `yaml:"market"`
	Rate   RateConfig   `yaml:"rate"`
}

// MarketConfig represents configuration for the market data provider
type MarketConfig struct {
	Kind            string        `yaml:"kind"`              // massive or synthetic
	BaseURL         string        `yaml:"base_url"`          // Base URL for API calls
	APIKeyEnv       string        `yaml:"api_key_env"`       // Environment variable holding the API key
	RPS             float64       `yaml:"rps"`               // Requests per second
	Burst           int           `yaml:"burst"`             // Burst capacity
	Timeout         time.Duration `yaml:"timeout"`           // Per-request timeout
	MaxRetries      int           `yaml:"max_retries"`       // Retries on HTTP 429
	Backoff         time.Duration `yaml:"backoff"`           // Base backoff, doubled per retry
	CacheTTL        time.Duration `yaml:"cache_ttl"`         // Response cache TTL, 0 disables caching
	DailyBudget     int64         `yaml:"daily_budget"`      // Max requests per UTC day, 0 is unlimited
	BudgetResetHour int           `yaml:"budget_reset_hour"` // UTC hour to reset the budget (0-23)
	Circuit         CircuitConfig `yaml:"circuit"`           // Circuit breaker config
}

// CircuitConfig represents circuit breaker configuration
type CircuitConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // Consecutive failures to open circuit
	OpenTimeout         time.Duration `yaml:"open_timeout"`         // Time open before probing
}

// RateConfig represents configuration for the risk-free rate provider
type RateConfig struct {
	Kind      string        `yaml:"kind"`       // treasury or fixed
	BaseURL   string        `yaml:"base_url"`   // Treasury fiscal data base URL
	FixedRate float64       `yaml:"fixed_rate"` // Decimal rate for kind fixed
	Timeout   time.Duration `yaml:"timeout"`    // Per-request timeout
	CacheTTL  time.Duration `yaml:"cache_ttl"`  // Rate cache TTL
}

const (
	MarketMassive   = "massive"
	MarketSynthetic = "synthetic"
	RateTreasury    = "treasury"
	RateFixed       = "fixed"
)

// DefaultProviders returns the Massive market provider and the Treasury rate
// provider with conservative limits
func DefaultProviders() ProvidersConfig {
	return ProvidersConfig{
		Market: MarketConfig{
			Kind:       MarketMassive,
			BaseURL:    market.DefaultMassiveBaseURL,
			APIKeyEnv:  "POLYGON_API_KEY",
			RPS:        5,
			Burst:      5,
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			Backoff:    time.Second,
			CacheTTL:   5 * time.Minute,
			Circuit: CircuitConfig{
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
			},
		},
		Rate: RateConfig{
			Kind:      RateTreasury,
			BaseURL:   rates.DefaultTreasuryBaseURL,
			FixedRate: 0.045,
			Timeout:   10 * time.Second,
			CacheTTL:  time.Hour,
		},
	}
}

// APIKey resolves the market API key from the configured environment variable
func (m MarketConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(m.APIKeyEnv))
}

// Validate ensures the provider configuration is valid and consistent
func (p *ProvidersConfig) Validate() error {
	if err := p.Market.Validate(); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	if err := p.Rate.Validate(); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	return nil
}

// Validate ensures a market provider configuration is valid
func (m *MarketConfig) Validate() error {
	switch m.Kind {
	case MarketMassive:
		if m.BaseURL == "" {
			return fmt.Errorf("base_url cannot be empty")
		}
	case MarketSynthetic:
	default:
		return fmt.Errorf("kind must be %q or %q, got %q", MarketMassive, MarketSynthetic, m.Kind)
	}
	if m.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %g", m.RPS)
	}
	if m.Burst < 1 {
		return fmt.Errorf("burst must be positive, got %d", m.Burst)
	}
	if m.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", m.Timeout)
	}
	if m.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", m.MaxRetries)
	}
	if m.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must be non-negative, got %v", m.CacheTTL)
	}
	if m.DailyBudget < 0 {
		return fmt.Errorf("daily_budget must be non-negative, got %d", m.DailyBudget)
	}
	if m.BudgetResetHour < 0 || m.BudgetResetHour > 23 {
		return fmt.Errorf("budget_reset_hour must be between 0 and 23, got %d", m.BudgetResetHour)
	}
	if m.Circuit.ConsecutiveFailures == 0 {
		return fmt.Errorf("circuit consecutive_failures must be positive, got %d", m.Circuit.ConsecutiveFailures)
	}
	if m.Circuit.OpenTimeout <= 0 {
		return fmt.Errorf("circuit open_timeout must be positive, got %v", m.Circuit.OpenTimeout)
	}
	return nil
}

// Validate ensures a rate provider configuration is valid
func (r *RateConfig) Validate() error {
	switch r.Kind {
	case RateTreasury:
		if r.BaseURL == "" {
			return fmt.Errorf("base_url cannot be empty")
		}
		if r.Timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", r.Timeout)
		}
	case RateFixed:
		if r.FixedRate < 0 || r.FixedRate > 1 {
			return fmt.Errorf("fixed_rate must be between 0 and 1, got %g", r.FixedRate)
		}
	default:
		return fmt.Errorf("kind must be %q or %q, got %q", RateTreasury, RateFixed, r.Kind)
	}
	if r.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must be non-negative, got %v", r.CacheTTL)
	}
	return nil
}
