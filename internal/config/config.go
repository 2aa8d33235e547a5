// Package config loads the putrun YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/putrun/internal/infrastructure/db"
	"github.com/sawpanic/putrun/internal/scan"
	"github.com/sawpanic/putrun/internal/underlying"
	"github.com/sawpanic/putrun/internal/watchlist"
)

// DefaultPath is where the CLI looks for configuration
const DefaultPath = "config/putrun.yaml"

// Config represents the complete putrun configuration
type Config struct {
	Scan        ScanConfig        `yaml:"scan"`
	Watchlist   WatchlistConfig   `yaml:"watchlist"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Cache       CacheConfig       `yaml:"cache"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Server      ServerConfig      `yaml:"server"`
}

// ScanConfig represents the expiration window, selection and worker settings
type ScanConfig struct {
	DTEWindow     underlying.Window     `yaml:"dte_window"`
	TargetDTE     int                   `yaml:"target_dte"`
	DeltaRange    underlying.DeltaRange `yaml:"delta_range"`
	Concurrency   int                   `yaml:"concurrency"`
	TickerTimeout time.Duration         `yaml:"ticker_timeout"`
	MinReturn     float64               `yaml:"min_return"` // Exclusive floor on the annualized return
	Volatility    VolatilityConfig      `yaml:"volatility"`
}

// VolatilityConfig represents the historical volatility estimate
type VolatilityConfig struct {
	LookbackDays   int     `yaml:"lookback_days"`
	PeriodsPerYear float64 `yaml:"periods_per_year"`
}

// WatchlistConfig represents where tickers come from
type WatchlistConfig struct {
	Path     string  `yaml:"path"`      // Empty uses the built-in list
	Country  string  `yaml:"country"`   // Record filter for JSON watchlists
	MaxPrice float64 `yaml:"max_price"` // Drop tickers above this last close, 0 disables
}

// CacheConfig represents the provider response cache
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"` // Empty uses the in-memory cache
	Prefix    string `yaml:"prefix"`
}

// PersistenceConfig represents where scan results are stored
type PersistenceConfig struct {
	Kind         string        `yaml:"kind"` // none, jsonl or postgres
	Dir          string        `yaml:"dir"`
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

// ServerConfig represents the HTTP listener used by the serve command
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

const (
	PersistNone     = "none"
	PersistJSONL    = "jsonl"
	PersistPostgres = "postgres"
)

// Defaults returns the configuration used when no file is present
func Defaults() *Config {
	sc := scan.DefaultConfig()
	return &Config{
		Scan: ScanConfig{
			DTEWindow:     underlying.DefaultWindow(),
			TargetDTE:     sc.TargetDTE,
			DeltaRange:    sc.DeltaRange,
			Concurrency:   sc.Concurrency,
			TickerTimeout: sc.TickerTimeout,
			MinReturn:     sc.MinReturn,
			Volatility: VolatilityConfig{
				LookbackDays:   365,
				PeriodsPerYear: 365,
			},
		},
		Providers: DefaultProviders(),
		Cache: CacheConfig{
			Prefix: "putrun",
		},
		Persistence: PersistenceConfig{
			Kind:         PersistNone,
			Dir:          "out/scans",
			QueryTimeout: 10 * time.Second,
			MaxOpenConns: 5,
			AutoMigrate:  true,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads configuration from path on top of Defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	if err := c.Scan.Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if c.Watchlist.MaxPrice < 0 {
		return fmt.Errorf("watchlist: max_price must be non-negative, got %g", c.Watchlist.MaxPrice)
	}
	if err := c.Providers.Validate(); err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	if err := c.Persistence.Validate(); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	return nil
}

// Validate ensures the scan settings are usable
func (s *ScanConfig) Validate() error {
	if err := s.DTEWindow.Validate(); err != nil {
		return fmt.Errorf("dte_window: %w", err)
	}
	if s.Volatility.LookbackDays < 2 {
		return fmt.Errorf("volatility lookback_days must be at least 2, got %d", s.Volatility.LookbackDays)
	}
	if s.Volatility.PeriodsPerYear <= 0 {
		return fmt.Errorf("volatility periods_per_year must be positive, got %g", s.Volatility.PeriodsPerYear)
	}
	sc := s.Scanner()
	return sc.Validate()
}

// Validate ensures the persistence backend is fully specified
func (p *PersistenceConfig) Validate() error {
	switch p.Kind {
	case PersistNone, "":
	case PersistJSONL:
		if p.Dir == "" {
			return fmt.Errorf("dir cannot be empty for kind %q", p.Kind)
		}
	case PersistPostgres:
		if p.DSN == "" {
			return fmt.Errorf("dsn cannot be empty for kind %q", p.Kind)
		}
		if p.MaxOpenConns <= 0 {
			return fmt.Errorf("max_open_conns must be positive, got %d", p.MaxOpenConns)
		}
	default:
		return fmt.Errorf("kind must be none, jsonl or postgres, got %q", p.Kind)
	}
	return nil
}

// Scanner returns the orchestrator settings
func (s ScanConfig) Scanner() scan.Config {
	return scan.Config{
		TargetDTE:     s.TargetDTE,
		DeltaRange:    s.DeltaRange,
		Concurrency:   s.Concurrency,
		TickerTimeout: s.TickerTimeout,
		MinReturn:     s.MinReturn,
	}
}

// Underlying returns the per-ticker load options
func (s ScanConfig) Underlying() underlying.Options {
	opts := underlying.DefaultOptions()
	opts.Window = s.DTEWindow
	opts.VolatilityLookback = time.Duration(s.Volatility.LookbackDays) * 24 * time.Hour
	opts.PeriodsPerYear = s.Volatility.PeriodsPerYear
	return opts
}

// Filter returns the watchlist record filter
func (w WatchlistConfig) Filter() watchlist.Filter {
	return watchlist.Filter{Country: w.Country, MaxPrice: w.MaxPrice}
}

// DB returns the connection settings for the postgres backend
func (p PersistenceConfig) DB() db.Config {
	cfg := db.DefaultConfig()
	cfg.DSN = p.DSN
	cfg.Enabled = p.Kind == PersistPostgres
	cfg.AutoMigrate = p.AutoMigrate
	if p.MaxOpenConns > 0 {
		cfg.MaxOpenConns = p.MaxOpenConns
		if cfg.MaxIdleConns > p.MaxOpenConns {
			cfg.MaxIdleConns = p.MaxOpenConns
		}
	}
	if p.QueryTimeout > 0 {
		cfg.QueryTimeout = p.QueryTimeout
	}
	return cfg
}
