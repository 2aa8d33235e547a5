package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/cache"
	"github.com/sawpanic/putrun/internal/infrastructure/httpclient"
	"github.com/sawpanic/putrun/internal/net/ratelimit"
)

// DefaultTreasuryBaseURL is the US Treasury fiscal data service root
const DefaultTreasuryBaseURL = "https://api.fiscaldata.treasury.gov/services/api/fiscal_service"

const (
	treasuryEndpoint = "/v2/accounting/od/avg_interest_rates"
	treasuryName     = "treasury"
	treasuryCacheKey = "treasury:tbill_rate"
)

// TreasuryConfig configures the Treasury Bills rate client
type TreasuryConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Cache      cache.Cache
	CacheTTL   time.Duration
}

// TreasuryProvider reads the latest average Treasury Bills interest rate
type TreasuryProvider struct {
	baseURL  string
	client   *http.Client
	limiter  *ratelimit.Limiter
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

type treasuryResp struct {
	Data []treasuryRecord `json:"data"`
}

type treasuryRecord struct {
	RecordDate      string `json:"record_date"`
	SecurityDesc    string `json:"security_desc"`
	AvgInterestRate string `json:"avg_interest_rate_amt"`
}

// NewTreasuryProvider creates a Treasury-backed rate provider
func NewTreasuryProvider(cfg TreasuryConfig) *TreasuryProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultTreasuryBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = httpclient.New(httpclient.ClientConfig{MaxConcurrency: 2, RequestTimeout: timeout})
	}

	return &TreasuryProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		limiter:  cfg.Limiter,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		now:      time.Now,
	}
}

// GetCurrentRate returns the most recent record's rate divided by 100
func (t *TreasuryProvider) GetCurrentRate(ctx context.Context) (float64, error) {
	if t.cache != nil {
		if raw, ok := t.cache.Get(ctx, treasuryCacheKey); ok {
			if rate, err := strconv.ParseFloat(string(raw), 64); err == nil && Validate(rate) == nil {
				return rate, nil
			}
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, treasuryName); err != nil {
			return 0, fmt.Errorf("treasury rate limiter: %w", err)
		}
	}

	query := url.Values{}
	query.Set("filter", fmt.Sprintf("record_calendar_year:gte:%d,security_desc:eq:Treasury Bills", t.now().Year()-1))
	endpoint := t.baseURL + treasuryEndpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build treasury request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("treasury request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read treasury response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("treasury API returned HTTP %d", resp.StatusCode)
	}

	var payload treasuryResp
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode treasury response: %w", err)
	}
	if len(payload.Data) == 0 {
		return 0, fmt.Errorf("treasury API returned no Treasury Bills records")
	}

	// record_date is ISO formatted so lexical order is chronological
	sort.SliceStable(payload.Data, func(i, j int) bool {
		return payload.Data[i].RecordDate < payload.Data[j].RecordDate
	})
	latest := payload.Data[len(payload.Data)-1]

	pct, err := strconv.ParseFloat(strings.TrimSpace(latest.AvgInterestRate), 64)
	if err != nil {
		return 0, fmt.Errorf("parse treasury rate %q: %w", latest.AvgInterestRate, err)
	}
	rate := pct / 100
	if err := Validate(rate); err != nil {
		return 0, err
	}

	log.Debug().
		Str("record_date", latest.RecordDate).
		Float64("rate", rate).
		Msg("fetched treasury bills rate")

	if t.cache != nil {
		t.cache.Set(ctx, treasuryCacheKey, []byte(strconv.FormatFloat(rate, 'g', -1, 64)), t.cacheTTL)
	}
	return rate, nil
}
