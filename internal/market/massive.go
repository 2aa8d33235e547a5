package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/infrastructure/httpclient"
)

const massiveName = "massive"

// DefaultMassiveBaseURL is the public Massive REST root
const DefaultMassiveBaseURL = "https://api.massive.com"

// MassiveConfig configures the Massive (Polygon-compatible) REST provider
type MassiveConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int           // retries on HTTP 429
	Backoff    time.Duration // base backoff, doubled per retry
	HTTPClient *http.Client  // optional, overrides Timeout
}

// MassiveProvider implements Provider against the Massive REST API
type MassiveProvider struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

type massivePrevResp struct {
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		Close float64 `json:"c"`
	} `json:"results"`
}

type massiveContractsResp struct {
	Status  string `json:"status"`
	NextURL string `json:"next_url"`
	Results []struct {
		ContractType   string  `json:"contract_type"`
		ExpirationDate string  `json:"expiration_date"`
		StrikePrice    float64 `json:"strike_price"`
	} `json:"results"`
}

type massiveSnapshotResp struct {
	Status  string `json:"status"`
	NextURL string `json:"next_url"`
	Results []struct {
		Day struct {
			Close float64 `json:"close"`
		} `json:"day"`
		Details struct {
			ContractType   string  `json:"contract_type"`
			ExpirationDate string  `json:"expiration_date"`
			StrikePrice    float64 `json:"strike_price"`
		} `json:"details"`
		LastTrade struct {
			Price float64 `json:"price"`
		} `json:"last_trade"`
		UnderlyingAsset struct {
			Price float64 `json:"price"`
		} `json:"underlying_asset"`
	} `json:"results"`
}

type massiveAggsResp struct {
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		Close     float64 `json:"c"`
		Timestamp int64   `json:"t"`
	} `json:"results"`
}

// NewMassiveProvider creates a Massive-backed provider
func NewMassiveProvider(cfg MassiveConfig) *MassiveProvider {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = httpclient.New(httpclient.ClientConfig{
			MaxConcurrency: 8,
			RequestTimeout: timeout,
		})
	}

	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultMassiveBaseURL
	}

	return &MassiveProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		client:     client,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		now:        time.Now,
	}
}

// Name returns the provider name
func (m *MassiveProvider) Name() string {
	return massiveName
}

// GetLastClose returns the previous session close
func (m *MassiveProvider) GetLastClose(ctx context.Context, ticker string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?adjusted=true", m.baseURL, url.PathEscape(ticker))

	var resp massivePrevResp
	if err := m.getJSON(ctx, OpLastClose, endpoint, &resp); err != nil {
		return 0, err
	}
	if len(resp.Results) == 0 || resp.Results[0].Close <= 0 {
		return 0, fmt.Errorf("%w: no previous close for %s", ErrNoData, ticker)
	}

	return resp.Results[0].Close, nil
}

// GetAvailableExpirations walks the contracts reference endpoint and returns
// unique unexpired put expirations in chronological order
func (m *MassiveProvider) GetAvailableExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	query := url.Values{}
	query.Set("underlying_ticker", ticker)
	query.Set("contract_type", string(SidePut))
	query.Set("expired", "false")
	query.Set("limit", "1000")
	next := m.baseURL + "/v3/reference/options/contracts?" + query.Encode()

	seen := make(map[string]time.Time)
	for next != "" {
		var page massiveContractsResp
		if err := m.getJSON(ctx, OpExpirations, next, &page); err != nil {
			return nil, err
		}

		for _, c := range page.Results {
			exp, err := ParseDate(c.ExpirationDate)
			if err != nil {
				log.Debug().Str("ticker", ticker).Str("expiration", c.ExpirationDate).Msg("skipping malformed expiration")
				continue
			}
			seen[c.ExpirationDate] = exp
		}
		next = page.NextURL
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: no option expirations for %s", ErrNoData, ticker)
	}

	expirations := make([]time.Time, 0, len(seen))
	for _, exp := range seen {
		expirations = append(expirations, exp)
	}
	sort.Slice(expirations, func(i, j int) bool { return expirations[i].Before(expirations[j]) })

	log.Debug().Str("ticker", ticker).Int("expirations", len(expirations)).Msg("resolved expirations")
	return expirations, nil
}

// GetOptionChain returns the chain snapshot for one expiration, sorted by strike.
// The last price is the last trade, falling back to the session close.
func (m *MassiveProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time, side Side) ([]OptionQuote, error) {
	query := url.Values{}
	query.Set("expiration_date", FormatDate(expiration))
	query.Set("contract_type", string(side))
	query.Set("limit", "250")
	next := fmt.Sprintf("%s/v3/snapshot/options/%s?%s", m.baseURL, url.PathEscape(ticker), query.Encode())

	var quotes []OptionQuote
	for next != "" {
		var page massiveSnapshotResp
		if err := m.getJSON(ctx, OpOptionChain, next, &page); err != nil {
			return nil, err
		}

		for _, r := range page.Results {
			if r.Details.StrikePrice <= 0 {
				continue
			}
			last := r.LastTrade.Price
			if last <= 0 {
				last = r.Day.Close
			}

			itm := false
			if spot := r.UnderlyingAsset.Price; spot > 0 {
				if side == SidePut {
					itm = r.Details.StrikePrice > spot
				} else {
					itm = r.Details.StrikePrice < spot
				}
			}

			quotes = append(quotes, OptionQuote{
				Strike:     r.Details.StrikePrice,
				LastPrice:  last,
				InTheMoney: itm,
			})
		}
		next = page.NextURL
	}

	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Strike < quotes[j].Strike })
	return quotes, nil
}

// GetHistoricalCloses returns adjusted daily closes over the lookback window
func (m *MassiveProvider) GetHistoricalCloses(ctx context.Context, ticker string, lookback time.Duration) ([]float64, error) {
	to := m.now().UTC()
	from := to.Add(-lookback)

	endpoint := fmt.Sprintf(
		"%s/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&limit=50000",
		m.baseURL,
		url.PathEscape(ticker),
		FormatDate(from),
		FormatDate(to),
	)

	var resp massiveAggsResp
	if err := m.getJSON(ctx, OpHistory, endpoint, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: no daily bars for %s", ErrNoData, ticker)
	}

	closes := make([]float64, 0, len(resp.Results))
	for _, r := range resp.Results {
		closes = append(closes, r.Close)
	}
	return closes, nil
}

// getJSON performs a GET with bounded retries on HTTP 429 and decodes the body
func (m *MassiveProvider) getJSON(ctx context.Context, op, endpoint string, out interface{}) error {
	backoff := m.backoff

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &ProviderError{Provider: massiveName, Op: op, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			return &ProviderError{Provider: massiveName, Op: op, Err: err}
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return &ProviderError{Provider: massiveName, Op: op, Err: readErr}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests && attempt < m.maxRetries:
			log.Debug().Str("op", op).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("rate limited by massive, backing off")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &ProviderError{Provider: massiveName, Op: op, Err: ctx.Err()}
			}
			backoff *= 2
			continue
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s returned 404", ErrNoData, op)
		case resp.StatusCode >= 400:
			var msg struct {
				Message string `json:"message"`
				Error   string `json:"error"`
			}
			_ = json.Unmarshal(body, &msg)
			detail := msg.Message
			if detail == "" {
				detail = msg.Error
			}
			if detail == "" {
				detail = http.StatusText(resp.StatusCode)
			}
			return &ProviderError{
				Provider:   massiveName,
				Op:         op,
				StatusCode: resp.StatusCode,
				Err:        errors.New(detail),
			}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return &ProviderError{Provider: massiveName, Op: op, Err: fmt.Errorf("decode: %w", err)}
		}
		return nil
	}
}
