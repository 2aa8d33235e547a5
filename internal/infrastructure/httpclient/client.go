package httpclient

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultUserAgent identifies outbound requests
const DefaultUserAgent = "putrun/1.0"

// ClientConfig configures outbound HTTP clients for upstream providers
type ClientConfig struct {
	MaxConcurrency int // in-flight requests per client, 0 is unbounded
	RequestTimeout time.Duration
	UserAgent      string
}

// DefaultClientConfig returns a 30 second timeout with eight in-flight requests
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxConcurrency: 8,
		RequestTimeout: 30 * time.Second,
		UserAgent:      DefaultUserAgent,
	}
}

// New returns an *http.Client whose transport bounds concurrency and stamps
// the User-Agent header
func New(config ClientConfig) *http.Client {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultClientConfig().RequestTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.RequestTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{
		Timeout:   config.RequestTimeout,
		Transport: NewTransport(base, config),
	}
}

// Transport is a RoundTripper that limits in-flight requests
type Transport struct {
	next      http.RoundTripper
	semaphore chan struct{}
	userAgent string
	inFlight  atomic.Int64
}

// NewTransport wraps next. A nil next uses http.DefaultTransport.
func NewTransport(next http.RoundTripper, config ClientConfig) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	t := &Transport{next: next, userAgent: config.UserAgent}
	if config.MaxConcurrency > 0 {
		t.semaphore = make(chan struct{}, config.MaxConcurrency)
	}
	return t
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.acquire(req.Context()); err != nil {
		return nil, err
	}
	defer t.release()

	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

// InFlight returns the number of requests currently holding a slot
func (t *Transport) InFlight() int64 {
	return t.inFlight.Load()
}

func (t *Transport) acquire(ctx context.Context) error {
	if t.semaphore != nil {
		select {
		case t.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.inFlight.Add(1)
	return nil
}

func (t *Transport) release() {
	t.inFlight.Add(-1)
	if t.semaphore != nil {
		<-t.semaphore
	}
}
