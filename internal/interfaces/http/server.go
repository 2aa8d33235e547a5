// Package http serves scan results, health and metrics over HTTP.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/persistence"
	"github.com/sawpanic/putrun/internal/scan"
)

// Scanner runs one scan over a watchlist
type Scanner interface {
	Scan(ctx context.Context, tickers []string) *scan.Result
}

// TickerSource resolves the watchlist, honoring explicit tickers when given
type TickerSource func(ctx context.Context, explicit []string) ([]string, error)

// Deps are the collaborators behind the routes. Rankings, Health and
// Providers are optional.
type Deps struct {
	Scanner   Scanner
	Tickers   TickerSource
	Rankings  persistence.RankingRepo
	Health    persistence.RepositoryHealth
	Metrics   http.Handler
	Providers func() []ProviderStatus
	Version   string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	RequestTimeout time.Duration // non-scan routes
	ScanTimeout    time.Duration // whole POST /scan request
	IdleTimeout    time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           "127.0.0.1:8080",
		ReadTimeout:    10 * time.Second,
		RequestTimeout: 5 * time.Second,
		ScanTimeout:    5 * time.Minute,
		IdleTimeout:    60 * time.Second,
	}
}

// Server represents the scan HTTP server
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	config   ServerConfig
}

// NewServer creates a server; it does not start listening
func NewServer(config ServerConfig, deps Deps) (*Server, error) {
	if deps.Scanner == nil || deps.Tickers == nil {
		return nil, fmt.Errorf("scanner and ticker source are required")
	}

	s := &Server{
		router:   mux.NewRouter(),
		handlers: NewHandlers(deps),
		config:   config,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.ScanTimeout + 10*time.Second,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	if s.handlers.deps.Metrics != nil {
		s.router.Handle("/metrics", s.handlers.deps.Metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.Handle("/health", s.withTimeout(s.config.RequestTimeout, s.handlers.Health)).Methods(http.MethodGet)
	api.Handle("/scan/latest", s.withTimeout(s.config.RequestTimeout, s.handlers.Latest)).Methods(http.MethodGet)
	api.Handle("/scan", s.withTimeout(s.config.ScanTimeout, s.handlers.Scan)).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// withTimeout enforces a request timeout through the context
func (s *Server) withTimeout(timeout time.Duration, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if timeout <= 0 {
			fn(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		fn(w, r.WithContext(ctx))
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
