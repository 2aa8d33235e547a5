package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/persistence"
	"github.com/sawpanic/putrun/internal/scan"
)

// ScanRequest is the optional POST /scan body
type ScanRequest struct {
	Tickers []string `json:"tickers"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Handlers implements the API routes
type Handlers struct {
	deps      Deps
	startTime time.Time

	scanMu sync.Mutex // held while a scan runs
	lastMu sync.RWMutex
	last   *persistence.Ranking
}

// NewHandlers creates the route handlers
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, startTime: time.Now()}
}

// Health reports provider, persistence and runtime status
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	response := h.gatherHealth(r.Context())

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// Scan runs a scan synchronously and returns the full result. One scan
// runs at a time; concurrent requests get 409.
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	if !h.scanMu.TryLock() {
		writeError(w, http.StatusConflict, "scan_in_progress", "another scan is running")
		return
	}
	defer h.scanMu.Unlock()

	tickers, err := h.deps.Tickers(r.Context(), req.Tickers)
	if err != nil {
		writeError(w, http.StatusBadRequest, "watchlist_error", err.Error())
		return
	}

	result := h.deps.Scanner.Scan(r.Context(), tickers)

	ranking := scan.RankingOf(result)
	h.lastMu.Lock()
	h.last = &ranking
	h.lastMu.Unlock()

	writeJSON(w, http.StatusOK, result)
}

// Latest returns the most recent ranking, from persistence when configured
// and otherwise from the last scan served by this process
func (h *Handlers) Latest(w http.ResponseWriter, r *http.Request) {
	var latest *persistence.Ranking

	if h.deps.Rankings != nil {
		ranking, err := h.deps.Rankings.Latest(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("failed to load latest ranking")
			writeError(w, http.StatusInternalServerError, "persistence_error", "failed to load latest ranking")
			return
		}
		latest = ranking
	} else {
		h.lastMu.RLock()
		latest = h.last
		h.lastMu.RUnlock()
	}

	if latest == nil {
		writeError(w, http.StatusNotFound, "not_found", "no scan has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// NotFound handles unknown routes
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not_found", "endpoint "+r.URL.Path+" does not exist")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
