package http

import (
	"context"
	"runtime"
	"time"

	"github.com/sawpanic/putrun/internal/net/budget"
)

// ProviderStatus reports the protections around one upstream provider
type ProviderStatus struct {
	Name      string        `json:"name"`
	Circuit   string        `json:"circuit"`
	Throttled bool          `json:"throttled"`
	Budget    *budget.Stats `json:"budget,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	System    SystemInfo             `json:"system"`
	Providers []ProviderStatus       `json:"providers,omitempty"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message"`
}

func (h *Handlers) gatherHealth(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.deps.Version,
		System:    systemInfo(),
		Checks:    make(map[string]CheckResult),
	}

	if h.deps.Providers != nil {
		response.Providers = h.deps.Providers()
		for _, p := range response.Providers {
			switch {
			case p.Circuit == "open":
				response.Checks["provider_"+p.Name] = CheckResult{Status: "fail", Message: "circuit breaker open"}
			case p.Budget != nil && p.Budget.Limit > 0 && p.Budget.Remaining == 0:
				response.Checks["provider_"+p.Name] = CheckResult{Status: "fail", Message: "daily budget exhausted"}
			case p.Circuit == "half-open" || p.Throttled:
				response.Checks["provider_"+p.Name] = CheckResult{Status: "warn", Message: "provider degraded"}
			default:
				response.Checks["provider_"+p.Name] = CheckResult{Status: "pass", Message: "provider available"}
			}
		}
	}

	if h.deps.Health != nil {
		check := h.deps.Health.Health(ctx)
		if check.Healthy {
			response.Checks["persistence"] = CheckResult{Status: "pass", Message: "database reachable"}
		} else {
			msg := "database unhealthy"
			if len(check.Errors) > 0 {
				msg = check.Errors[0]
			}
			response.Checks["persistence"] = CheckResult{Status: "fail", Message: msg}
		}
	}

	response.Status = overallStatus(response.Checks)
	return response
}

func systemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		NumGC:         memStats.NumGC,
	}
}

// overallStatus is unhealthy on any failed check, degraded on any warning
func overallStatus(checks map[string]CheckResult) string {
	status := "healthy"
	for _, c := range checks {
		switch c.Status {
		case "fail":
			return "unhealthy"
		case "warn":
			status = "degraded"
		}
	}
	return status
}
