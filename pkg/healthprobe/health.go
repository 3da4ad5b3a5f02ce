// Package healthprobe serves liveness and readiness probes. Liveness
// is unconditional; readiness flips once the engine finishes startup
// recovery and flips back during shutdown.
package healthprobe

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker tracks process readiness.
type HealthChecker struct {
	startedAt time.Time
	ready     atomic.Bool
}

// New creates a HealthChecker. The process starts not-ready.
func New() *HealthChecker {
	return &HealthChecker{startedAt: time.Now()}
}

// SetReady marks the process ready (or not) to take traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the current readiness flag.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

type probeResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Message       string  `json:"message,omitempty"`
}

func (h *HealthChecker) write(w http.ResponseWriter, code int, resp probeResponse) {
	resp.UptimeSeconds = time.Since(h.startedAt).Seconds()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// Health returns the liveness handler. 200 whenever the process runs.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h.write(w, http.StatusOK, probeResponse{Status: "healthy"})
	}
}

// Ready returns the readiness handler: 200 when ready, 503 while
// starting up or draining.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !h.ready.Load() {
			h.write(w, http.StatusServiceUnavailable, probeResponse{
				Status:  "not_ready",
				Message: "engine is not accepting work",
			})
			return
		}
		h.write(w, http.StatusOK, probeResponse{Status: "ready"})
	}
}
