package handlers

import (
	"net/http"
	"time"
)

// HealthHandlers exposes liveness and readiness endpoints.
type HealthHandlers struct {
	startedAt time.Time
	now       func() time.Time
	ready     func() bool
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithReadinessCheck supplies the readiness probe. Without one the service is
// always considered ready.
func WithReadinessCheck(ready func() bool) HealthOption {
	return func(h *HealthHandlers) {
		h.ready = ready
	}
}

// NewHealthHandlers constructs health handlers with optional overrides.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.now()
	return h
}

// Healthz reports liveness along with process uptime.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

// Readyz reports readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
}
