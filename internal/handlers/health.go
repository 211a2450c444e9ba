package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/verano-shop/api/internal/platform/httpx"
	"github.com/verano-shop/api/internal/services"
)

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	system  services.SystemService
	started time.Time
}

// NewHealthHandlers constructs health handlers. A nil system service degrades
// /readyz to the same static response as /healthz.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{
		system:  system,
		started: time.Now().UTC(),
	}
}

// Healthz reports process liveness only.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

// Readyz probes downstream dependencies and fails when any of them do.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.system == nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", "unable to collect dependency health", http.StatusServiceUnavailable))
		return
	}

	checks := make([]healthCheckPayload, 0, len(report.Checks))
	for _, check := range report.Checks {
		checks = append(checks, healthCheckPayload{
			Name:    strings.TrimSpace(check.Name),
			Healthy: check.Healthy,
			Detail:  strings.TrimSpace(check.Detail),
			TookMS:  check.Took.Milliseconds(),
		})
	}

	payload := healthReportPayload{
		Status:      "ok",
		GeneratedAt: formatTime(report.GeneratedAt),
		Checks:      checks,
	}
	status := http.StatusOK
	if !report.Healthy {
		payload.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

type healthReportPayload struct {
	Status      string               `json:"status"`
	GeneratedAt string               `json:"generated_at,omitempty"`
	Checks      []healthCheckPayload `json:"checks"`
}

type healthCheckPayload struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
	TookMS  int64  `json:"took_ms"`
}
