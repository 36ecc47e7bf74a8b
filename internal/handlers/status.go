package handlers

import (
	"net/http"
	"time"

	"sentinel/internal/alerts"
	"sentinel/internal/scheduler"
)

const fetchTimeoutDefault = 10 * time.Second

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	Engine    alerts.Stats     `json:"engine"`
	Scheduler *scheduler.Stats `json:"scheduler,omitempty"`
}

// handleHealth reports unhealthy once the scheduler has left Running.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.Scheduler != nil {
		state := h.Scheduler.State()
		body["scheduler"] = state.String()
		if state != scheduler.Running {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
	}

	writeJSON(w, status, body)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Engine: h.Engine.Stats()}
	if h.Scheduler != nil {
		st := h.Scheduler.Stats()
		resp.Scheduler = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
