// Package handlers exposes the alert engine over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"sentinel/internal/alerts"
	"sentinel/internal/fetch"
	"sentinel/internal/scheduler"
	"sentinel/internal/subscribers"
)

// Error kinds returned in error bodies
const (
	KindInvalidRule      = "invalid_rule"
	KindNotFound         = "not_found"
	KindBadRequest       = "bad_request"
	KindMethodNotAllowed = "method_not_allowed"
	KindInternal         = "internal"
)

// Handler serves the HTTP API
type Handler struct {
	Engine    *alerts.Engine
	Fetcher   fetch.Fetcher
	Scheduler *scheduler.Scheduler

	// Bound for the live fetch behind GET /price
	FetchTimeout time.Duration

	// Settings for websocket and SSE subscribers
	Stream subscribers.StreamConfig

	// Maximum request body size
	MaxBodySize int64
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// RegisterRoutes mounts the API on r
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleRoot)

	r.Route("/rules", func(r chi.Router) {
		r.Post("/", h.handleRuleCreate)
		r.Get("/", h.handleRuleList)
		r.Delete("/{key}/{owner}", h.handleRuleDelete)
	})
	r.Post("/set_alert", h.handleRuleCreate)
	r.Post("/set_alert/", h.handleRuleCreate)

	r.Get("/samples", h.handleSampleList)
	r.Get("/samples/*", h.handleSampleGet)
	r.Get("/price/*", h.handlePrice)

	r.Get("/ws", h.handleWebSocket)
	r.Get("/stream", h.handleStream)

	r.Get("/health", h.handleHealth)
	r.Get("/stats", h.handleStats)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, KindNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, KindMethodNotAllowed, "method not allowed")
	})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": "Welcome to the sentinel alert API!"})
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	limit := h.MaxBodySize
	if limit <= 0 {
		limit = 1 << 20
	}
	body := http.MaxBytesReader(w, r.Body, limit)

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// pathKey returns the wildcard or named URL parameter with percent-escapes
// resolved, so keys containing '/' can be addressed.
func pathKey(r *http.Request, name string) (string, error) {
	return url.PathUnescape(chi.URLParam(r, name))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Kind: kind, Error: message})
}
