package handlers

import (
	"context"
	"errors"
	"net/http"

	"sentinel/internal/alerts"
	"sentinel/internal/fetch"
	"sentinel/internal/logger"
	"sentinel/internal/models"
)

// PriceResponse is the body of GET /price/{key}
type PriceResponse struct {
	Key   string  `json:"key"`
	Price string  `json:"price"`
	Value float64 `json:"value"`
}

func (h *Handler) handleSampleList(w http.ResponseWriter, r *http.Request) {
	samples := h.Engine.Samples()
	if samples == nil {
		samples = []models.Sample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "count": len(samples)})
}

func (h *Handler) handleSampleGet(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r, "*")
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, KindBadRequest, "key is required")
		return
	}

	sample, err := h.Engine.Sample(key)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			writeError(w, http.StatusNotFound, KindNotFound, "no sample fetched yet for "+models.NormalizeKey(key))
			return
		}
		writeError(w, http.StatusInternalServerError, KindInternal, "failed to read sample")
		return
	}

	writeJSON(w, http.StatusOK, sample)
}

// handlePrice fetches key from the source right now without storing it.
func (h *Handler) handlePrice(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r, "*")
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, KindBadRequest, "key is required")
		return
	}
	key = models.NormalizeKey(key)

	timeout := h.FetchTimeout
	if timeout <= 0 {
		timeout = fetchTimeoutDefault
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	value, err := h.Fetcher.Fetch(ctx, key)
	if err != nil {
		log := logger.WithComponent("handlers")
		log.Warn().
			Err(err).
			Str("key", key).
			Str("kind", string(fetch.KindOf(err))).
			Msg("live fetch failed")
		writeError(w, http.StatusNotFound, KindNotFound, "Failed to retrieve the price")
		return
	}

	writeJSON(w, http.StatusOK, PriceResponse{
		Key:   key,
		Price: models.FormatPrice(value),
		Value: value,
	})
}
