package handlers

import (
	"errors"
	"net/http"
	"time"

	"sentinel/internal/logger"
	"sentinel/internal/subscribers"
)

// handleWebSocket attaches a websocket subscriber for ?key= (all keys when
// absent) until either side closes it.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := subscribers.Upgrade(w, r, r.URL.Query().Get("key"), h.Stream)
	if err != nil {
		// the upgrader has already written the error response
		log := logger.WithComponent("handlers")
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.Engine.Subscribe(ws)
	defer h.Engine.Unsubscribe(ws.ID())

	ws.Serve()
}

// handleStream attaches a server-sent events subscriber for ?key=.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sse := subscribers.NewSSE(r.URL.Query().Get("key"), h.Stream)

	// the stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h.Engine.Subscribe(sse)
	defer h.Engine.Unsubscribe(sse.ID())

	log := logger.WithComponent("sse").With().
		Str("subscriber_id", sse.ID()).
		Str("key", sse.Key()).
		Logger()
	log.Info().Msg("subscriber connected")

	if err := sse.Serve(r.Context(), w); err != nil {
		if errors.Is(err, subscribers.ErrStreamingUnsupported) {
			writeError(w, http.StatusInternalServerError, KindInternal, err.Error())
			return
		}
		log.Debug().Err(err).Msg("stream write failed")
	}
	log.Info().Msg("subscriber disconnected")
}
