package subscribers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/models"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SSE delivers messages as server-sent events.
type SSE struct {
	id  string
	key string
	cfg StreamConfig

	send      chan models.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSE creates a server-sent events subscriber for key.
func NewSSE(key string, cfg StreamConfig) *SSE {
	cfg = cfg.withDefaults()
	return &SSE{
		id:   uuid.NewString(),
		key:  models.NormalizeKey(key),
		cfg:  cfg,
		send: make(chan models.Message, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// ID and Key implement Subscriber.
func (s *SSE) ID() string  { return s.id }
func (s *SSE) Key() string { return s.key }

// Send queues msg for Serve; a full buffer drops the subscriber.
func (s *SSE) Send(msg models.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", ErrDelivery)
	}
}

// Close ends Serve. Safe to call more than once.
func (s *SSE) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Serve writes queued messages to w until ctx ends or Close is called.
func (s *SSE) Serve(ctx context.Context, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}
	defer s.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// comment lines keep idle proxies from cutting the stream
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
				return err
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()

		case <-ctx.Done():
			return nil

		case <-s.done:
			return nil
		}
	}
}
