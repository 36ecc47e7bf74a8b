package subscribers

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sentinel/internal/logger"
	"sentinel/internal/models"
)

// StreamConfig tunes the streaming transports.
type StreamConfig struct {
	SendBuffer   int           `yaml:"send_buffer"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultStreamConfig returns the keepalive settings used by the hub.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SendBuffer:   64,
		PingInterval: 30 * time.Second,
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func (c StreamConfig) withDefaults() StreamConfig {
	d := DefaultStreamConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Alert streams are read-only and unauthenticated; any origin may attach.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket delivers messages as JSON text frames over a websocket.
type WebSocket struct {
	id   string
	key  string
	conn *websocket.Conn
	cfg  StreamConfig

	send      chan models.Message
	done      chan struct{}
	closeOnce sync.Once
}

// Upgrade switches the request to a websocket and wraps it in a subscriber.
func Upgrade(w http.ResponseWriter, r *http.Request, key string, cfg StreamConfig) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, key, cfg), nil
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, key string, cfg StreamConfig) *WebSocket {
	cfg = cfg.withDefaults()
	return &WebSocket{
		id:   uuid.NewString(),
		key:  models.NormalizeKey(key),
		conn: conn,
		cfg:  cfg,
		send: make(chan models.Message, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// ID and Key implement Subscriber.
func (s *WebSocket) ID() string  { return s.id }
func (s *WebSocket) Key() string { return s.key }

// Send queues msg for the write pump.
func (s *WebSocket) Send(msg models.Message) error {
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

// Close stops the write pump, which sends a close frame and tears down the
// connection.
func (s *WebSocket) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Serve runs the connection until the peer goes away or Close is called.
func (s *WebSocket) Serve() {
	log := logger.WithComponent("websocket").With().
		Str("subscriber_id", s.id).
		Str("key", s.key).
		Logger()

	log.Info().Msg("subscriber connected")
	defer log.Info().Msg("subscriber disconnected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump()
	}()

	s.readPump()
	s.Close()
	wg.Wait()
}

// readPump discards client frames; it exists to process pongs and notice
// disconnects.
func (s *WebSocket) readPump() {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebSocket) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.Close()
				return
			}

		case <-s.done:
			deadline := time.Now().Add(time.Second)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"), deadline)
			return
		}
	}
}
