// Package bus forwards alert events to NATS subjects.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"sentinel/internal/logger"
	"sentinel/internal/models"
)

// SinkName labels this sink in logs and metrics
const SinkName = "nats"

// Publisher sends JSON payloads over a NATS connection.
type Publisher struct {
	Conn *nats.Conn
}

// NewPublisher connects to url, reconnecting indefinitely after a drop.
func NewPublisher(url, name string) (*Publisher, error) {
	log := logger.WithComponent("nats")

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrlRedacted()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{Conn: conn}, nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.Conn == nil {
		return nil
	}
	err := p.Conn.Drain()
	p.Conn.Close()
	return err
}

// Publish JSON-encodes payload onto subject.
func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// Subject returns the subject alerts for key are published on:
// prefix + "." + key, with NATS tokens and wildcards in key replaced.
func Subject(prefix, key string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, key)
	if token == "" {
		token = "_"
	}
	return prefix + "." + token
}

// Sink publishes each alert event on its key's subject. It implements
// alerts.Sink.
type Sink struct {
	pub    *Publisher
	prefix string
}

// NewSink publishes alerts under prefix through pub.
func NewSink(pub *Publisher, prefix string) *Sink {
	return &Sink{pub: pub, prefix: prefix}
}

// Name labels the sink in logs and metrics.
func (s *Sink) Name() string { return SinkName }

// Publish sends each event to its key subject, then flushes within ctx.
func (s *Sink) Publish(ctx context.Context, events []models.AlertEvent) error {
	for _, evt := range events {
		if err := s.pub.Publish(Subject(s.prefix, evt.Key), evt); err != nil {
			return fmt.Errorf("publish %s: %w", evt.Key, err)
		}
	}
	return s.pub.Conn.FlushWithContext(ctx)
}

// Close drains and closes the underlying publisher.
func (s *Sink) Close() error { return s.pub.Close() }
