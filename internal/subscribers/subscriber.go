// Package subscribers tracks live delivery targets for alert messages and
// fans messages out to them.
package subscribers

import (
	"errors"

	"sentinel/internal/models"
)

// Delivery errors
var (
	ErrDelivery = errors.New("subscriber unreachable")
	ErrClosed   = errors.New("subscriber closed")
)

// Subscriber is a live delivery target. Send must not block: transports
// queue the message and write it from their own goroutine.
type Subscriber interface {
	// ID uniquely identifies the subscriber within a Registry
	ID() string

	// Key is the sample key filter; "" receives alerts for every key
	Key() string

	// Send queues msg for delivery. An error means the subscriber is gone.
	Send(msg models.Message) error

	// Close releases the underlying transport. Safe to call more than once.
	Close() error
}

// Matches reports whether sub wants msg. Heartbeats go to everyone.
func Matches(sub Subscriber, msg models.Message) bool {
	if sub.Key() == "" || msg.Type != models.MessageAlert {
		return true
	}
	return sub.Key() == msg.Key()
}
