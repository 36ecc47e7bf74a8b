package subscribers

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"sentinel/internal/models"
)

// Chan is an in-process subscriber backed by a buffered channel.
type Chan struct {
	id  string
	key string

	mu     sync.Mutex
	ch     chan models.Message
	closed bool
}

// NewChan creates a channel subscriber for key ("" for all keys).
func NewChan(key string, buffer int) *Chan {
	if buffer <= 0 {
		buffer = 64
	}
	return &Chan{
		id:  uuid.NewString(),
		key: models.NormalizeKey(key),
		ch:  make(chan models.Message, buffer),
	}
}

// ID and Key implement Subscriber.
func (c *Chan) ID() string  { return c.id }
func (c *Chan) Key() string { return c.key }

// C returns the receive side. It is closed by Close.
func (c *Chan) C() <-chan models.Message { return c.ch }

// Send queues msg, failing when the buffer is full or the subscriber closed.
func (c *Chan) Send(msg models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.ch <- msg:
		return nil
	default:
		return fmt.Errorf("%w: buffer full", ErrDelivery)
	}
}

// Close closes the channel returned by C.
func (c *Chan) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
