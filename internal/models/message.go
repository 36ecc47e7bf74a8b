package models

import (
	"time"
)

// MessageType discriminates stream messages.
type MessageType string

const (
	MessageAlert     MessageType = "alert"
	MessageHeartbeat MessageType = "heartbeat"
)

// HeartbeatText is sent to every subscriber at the end of each tick.
const HeartbeatText = "Checking alerts..."

// Message wraps what is pushed to stream subscribers
type Message struct {
	Type MessageType `json:"type"`

	// Set for alert messages
	Event *AlertEvent `json:"event,omitempty"`

	// Human readable text; the alert message or the heartbeat text
	Text string `json:"text"`

	Timestamp time.Time `json:"timestamp"`
}

// NewAlertMessage wraps an alert event for delivery
func NewAlertMessage(event AlertEvent) Message {
	return Message{
		Type:      MessageAlert,
		Event:     &event,
		Text:      event.Message,
		Timestamp: event.TriggeredAt,
	}
}

// NewHeartbeat creates a keepalive message
func NewHeartbeat(at time.Time) Message {
	return Message{
		Type:      MessageHeartbeat,
		Text:      HeartbeatText,
		Timestamp: at.UTC(),
	}
}

// Key returns the sample key an alert message refers to, or "" for heartbeats.
func (m Message) Key() string {
	if m.Event == nil {
		return ""
	}
	return m.Event.Key
}
