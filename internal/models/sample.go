package models

import "time"

// Sample is the latest known value for a key. Only one is kept per key.
type Sample struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	FetchedAt time.Time `json:"fetched_at"`
}

// AlertEvent is produced when a Sample satisfies a Rule. It is dispatched
// immediately and never stored.
type AlertEvent struct {
	Key         string    `json:"key"`
	Value       float64   `json:"value"`
	Rule        Rule      `json:"rule"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// NewAlertEvent builds the event for rule firing on value.
func NewAlertEvent(rule Rule, value float64, at time.Time) AlertEvent {
	return AlertEvent{
		Key:   rule.Key,
		Value: value,
		Rule:  rule,
		Message: "Alert for " + rule.Owner + ": " + rule.Key + " has reached " +
			FormatPrice(value) + " (" + rule.Condition(value) + ")",
		TriggeredAt: at.UTC(),
	}
}
