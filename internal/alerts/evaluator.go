package alerts

import (
	"time"

	"sentinel/internal/models"
)

// evaluateLocked produces one event per rule on key that value triggers.
// There is no hysteresis or cooldown: a rule fires on every evaluation for
// as long as its condition holds.
func (e *Engine) evaluateLocked(key string, value float64, at time.Time) []models.AlertEvent {
	var events []models.AlertEvent
	for _, rule := range e.listLocked(key) {
		if rule.Triggered(value) {
			events = append(events, models.NewAlertEvent(rule, value, at))
		}
	}
	return events
}
