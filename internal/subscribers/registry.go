package subscribers

import (
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/models"
)

// Registry is the set of attached subscribers.
//
// It has no lock of its own: the alert engine owns it and serializes every
// call with its registry lock.
type Registry struct {
	subs map[string]Subscriber
}

// DispatchResult counts the outcome of one fan-out
type DispatchResult struct {
	Delivered int
	Dropped   int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string]Subscriber),
	}
}

// Add registers sub. A subscriber with the same ID is replaced and closed.
func (r *Registry) Add(sub Subscriber) {
	if existing, ok := r.subs[sub.ID()]; ok && existing != sub {
		_ = existing.Close()
	}
	r.subs[sub.ID()] = sub
	metrics.SubscribersActive.Set(float64(len(r.subs)))
}

// Remove unregisters the subscriber with id without closing it.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	metrics.SubscribersActive.Set(float64(len(r.subs)))
	return true
}

// Dispatch delivers msg to every matching subscriber. Subscribers whose Send
// fails are unregistered and closed; delivery to the others continues.
func (r *Registry) Dispatch(msg models.Message) DispatchResult {
	var res DispatchResult

	for id, sub := range r.subs {
		if !Matches(sub, msg) {
			continue
		}

		if err := sub.Send(msg); err != nil {
			delete(r.subs, id)
			_ = sub.Close()
			res.Dropped++

			log := logger.WithComponent("subscribers")
			log.Debug().
				Err(err).
				Str("subscriber_id", id).
				Str("key", sub.Key()).
				Msg("subscriber dropped")
			continue
		}
		res.Delivered++
	}

	metrics.DispatchTotal.WithLabelValues("delivered").Add(float64(res.Delivered))
	metrics.DispatchTotal.WithLabelValues("dropped").Add(float64(res.Dropped))
	if res.Dropped > 0 {
		metrics.SubscribersActive.Set(float64(len(r.subs)))
	}

	return res
}

// Len returns the number of attached subscribers.
func (r *Registry) Len() int {
	return len(r.subs)
}

// CloseAll closes and unregisters every subscriber.
func (r *Registry) CloseAll() int {
	n := len(r.subs)
	for id, sub := range r.subs {
		_ = sub.Close()
		delete(r.subs, id)
	}
	metrics.SubscribersActive.Set(0)
	return n
}
