// Package alerts holds the threshold alert engine: the rule registry, the
// sample store and the subscriber set behind one lock, plus rule
// evaluation.
package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/metrics"
	"sentinel/internal/models"
	"sentinel/internal/storage"
	"sentinel/internal/subscribers"
)

// Sink receives alert events after they have been dispatched to
// subscribers, e.g. a message broker.
type Sink interface {
	Name() string
	Publish(ctx context.Context, events []models.AlertEvent) error
	Close() error
}

// Engine is the threshold alert engine. It is constructed once at process
// start and shared by reference with the scheduler and the HTTP layer.
type Engine struct {
	mu sync.Mutex

	samples *storage.Samples
	rules   map[string]map[string]models.Rule // key -> owner -> rule
	nrules  int
	subs    *subscribers.Registry

	now func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for samples and events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an empty engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		samples: storage.NewSamples(),
		rules:   make(map[string]map[string]models.Rule),
		subs:    subscribers.NewRegistry(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IngestResult is the outcome of storing one fetched sample
type IngestResult struct {
	Sample    models.Sample
	Events    []models.AlertEvent
	Delivered int
	Dropped   int
}

// Stats is a point-in-time view of the engine
type Stats struct {
	Rules       int `json:"rules"`
	Keys        int `json:"keys"`
	Samples     int `json:"samples"`
	Subscribers int `json:"subscribers"`
}

// Upsert validates rule and stores it, replacing any rule with the same
// (key, owner). The stored rule gets a fresh ID.
func (e *Engine) Upsert(rule models.Rule) (models.Rule, error) {
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return models.Rule{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	rule.ID = uuid.NewString()
	rule.UpdatedAt = e.now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	byOwner, ok := e.rules[rule.Key]
	if !ok {
		byOwner = make(map[string]models.Rule)
		e.rules[rule.Key] = byOwner
	}
	if _, exists := byOwner[rule.Owner]; !exists {
		e.nrules++
	}
	byOwner[rule.Owner] = rule
	metrics.RulesActive.Set(float64(e.nrules))

	return rule, nil
}

// Remove deletes the rule for (key, owner).
func (e *Engine) Remove(key, owner string) error {
	key = models.NormalizeKey(key)
	owner = strings.TrimSpace(owner)

	e.mu.Lock()
	defer e.mu.Unlock()

	byOwner, ok := e.rules[key]
	if !ok {
		return fmt.Errorf("%w: no rules for key %q", ErrNotFound, key)
	}
	if _, ok := byOwner[owner]; !ok {
		return fmt.Errorf("%w: no rule for key %q and owner %q", ErrNotFound, key, owner)
	}

	delete(byOwner, owner)
	if len(byOwner) == 0 {
		delete(e.rules, key)
	}
	e.nrules--
	metrics.RulesActive.Set(float64(e.nrules))

	return nil
}

// ListByKey returns the rules watching key, ordered by owner.
func (e *Engine) ListByKey(key string) []models.Rule {
	key = models.NormalizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.listLocked(key)
}

// List returns every rule ordered by key then owner.
func (e *Engine) List() []models.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Rule, 0, e.nrules)
	for _, key := range e.keysLocked() {
		out = append(out, e.listLocked(key)...)
	}
	return out
}

// Keys returns the distinct keys that have at least one rule, sorted.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.keysLocked()
}

// Sample returns the latest sample for key.
func (e *Engine) Sample(key string) (models.Sample, error) {
	key = models.NormalizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	sample, ok := e.samples.Get(key)
	if !ok {
		return models.Sample{}, fmt.Errorf("%w: no sample for key %q", ErrNotFound, key)
	}
	return sample, nil
}

// Samples returns every stored sample ordered by key.
func (e *Engine) Samples() []models.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.samples.All()
}

// Evaluate returns an event for every rule on key that value triggers. It
// does not store the value or dispatch anything.
func (e *Engine) Evaluate(key string, value float64) []models.AlertEvent {
	key = models.NormalizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.evaluateLocked(key, value, e.now())
}

// Ingest stores value as the latest sample for key, evaluates the rules on
// key and dispatches the resulting events to subscribers, all under the
// registry lock.
func (e *Engine) Ingest(key string, value float64) IngestResult {
	key = models.NormalizeKey(key)
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	res := IngestResult{
		Sample: e.samples.Put(key, value, now),
		Events: e.evaluateLocked(key, value, now),
	}

	for _, evt := range res.Events {
		d := e.subs.Dispatch(models.NewAlertMessage(evt))
		res.Delivered += d.Delivered
		res.Dropped += d.Dropped
	}
	if len(res.Events) > 0 {
		metrics.AlertsTriggeredTotal.WithLabelValues(key).Add(float64(len(res.Events)))
	}

	return res
}

// Subscribe attaches sub; it receives every message dispatched after this
// call returns.
func (e *Engine) Subscribe(sub subscribers.Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subs.Add(sub)
}

// Unsubscribe detaches the subscriber with id. It does not close it.
func (e *Engine) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.subs.Remove(id)
}

// Broadcast delivers msg to every subscriber regardless of key filter
// when msg is not an alert.
func (e *Engine) Broadcast(msg models.Message) subscribers.DispatchResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.subs.Dispatch(msg)
}

// CloseSubscribers closes and detaches every subscriber.
func (e *Engine) CloseSubscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.subs.CloseAll()
}

// Stats returns current counts
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Rules:       e.nrules,
		Keys:        len(e.rules),
		Samples:     e.samples.Len(),
		Subscribers: e.subs.Len(),
	}
}

func (e *Engine) keysLocked() []string {
	keys := make([]string, 0, len(e.rules))
	for key := range e.rules {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) listLocked(key string) []models.Rule {
	byOwner := e.rules[key]
	out := make([]models.Rule, 0, len(byOwner))
	for _, rule := range byOwner {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}
