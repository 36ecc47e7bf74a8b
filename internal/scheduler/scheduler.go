// Package scheduler drives the periodic fetch, evaluate and dispatch tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"sentinel/internal/alerts"
	"sentinel/internal/fetch"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/models"
	"sentinel/internal/worker"
)

// State is the scheduler lifecycle state
type State int32

const (
	Stopped State = iota
	Running
	Draining
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "stopped":
		*s = Stopped
	case "running":
		*s = Running
	case "draining":
		*s = Draining
	default:
		return fmt.Errorf("unknown scheduler state %q", text)
	}
	return nil
}

// Lifecycle errors
var (
	ErrNotStopped = errors.New("scheduler is not stopped")
	ErrNotRunning = errors.New("scheduler is not running")
)

// Config holds scheduler configuration
type Config struct {
	// Time between tick starts
	Interval time.Duration `yaml:"interval"`

	// Upper bound for a single fetch
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// Number of concurrent fetches per tick
	Concurrency int `yaml:"concurrency"`

	// Send a heartbeat to every subscriber at the end of each tick
	Heartbeat bool `yaml:"heartbeat"`

	// Run one tick immediately on Start
	RunOnStart bool `yaml:"run_on_start"`

	// Upper bound for forwarding a tick's events to each sink
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		FetchTimeout: 10 * time.Second,
		Concurrency:  4,
		Heartbeat:    true,
		RunOnStart:   true,
		SinkTimeout:  10 * time.Second,
	}
}

// TickResult summarizes one tick
type TickResult struct {
	Seq        uint64        `json:"seq"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Keys       int           `json:"keys"`
	Fetched    int           `json:"fetched"`
	Failed     int           `json:"failed"`
	Alerts     int           `json:"alerts"`
	Delivered  int           `json:"delivered"`
	Dropped    int           `json:"dropped"`
	Heartbeats int           `json:"heartbeats"`
}

// Stats is a point-in-time view of the scheduler
type Stats struct {
	State          State       `json:"state"`
	Interval       string      `json:"interval"`
	Ticks          uint64      `json:"ticks"`
	Skipped        uint64      `json:"skipped"`
	FetchSucceeded uint64      `json:"fetch_succeeded"`
	FetchFailed    uint64      `json:"fetch_failed"`
	LastTick       *TickResult `json:"last_tick,omitempty"`
}

// Scheduler periodically fetches a sample for every key that has a rule,
// stores it, evaluates the rules and dispatches alerts.
//
// Lifecycle: Stopped -> Running (Start) -> Draining (Stop) -> Stopped.
type Scheduler struct {
	engine *alerts.Engine
	pool   *worker.Pool
	sinks  []alerts.Sink
	cfg    Config

	mu    sync.Mutex
	state State
	cron  *cron.Cron
	boot  sync.WaitGroup // tick run by Start

	// held for the duration of a tick; ticks never overlap
	tickMu sync.Mutex

	seq      atomic.Uint64
	ticks    atomic.Uint64
	skipped  atomic.Uint64
	lastTick atomic.Pointer[TickResult]
}

// New creates a stopped scheduler
func New(engine *alerts.Engine, fetcher fetch.Fetcher, cfg Config, sinks ...alerts.Sink) *Scheduler {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = d.FetchTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = d.SinkTimeout
	}

	return &Scheduler{
		engine: engine,
		pool: worker.NewPool(worker.Config{
			Fetcher: fetcher,
			Workers: cfg.Concurrency,
			Timeout: cfg.FetchTimeout,
		}),
		sinks: sinks,
		cfg:   cfg,
	}
}

// Start begins scheduling ticks every Interval.
func (s *Scheduler) Start() error {
	log := logger.WithComponent("scheduler")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return fmt.Errorf("%w: %s", ErrNotStopped, s.state)
	}

	clog := cronLogger{log: logger.WithComponent("cron")}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(s.runTick))
	c.Start()

	s.cron = c
	s.state = Running

	if s.cfg.RunOnStart {
		s.boot.Add(1)
		go func() {
			defer s.boot.Done()
			s.runTick()
		}()
	}

	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("fetch_timeout", s.cfg.FetchTimeout).
		Int("concurrency", s.cfg.Concurrency).
		Int("sinks", len(s.sinks)).
		Msg("scheduler started")
	return nil
}

// Stop prevents new ticks, waits for the in-flight tick to finish and then
// closes every subscriber. If ctx ends first, subscribers are closed
// anyway and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	log := logger.WithComponent("scheduler")

	s.mu.Lock()
	if s.state != Running {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, state)
	}
	s.state = Draining
	c := s.cron
	s.mu.Unlock()

	log.Info().Msg("scheduler draining")

	drained := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.boot.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		log.Warn().Err(err).Msg("drain interrupted, in-flight tick abandoned")
	}

	closed := s.engine.CloseSubscribers()

	s.mu.Lock()
	s.state = Stopped
	s.cron = nil
	s.mu.Unlock()

	log.Info().
		Int("subscribers_closed", closed).
		Uint64("ticks", s.ticks.Load()).
		Msg("scheduler stopped")
	return err
}

// State returns the current lifecycle state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick runs one tick synchronously, waiting for any tick in progress.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.tick(ctx)
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	pool := s.pool.Stats()
	return Stats{
		State:          s.State(),
		Interval:       s.cfg.Interval.String(),
		Ticks:          s.ticks.Load(),
		Skipped:        s.skipped.Load(),
		FetchSucceeded: pool.Processed,
		FetchFailed:    pool.Failed,
		LastTick:       s.lastTick.Load(),
	}
}

// runTick is the scheduled job. A tick that finds the previous one still
// running is skipped.
func (s *Scheduler) runTick() {
	if !s.tickMu.TryLock() {
		s.skipped.Add(1)
		metrics.TicksSkipped.Inc()
		log := logger.WithComponent("scheduler")
		log.Warn().Msg("previous tick still running, skipping")
		return
	}
	defer s.tickMu.Unlock()

	s.tick(context.Background())
}

func (s *Scheduler) tick(ctx context.Context) TickResult {
	log := logger.WithComponent("scheduler")

	res := TickResult{
		Seq:       s.seq.Add(1),
		StartedAt: time.Now().UTC(),
	}

	// rules added after this snapshot are picked up by the next tick
	keys := s.engine.Keys()
	res.Keys = len(keys)

	var mu sync.Mutex
	var events []models.AlertEvent

	s.pool.Run(ctx, keys, func(r worker.Result) {
		if r.Err != nil {
			log.Warn().
				Str("key", r.Key).
				Str("kind", string(fetch.KindOf(r.Err))).
				Err(r.Err).
				Dur("duration", r.Duration).
				Msg("fetch failed, keeping previous sample")

			mu.Lock()
			res.Failed++
			mu.Unlock()
			return
		}

		ing := s.engine.Ingest(r.Key, r.Value)

		mu.Lock()
		res.Fetched++
		res.Alerts += len(ing.Events)
		res.Delivered += ing.Delivered
		res.Dropped += ing.Dropped
		events = append(events, ing.Events...)
		mu.Unlock()
	})

	if s.cfg.Heartbeat {
		hb := s.engine.Broadcast(models.NewHeartbeat(time.Now()))
		res.Heartbeats = hb.Delivered
		res.Dropped += hb.Dropped
	}

	s.publish(events)

	res.Duration = time.Since(res.StartedAt)
	s.ticks.Add(1)
	s.lastTick.Store(&res)
	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(res.Duration.Seconds())

	log.Info().
		Uint64("tick", res.Seq).
		Int("keys", res.Keys).
		Int("fetched", res.Fetched).
		Int("failed", res.Failed).
		Int("alerts", res.Alerts).
		Int("delivered", res.Delivered).
		Int("dropped", res.Dropped).
		Dur("duration", res.Duration).
		Msg("tick completed")

	return res
}

// publish forwards events to every sink. Sink failures are logged only.
func (s *Scheduler) publish(events []models.AlertEvent) {
	if len(events) == 0 {
		return
	}

	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SinkTimeout)
		err := sink.Publish(ctx, events)
		cancel()

		if err != nil {
			log := logger.WithComponent("scheduler")
			log.Error().
				Err(err).
				Str("sink", sink.Name()).
				Int("events", len(events)).
				Msg("failed to forward alerts to sink")
			metrics.SinkPublishTotal.WithLabelValues(sink.Name(), "failed").Add(float64(len(events)))
			continue
		}
		metrics.SinkPublishTotal.WithLabelValues(sink.Name(), "success").Add(float64(len(events)))
	}
}
