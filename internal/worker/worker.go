package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"sentinel/internal/fetch"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
)

// Result is the outcome of fetching one key
type Result struct {
	Key      string
	Value    float64
	Err      error
	Duration time.Duration
}

// Pool fetches a set of keys with a bounded number of concurrent workers
// and a per-fetch timeout.
type Pool struct {
	fetcher fetch.Fetcher
	workers int
	timeout time.Duration

	// counters
	processed atomic.Uint64
	failed    atomic.Uint64
}

// Config sizes the pool.
type Config struct {
	Fetcher fetch.Fetcher
	Workers int
	Timeout time.Duration
}

// NewPool sizes a pool; it does nothing until Run.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Pool{
		fetcher: cfg.Fetcher,
		workers: cfg.Workers,
		timeout: cfg.Timeout,
	}
}

// Run fetches every key and calls handle once per key from the worker that
// fetched it. It returns when all keys are done. Cancelling ctx stops
// workers from picking up further keys; in-flight fetches are bounded by
// the per-fetch timeout.
func (p *Pool) Run(ctx context.Context, keys []string, handle func(Result)) {
	if len(keys) == 0 {
		return
	}

	jobs := make(chan string)
	workers := min(p.workers, len(keys))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(i, jobs, handle, &wg)
	}

	defer wg.Wait()
	defer close(jobs)

	for i, key := range keys {
		select {
		case jobs <- key:
		case <-ctx.Done():
			log := logger.WithComponent("worker_pool")
			log.Warn().
				Err(ctx.Err()).
				Int("remaining", len(keys)-i).
				Msg("fetch round cancelled")
			return
		}
	}
}

// worker fetches keys from the channel
func (p *Pool) worker(id int, jobs <-chan string, handle func(Result), wg *sync.WaitGroup) {
	defer wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()

	for key := range jobs {
		res := p.fetchOne(key)
		if res.Err != nil {
			p.failed.Add(1)
		} else {
			p.processed.Add(1)
		}

		log.Debug().
			Str("key", key).
			Dur("duration", res.Duration).
			AnErr("fetch_error", res.Err).
			Msg("fetch finished")

		handle(res)
	}
}

// fetchOne runs a single fetch under the per-fetch timeout. A panicking
// fetcher is reported as a failed fetch.
func (p *Pool) fetchOne(key string) (res Result) {
	res.Key = key
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log := logger.WithComponent("worker")
			log.Error().
				Str("key", key).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("fetcher panic recovered")
			metrics.PanicsRecovered.WithLabelValues("fetcher").Inc()
			res.Err = fmt.Errorf("fetcher panic: %v", r)
		}

		res.Duration = time.Since(start)
		metrics.FetchDuration.Observe(res.Duration.Seconds())
		status := "success"
		if res.Err != nil {
			status = string(fetch.KindOf(res.Err))
		}
		metrics.FetchTotal.WithLabelValues(fetch.SourceOf(p.fetcher, key, res.Err), status).Inc()
	}()

	// In-flight fetches are bounded by the pool timeout only, never by the
	// caller's context.
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	res.Value, res.Err = p.fetcher.Fetch(ctx, key)
	if res.Err != nil && ctx.Err() != nil && !fetch.IsKind(res.Err, fetch.KindTimeout) {
		res.Err = &fetch.Error{Key: key, Kind: fetch.KindTimeout, Err: res.Err}
	}
	return res
}

// Stats returns the job counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats counts jobs by outcome.
type Stats struct {
	Processed uint64
	Failed    uint64
}
