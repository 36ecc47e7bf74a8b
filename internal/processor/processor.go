package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"sentinel/internal/alerts"
	"sentinel/internal/bus"
	"sentinel/internal/config"
	"sentinel/internal/fetch"
	"sentinel/internal/handlers"
	"sentinel/internal/kafka"
	"sentinel/internal/logger"
	"sentinel/internal/middleware"
	"sentinel/internal/scheduler"
)

// Processor is the high-level coordinator for fetching, evaluating and
// delivering alerts.
type Processor struct {
	cfg        *config.Config
	fetcher    fetch.Fetcher
	engine     *alerts.Engine
	producer   *kafka.Producer
	sinks      []alerts.Sink
	scheduler  *scheduler.Scheduler
	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
}

// Option customizes a Processor
type Option func(*Processor)

// WithFetcher replaces the HTTP sample sources
func WithFetcher(f fetch.Fetcher) Option {
	return func(p *Processor) { p.fetcher = f }
}

// New constructs a Processor with given config.
func New(cfg *config.Config, opts ...Option) *Processor {
	p := &Processor{
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ready is closed once the HTTP listener is bound and the scheduler runs.
func (p *Processor) Ready() <-chan struct{} { return p.ready }

// Addr returns the bound HTTP address. Valid after Ready.
func (p *Processor) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Run starts background goroutines and blocks until context cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	if p.fetcher == nil {
		p.initFetcher()
	}
	p.engine = alerts.NewEngine()

	if err := p.initSinks(); err != nil {
		log.Error().Err(err).Msg("failed to initialize alert sinks")
		p.closeSinks()
		return fmt.Errorf("failed to initialize alert sinks: %w", err)
	}

	p.scheduler = scheduler.New(p.engine, p.fetcher, p.cfg.Scheduler, p.sinks...)

	if err := p.initHTTPServer(); err != nil {
		log.Error().Err(err).Msg("failed to initialize HTTP server")
		p.closeSinks()
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	if err := p.scheduler.Start(); err != nil {
		p.listener.Close()
		p.closeSinks()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// HTTP server
	g.Go(func() error {
		log.Info().Str("addr", p.Addr()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(p.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Stats reporting
	g.Go(func() error {
		p.reportStats(gctx)
		return nil
	})

	// Shutdown on cancel or on the first failure above
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")
		return p.shutdown()
	})

	close(p.ready)
	return g.Wait()
}

// initFetcher builds the source mux over one shared HTTP client
func (p *Processor) initFetcher() {
	log := logger.WithComponent("processor")
	src := p.cfg.Sources

	// per-fetch deadlines come from the scheduler's context
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: p.cfg.Scheduler.Concurrency,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	mux := fetch.NewMux(src.Default).
		Handle("coingecko", fetch.NewCoinGecko(client, src.CoinGecko.BaseURL, src.CoinGecko.Currency)).
		Handle("usgs", fetch.NewUSGS(client, src.USGS.BaseURL)).
		Handle("weather", fetch.NewWeather(client, src.Weather.BaseURL, src.Weather.Cities))
	p.fetcher = mux

	log.Info().
		Strs("sources", mux.Sources()).
		Str("default", src.Default).
		Msg("sample sources initialized")
}

// initSinks starts the optional Kafka and NATS alert sinks
func (p *Processor) initSinks() error {
	log := logger.WithComponent("processor")

	if p.cfg.Kafka.Enabled() {
		producer, err := kafka.NewProducer(
			p.cfg.Kafka.Brokers,
			p.cfg.Kafka.Topic,
			p.cfg.Kafka.Producer,
		)
		if err != nil {
			return err
		}
		p.producer = producer
		p.sinks = append(p.sinks, producer)
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.Topic).
			Msg("kafka alert sink initialized")
	}

	if p.cfg.NATS.Enabled() {
		pub, err := bus.NewPublisher(p.cfg.NATS.URL, p.cfg.NATS.Name)
		if err != nil {
			return err
		}
		p.sinks = append(p.sinks, bus.NewSink(pub, p.cfg.NATS.Subject))
		log.Info().
			Str("subject", p.cfg.NATS.Subject+".>").
			Msg("nats alert sink initialized")
	}

	return nil
}

// initHTTPServer binds the listener and builds the router
func (p *Processor) initHTTPServer() error {
	h := &handlers.Handler{
		Engine:       p.engine,
		Fetcher:      p.fetcher,
		Scheduler:    p.scheduler,
		FetchTimeout: p.cfg.Scheduler.FetchTimeout,
		Stream:       p.cfg.Stream,
		MaxBodySize:  p.cfg.HTTP.MaxBodySize,
	}

	r := chi.NewRouter()
	r.Use(middleware.Stack()...)
	r.Handle("/metrics", promhttp.Handler())
	h.RegisterRoutes(r)

	ln, err := net.Listen("tcp", p.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	p.listener = ln

	p.httpServer = &http.Server{
		Handler:      r,
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  p.cfg.HTTP.IdleTimeout,
	}

	// streams opened after the scheduler drained must not hold up Shutdown
	p.httpServer.RegisterOnShutdown(func() { p.engine.CloseSubscribers() })

	return nil
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop ticking, finish the in-flight tick and close subscribers
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), p.drainTimeout())
	defer cancelDrain()

	log.Info().Msg("draining scheduler")
	if err := p.scheduler.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler drain incomplete")
	}

	// 2. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		p.httpServer.Close()
	}

	// 3. Close sinks
	p.closeSinks()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

// drainTimeout covers one full tick: every fetch at its timeout plus sinks
func (p *Processor) drainTimeout() time.Duration {
	return p.cfg.Scheduler.FetchTimeout + p.cfg.Scheduler.SinkTimeout + 5*time.Second
}

func (p *Processor) closeSinks() {
	log := logger.WithComponent("processor")
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Str("sink", sink.Name()).Msg("sink close error")
		}
	}
	p.sinks = nil
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(p.cfg.Scheduler.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engineStats := p.engine.Stats()
			schedStats := p.scheduler.Stats()

			ev := log.Info().
				Int("rules", engineStats.Rules).
				Int("keys", engineStats.Keys).
				Int("samples", engineStats.Samples).
				Int("subscribers", engineStats.Subscribers).
				Uint64("ticks", schedStats.Ticks).
				Uint64("ticks_skipped", schedStats.Skipped).
				Uint64("fetch_succeeded", schedStats.FetchSucceeded).
				Uint64("fetch_failed", schedStats.FetchFailed)

			if p.producer != nil {
				ps := p.producer.Stats()
				ev = ev.
					Uint64("kafka_sent", ps.MessagesSent).
					Uint64("kafka_failed", ps.MessagesFailed).
					Uint64("kafka_bytes", ps.BytesWritten)
			}
			ev.Msg("stats")
		}
	}
}
