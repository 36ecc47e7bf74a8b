package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sentinel/internal/config"
	"sentinel/internal/logger"
	"sentinel/internal/processor"
)

func main() {
	configPath := flag.String("config", os.Getenv("SENTINEL_CONFIG"), "path to YAML config file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", cfg.HTTP.Addr).
		Dur("interval", cfg.Scheduler.Interval).
		Bool("kafka", cfg.Kafka.Enabled()).
		Bool("nats", cfg.NATS.Enabled()).
		Msg("starting sentinel")

	if err := processor.New(cfg).Run(ctx); err != nil {
		log.Error().Err(err).Msg("processor exited")
		os.Exit(1)
	}

	log.Info().Msg("exited")
}
