package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Errorf("expected 30s interval, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Kafka.Enabled() || cfg.NATS.Enabled() {
		t.Error("expected sinks disabled by default")
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9090"
scheduler:
  interval: 5s
  concurrency: 8
sources:
  coingecko:
    currency: eur
  weather:
    cities:
      oslo: {latitude: 59.91, longitude: 10.75}
kafka:
  brokers: ["kafka:9092"]
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("addr: got %q", cfg.HTTP.Addr)
	}
	if cfg.Scheduler.Interval != 5*time.Second || cfg.Scheduler.Concurrency != 8 {
		t.Errorf("scheduler: got %+v", cfg.Scheduler)
	}
	// unset fields keep their defaults
	if cfg.Scheduler.FetchTimeout != 10*time.Second {
		t.Errorf("fetch timeout: got %s", cfg.Scheduler.FetchTimeout)
	}
	if cfg.Sources.CoinGecko.Currency != "eur" || cfg.Sources.CoinGecko.BaseURL == "" {
		t.Errorf("coingecko: got %+v", cfg.Sources.CoinGecko)
	}
	if _, ok := cfg.Sources.Weather.Cities["oslo"]; !ok {
		t.Error("expected oslo city to be added")
	}
	if !cfg.Kafka.Enabled() || cfg.Kafka.Topic != "sentinel.alerts" {
		t.Errorf("kafka: got %+v", cfg.Kafka)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeFile(t, "schedular:\n  interval: 5s\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected default addr, got %q", cfg.HTTP.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "scheduler:\n  interval: 5s\n")

	t.Setenv(EnvTickInterval, "2m")
	t.Setenv(EnvFetchConcurrency, "16")
	t.Setenv(EnvKafkaBrokers, "a:9092, b:9092,")
	t.Setenv(EnvNATSURL, "nats://localhost:4222")
	t.Setenv(EnvHTTPAddr, ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != 2*time.Minute {
		t.Errorf("interval: got %s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.Concurrency != 16 {
		t.Errorf("concurrency: got %d", cfg.Scheduler.Concurrency)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("brokers: got %v", cfg.Kafka.Brokers)
	}
	if !cfg.NATS.Enabled() || cfg.HTTP.Addr != ":7070" {
		t.Errorf("unexpected nats/http config %+v %+v", cfg.NATS, cfg.HTTP)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv(EnvFetchTimeout, "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"sub-second interval", func(c *Config) { c.Scheduler.Interval = 500 * time.Millisecond }},
		{"zero timeout", func(c *Config) { c.Scheduler.FetchTimeout = 0 }},
		{"zero concurrency", func(c *Config) { c.Scheduler.Concurrency = 0 }},
		{"unknown source", func(c *Config) { c.Sources.Default = "binance" }},
		{"no currency", func(c *Config) { c.Sources.CoinGecko.Currency = "" }},
		{"kafka without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.Topic = ""
		}},
		{"nats without subject", func(c *Config) {
			c.NATS.URL = "nats://localhost:4222"
			c.NATS.Subject = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
