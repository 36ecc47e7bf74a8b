package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel/internal/fetch"
	"sentinel/internal/scheduler"
	"sentinel/internal/subscribers"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Environment overrides applied by Load
const (
	EnvTickInterval     = "SENTINEL_TICK_INTERVAL"
	EnvFetchTimeout     = "SENTINEL_FETCH_TIMEOUT"
	EnvFetchConcurrency = "SENTINEL_FETCH_CONCURRENCY"
	EnvHTTPAddr         = "SENTINEL_HTTP_ADDR"
	EnvKafkaBrokers     = "SENTINEL_KAFKA_BROKERS"
	EnvNATSURL          = "SENTINEL_NATS_URL"
	EnvLogLevel         = "SENTINEL_LOG_LEVEL"
)

// Config holds runtime configuration for the service.
type Config struct {
	HTTP      HTTPConfig               `yaml:"http"`
	Scheduler scheduler.Config         `yaml:"scheduler"`
	Sources   SourcesConfig            `yaml:"sources"`
	Kafka     KafkaConfig              `yaml:"kafka"`
	NATS      NATSConfig               `yaml:"nats"`
	Stream    subscribers.StreamConfig `yaml:"stream"`
	LogLevel  string                   `yaml:"log_level"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
}

// SourcesConfig configures the sample sources
type SourcesConfig struct {
	// Source used for keys without a "source:" prefix
	Default   string          `yaml:"default"`
	CoinGecko CoinGeckoConfig `yaml:"coingecko"`
	USGS      USGSConfig      `yaml:"usgs"`
	Weather   WeatherConfig   `yaml:"weather"`
}

type CoinGeckoConfig struct {
	BaseURL  string `yaml:"base_url"`
	Currency string `yaml:"currency"`
}

type USGSConfig struct {
	BaseURL string `yaml:"base_url"`
}

type WeatherConfig struct {
	BaseURL string                       `yaml:"base_url"`
	Cities  map[string]fetch.Coordinates `yaml:"cities"`
}

// KafkaConfig configures the optional Kafka alert sink. The sink is
// disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers  []string       `yaml:"brokers"`
	Topic    string         `yaml:"topic"`
	Producer ProducerConfig `yaml:"producer"`
}

// Enabled reports whether the Kafka sink should be started
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// ProducerConfig tunes the Kafka writer pool
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// NATSConfig configures the optional NATS alert sink. The sink is
// disabled when URL is empty.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Name    string `yaml:"name"`
}

// Enabled reports whether the NATS sink should be started
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Scheduler: scheduler.DefaultConfig(),
		Sources: SourcesConfig{
			Default: "coingecko",
			CoinGecko: CoinGeckoConfig{
				BaseURL:  "https://api.coingecko.com/api/v3",
				Currency: "usd",
			},
			USGS: USGSConfig{
				BaseURL: "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary",
			},
			Weather: WeatherConfig{
				BaseURL: "https://api.open-meteo.com/v1",
				Cities:  fetch.DefaultCities(),
			},
		},
		Kafka: KafkaConfig{
			Topic: "sentinel.alerts",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    100,
				BatchTimeout: 50 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		NATS: NATSConfig{
			Subject: "sentinel.alerts",
			Name:    "sentinel",
		},
		Stream:   subscribers.DefaultStreamConfig(),
		LogLevel: "info",
	}
}

// Load builds a config from the defaults, the YAML file at path (skipped
// when path is empty) and SENTINEL_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTickInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTickInterval, err)
		}
		c.Scheduler.Interval = d
	}
	if v, ok := get(EnvFetchTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFetchTimeout, err)
		}
		c.Scheduler.FetchTimeout = d
	}
	if v, ok := get(EnvFetchConcurrency); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFetchConcurrency, err)
		}
		c.Scheduler.Concurrency = n
	}
	if v, ok := get(EnvHTTPAddr); ok {
		c.HTTP.Addr = v
	}
	if v, ok := get(EnvKafkaBrokers); ok {
		c.Kafka.Brokers = splitCSV(v)
	}
	if v, ok := get(EnvNATSURL); ok {
		c.NATS.URL = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.LogLevel = v
	}
	return nil
}

// Validate checks the config for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Scheduler.Interval < time.Second {
		errs = append(errs, fmt.Errorf("scheduler.interval must be at least 1s, got %s", c.Scheduler.Interval))
	}
	if c.Scheduler.FetchTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.fetch_timeout must be positive"))
	}
	if c.Scheduler.Concurrency <= 0 {
		errs = append(errs, errors.New("scheduler.concurrency must be positive"))
	}

	switch c.Sources.Default {
	case "coingecko", "usgs", "weather":
	default:
		errs = append(errs, fmt.Errorf("sources.default %q is not a known source", c.Sources.Default))
	}
	if c.Sources.CoinGecko.BaseURL == "" || c.Sources.CoinGecko.Currency == "" {
		errs = append(errs, errors.New("sources.coingecko needs base_url and currency"))
	}
	if c.Sources.USGS.BaseURL == "" {
		errs = append(errs, errors.New("sources.usgs.base_url is required"))
	}
	if c.Sources.Weather.BaseURL == "" {
		errs = append(errs, errors.New("sources.weather.base_url is required"))
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.NATS.Enabled() && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when url is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
