// Package config loads runtime settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable that points at the YAML config file.
const PathEnv = "LEADMARKET_CONFIG"

type Config struct {
	Port            string        `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	DatabaseURL    string `yaml:"database_url" env:"DATABASE_URL"`
	DBMaxConns     int32  `yaml:"db_max_conns" env:"DB_MAX_CONNS"`
	DBMinConns     int32  `yaml:"db_min_conns" env:"DB_MIN_CONNS"`
	ApplySchema    bool   `yaml:"apply_schema" env:"APPLY_SCHEMA"`
	RabbitMQURL    string `yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	RedisURL       string `yaml:"redis_url" env:"REDIS_URL"`
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"METRICS_ENABLED"`

	GeocoderBaseURL   string        `yaml:"geocoder_base_url" env:"GEOCODER_BASE_URL"`
	GeocoderUserAgent string        `yaml:"geocoder_user_agent" env:"GEOCODER_USER_AGENT"`
	GeocoderCountry   string        `yaml:"geocoder_country" env:"GEOCODER_COUNTRY"`
	GeocoderTimeout   time.Duration `yaml:"geocoder_timeout" env:"GEOCODER_TIMEOUT"`
	GeocoderRPS       float64       `yaml:"geocoder_rps" env:"GEOCODER_RPS"`
	GeocodeCacheTTL   time.Duration `yaml:"geocode_cache_ttl" env:"GEOCODE_CACHE_TTL"`
	GeocodeMissTTL    time.Duration `yaml:"geocode_miss_ttl" env:"GEOCODE_MISS_TTL"`

	SweepInterval  time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	SweepBatchSize int           `yaml:"sweep_batch_size" env:"SWEEP_BATCH_SIZE"`

	OutboxInterval    time.Duration `yaml:"outbox_interval" env:"OUTBOX_INTERVAL"`
	OutboxBatchSize   int           `yaml:"outbox_batch_size" env:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts int           `yaml:"outbox_max_attempts" env:"OUTBOX_MAX_ATTEMPTS"`

	RetryMaxAttempts    int           `yaml:"retry_max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff" env:"RETRY_INITIAL_BACKOFF"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff" env:"RETRY_MAX_BACKOFF"`

	RateLimitPerActor float64 `yaml:"rate_limit_per_actor" env:"RATE_LIMIT_PER_ACTOR"`
	RateLimitBurst    int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

func Default() Config {
	return Config{
		Port:                "8080",
		ShutdownTimeout:     10 * time.Second,
		LogLevel:            "info",
		CORSOrigins:         []string{"*"},
		DBMaxConns:          10,
		DBMinConns:          1,
		ApplySchema:         true,
		MetricsEnabled:      true,
		GeocoderBaseURL:     "https://nominatim.openstreetmap.org",
		GeocoderUserAgent:   "lead-marketplace/1.0",
		GeocoderTimeout:     5 * time.Second,
		GeocoderRPS:         1,
		GeocodeCacheTTL:     30 * 24 * time.Hour,
		GeocodeMissTTL:      time.Hour,
		SweepInterval:       time.Minute,
		SweepBatchSize:      100,
		OutboxInterval:      2 * time.Second,
		OutboxBatchSize:     50,
		OutboxMaxAttempts:   10,
		RetryMaxAttempts:    8,
		RetryInitialBackoff: 10 * time.Millisecond,
		RetryMaxBackoff:     500 * time.Millisecond,
		RateLimitPerActor:   10,
		RateLimitBurst:      20,
	}
}

// Load applies the YAML file at path (skipped when empty or missing), then
// .env, then the environment over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, errors.New("sweep batch size must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.SweepInterval <= 0 || c.OutboxInterval <= 0 {
		errs = append(errs, errors.New("worker intervals must be positive"))
	}
	return errors.Join(errs...)
}
