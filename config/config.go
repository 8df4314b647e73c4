package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Render    RenderConfig    `mapstructure:"render"`
	Actions   ActionsConfig   `mapstructure:"actions"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Name     string `mapstructure:"name"`
	Stream   string `mapstructure:"stream"`
	Consumer string `mapstructure:"consumer"`
	// Duplicates is the stream's publish de-duplication window.
	Duplicates time.Duration `mapstructure:"duplicates"`
}

type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	Enabled bool          `mapstructure:"enabled"`
	SeenTTL time.Duration `mapstructure:"seen_ttl"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type DeliveryConfig struct {
	Workers         int           `mapstructure:"workers"`
	SendConcurrency int           `mapstructure:"send_concurrency"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	AckWait         time.Duration `mapstructure:"ack_wait"`
	Backoff         BackoffConfig `mapstructure:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

type ReconcileConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Threshold time.Duration `mapstructure:"threshold"`
	BatchSize int           `mapstructure:"batch_size"`
}

// RenderConfig.Template overrides the built-in message template when set.
type RenderConfig struct {
	Template string `mapstructure:"template"`
}

type ActionsConfig struct {
	Secret  string        `mapstructure:"secret"`
	BaseURL string        `mapstructure:"base_url"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from defaults, an optional YAML file and
// RFQFLOW_* environment variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rfqflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rfqflow")
	}

	// RFQFLOW_DATABASE_URL, RFQFLOW_DELIVERY_BACKOFF_INITIAL, ...
	v.SetEnvPrefix("RFQFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "rfqflow")
	v.SetDefault("nats.stream", "RFQ_DELIVERIES")
	v.SetDefault("nats.consumer", "rfqflow-delivery")
	v.SetDefault("nats.duplicates", "2m")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.seen_ttl", "72h")

	v.SetDefault("telegram.token", "")

	v.SetDefault("delivery.workers", 4)
	v.SetDefault("delivery.send_concurrency", 8)
	v.SetDefault("delivery.max_attempts", 5)
	v.SetDefault("delivery.ack_wait", "60s")
	v.SetDefault("delivery.backoff.initial", "5s")
	v.SetDefault("delivery.backoff.max", "5m")
	v.SetDefault("delivery.backoff.multiplier", 2.0)
	v.SetDefault("delivery.backoff.jitter", 0.2)

	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", "1m")
	v.SetDefault("reconcile.threshold", "10m")
	v.SetDefault("reconcile.batch_size", 100)

	v.SetDefault("render.template", "")

	v.SetDefault("actions.secret", "")
	v.SetDefault("actions.base_url", "")
	v.SetDefault("actions.ttl", "168h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.addr", ":9090")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Delivery.Workers < 1 {
		return fmt.Errorf("config: delivery.workers must be at least 1, got %d", c.Delivery.Workers)
	}
	if c.Delivery.SendConcurrency < 1 {
		return fmt.Errorf("config: delivery.send_concurrency must be at least 1, got %d", c.Delivery.SendConcurrency)
	}
	if c.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("config: delivery.max_attempts must be at least 1, got %d", c.Delivery.MaxAttempts)
	}
	if c.Delivery.Backoff.Multiplier < 1 {
		return fmt.Errorf("config: delivery.backoff.multiplier must be >= 1, got %v", c.Delivery.Backoff.Multiplier)
	}
	if c.Delivery.Backoff.Jitter < 0 || c.Delivery.Backoff.Jitter > 1 {
		return fmt.Errorf("config: delivery.backoff.jitter must be within [0,1], got %v", c.Delivery.Backoff.Jitter)
	}
	if c.Reconcile.Enabled && c.Reconcile.Interval <= 0 {
		return fmt.Errorf("config: reconcile.interval must be positive")
	}
	if c.NATS.Duplicates <= 0 {
		return fmt.Errorf("config: nats.duplicates must be positive")
	}
	// A re-queue inside the duplicate window is dropped by the stream.
	if c.Reconcile.Enabled && c.Reconcile.Threshold <= c.NATS.Duplicates {
		return fmt.Errorf("config: reconcile.threshold (%s) must exceed nats.duplicates (%s)",
			c.Reconcile.Threshold, c.NATS.Duplicates)
	}
	if c.Reconcile.BatchSize < 1 {
		return fmt.Errorf("config: reconcile.batch_size must be at least 1, got %d", c.Reconcile.BatchSize)
	}
	return nil
}
