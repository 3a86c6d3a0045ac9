package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the relay.
type Config struct {
	Port        string `mapstructure:"port" validate:"required,numeric"`
	DatabaseURL string `mapstructure:"database_url" validate:"required"`
	RedisURL    string `mapstructure:"redis_url" validate:"required"`

	FeedChannel       string        `mapstructure:"feed_channel" validate:"required"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay" validate:"gtefield=ReconnectDelay"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	QueueSize         int           `mapstructure:"queue_size" validate:"gte=1"`
	PublishTimeout    time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`

	CommandRateLimit int      `mapstructure:"command_rate_limit" validate:"gte=0"`
	AllowedOrigins   []string `mapstructure:"-"`

	KafkaBrokers  []string `mapstructure:"-"`
	KafkaTopic    string   `mapstructure:"kafka_topic" validate:"required_with=KafkaBrokers"`
	MirrorWorkers int      `mapstructure:"mirror_workers" validate:"gte=1"`

	OTelExporterURL string `mapstructure:"otel_exporter_url" validate:"omitempty,url"`
	ServiceName     string `mapstructure:"service_name" validate:"required"`
	LogLevel        string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

var defaults = map[string]any{
	"port":                "8080",
	"feed_channel":        "order_events",
	"reconnect_delay":     "5s",
	"max_reconnect_delay": "5s",
	"sweep_interval":      "5s",
	"queue_size":          256,
	"publish_timeout":     "2s",
	"command_rate_limit":  10,
	"allowed_origins":     "*",
	"kafka_topic":         "order-notifications",
	"mirror_workers":      4,
	"service_name":        "order-relay",
	"log_level":           "info",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	// Hosted Postgres sometimes only exposes the public URL.
	if err := v.BindEnv("database_url", "DATABASE_URL", "DATABASE_PUBLIC_URL"); err != nil {
		return nil, fmt.Errorf("binding database_url: %w", err)
	}
	for _, key := range []string{"redis_url", "kafka_brokers", "otel_exporter_url"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.AllowedOrigins = splitList(v.GetString("allowed_origins"))
	cfg.KafkaBrokers = splitList(v.GetString("kafka_brokers"))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// MirrorEnabled reports whether notifications should be copied to Kafka.
func (c *Config) MirrorEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
