// Package config loads service settings from defaults, an optional YAML file
// and TASKREVIEW_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8080

	// EnvPrefix prefixes every environment override, e.g. TASKREVIEW_LEASE_REVIEW_TTL.
	EnvPrefix = "TASKREVIEW"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Lease    LeaseConfig    `mapstructure:"lease"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Selector SelectorConfig `mapstructure:"selector"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Events   EventsConfig   `mapstructure:"events"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url" validate:"required"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gt=0"`
	MinConns int32  `mapstructure:"min_conns" validate:"gte=0,ltefield=MaxConns"`
}

// LeaseConfig sets how long each claim kind survives without renewal.
type LeaseConfig struct {
	TaskTTL       time.Duration `mapstructure:"task_ttl" validate:"gt=0"`
	ReviewTTL     time.Duration `mapstructure:"review_ttl" validate:"gt=0"`
	MetaReviewTTL time.Duration `mapstructure:"meta_review_ttl" validate:"gt=0"`
}

type SweeperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	BatchSize int           `mapstructure:"batch_size" validate:"gt=0"`
}

type SelectorConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" validate:"gt=0"`
	BatchSize   int `mapstructure:"batch_size" validate:"gt=0"`
	NearbyLimit int `mapstructure:"nearby_limit" validate:"gt=0,lte=100"`
}

type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxItems      int64         `mapstructure:"max_items" validate:"gt=0"`
	ReviewTTL     time.Duration `mapstructure:"review_ttl" validate:"gte=0"`
	VisibilityTTL time.Duration `mapstructure:"visibility_ttl" validate:"gte=0"`
}

// EventsConfig selects where review history events go. Without a Redis URL
// they are only logged.
type EventsConfig struct {
	RedisURL string `mapstructure:"redis_url" validate:"omitempty,url"`
	Channel  string `mapstructure:"channel" validate:"required"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("lease.task_ttl", time.Hour)
	v.SetDefault("lease.review_ttl", time.Hour)
	v.SetDefault("lease.meta_review_ttl", time.Hour)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.batch_size", 500)

	v.SetDefault("selector.max_attempts", 3)
	v.SetDefault("selector.batch_size", 25)
	v.SetDefault("selector.nearby_limit", 5)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_items", 10000)
	v.SetDefault("cache.review_ttl", 5*time.Second)
	v.SetDefault("cache.visibility_ttl", 30*time.Second)

	v.SetDefault("events.redis_url", "")
	v.SetDefault("events.channel", "review-history")

	v.SetDefault("tracing.enabled", false)
}

// Load reads the configuration. path may be empty. overrides are applied
// last, keyed like "server.port", and typically come from CLI flags.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks every field constraint and reports them together.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
