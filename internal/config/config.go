// Package config loads the service configuration from the environment, an
// optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the service configuration. Every field maps to an
// environment variable of the same name in upper snake case.
type Config struct {
	// Storage
	DatabaseURL string `mapstructure:"database_url"`
	ArtifactDir string `mapstructure:"artifact_dir" validate:"required"`

	// HTTP API
	Port           int     `mapstructure:"port" validate:"min=1,max=65535"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"gte=0"`

	// Activity backend
	ActivityEndpoint  string  `mapstructure:"activity_endpoint" validate:"omitempty,url"`
	ActivityToken     string  `mapstructure:"activity_token"`
	ActivityRateLimit float64 `mapstructure:"activity_rate_limit" validate:"gte=0"`

	// Engine policy
	MaxRetries              int           `mapstructure:"max_retries" validate:"gte=0"`
	StepTimeout             time.Duration `mapstructure:"step_timeout" validate:"gt=0"`
	BackoffKind             string        `mapstructure:"backoff_kind" validate:"oneof=constant exponential jitter"`
	BackoffInitial          time.Duration `mapstructure:"backoff_initial" validate:"gte=0"`
	BackoffMax              time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffInitial"`
	MaxConcurrentActivities int64         `mapstructure:"max_concurrent_activities" validate:"gte=1"`
	AuditHashAlg            string        `mapstructure:"audit_hash_alg" validate:"oneof=sha256 blake2b-256"`

	// Auth
	JWTSecret          string `mapstructure:"jwt_secret"`
	JWTExpirationHours int    `mapstructure:"jwt_expiration_hours" validate:"gte=1"`

	// Observability
	LogLevel     string `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat    string `mapstructure:"log_format" validate:"oneof=text json"`
	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`
}

var defaults = map[string]any{
	"database_url":                "",
	"artifact_dir":                "./artifacts",
	"port":                        8080,
	"rate_limit_rps":              10.0,
	"rate_limit_burst":            20,
	"activity_endpoint":           "",
	"activity_token":              "",
	"activity_rate_limit":         0.0,
	"max_retries":                 3,
	"step_timeout":                "10m",
	"backoff_kind":                "jitter",
	"backoff_initial":             "1s",
	"backoff_max":                 "1m",
	"max_concurrent_activities":   16,
	"audit_hash_alg":              "sha256",
	"jwt_secret":                  "",
	"jwt_expiration_hours":        24,
	"log_level":                   "info",
	"log_format":                  "text",
	"otel_exporter_otlp_endpoint": "",
}

var validate = newValidator()

// newValidator reports fields by their mapstructure names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("mapstructure")
	})
	return v
}

// Load reads configuration. A .env file in the working directory is applied
// first without overriding variables already set; path, when not empty, names
// a YAML, JSON or TOML file whose values sit below the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if !filepath.IsAbs(path) {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get current directory: %w", err)
			}
			path = filepath.Join(cwd, path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and enums.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config error: %s fails %q (value %v)", strings.ToUpper(fe.Field()), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// RequireDatabase reports a missing DATABASE_URL for commands that need one.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required but not set")
	}
	return nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
