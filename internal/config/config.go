// Package config loads bazaar's runtime configuration.
//
// Sources are merged field by field, highest priority first: command-line
// flags, BAZAAR_* environment variables, an optional YAML file, defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Validation errors.
var (
	ErrInvalidServerConfig  = errors.New("invalid server configuration")
	ErrInvalidStorageConfig = errors.New("invalid storage configuration")
	ErrInvalidAuthConfig    = errors.New("invalid auth configuration")
	ErrInvalidLogConfig     = errors.New("invalid log configuration")
)

// Config is the full runtime configuration.
type Config struct {
	Addr      string `env:"ADDR" yaml:"addr"`
	PublicURL string `env:"PUBLIC_URL" yaml:"public_url"`
	DBPath    string `env:"DB" yaml:"db"`

	// JWTSecret signs session tokens. When empty a secret persisted in the
	// database is used.
	JWTSecret     string        `env:"JWT_SECRET" yaml:"jwt_secret"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" yaml:"token_ttl"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" yaml:"sweep_interval"`

	MaxUploadBytes    int64 `env:"MAX_UPLOAD_BYTES" yaml:"max_upload_bytes"`
	ImageMaxDimension int   `env:"IMAGE_MAX_DIMENSION" yaml:"image_max_dimension"`
	ImageQuality      int   `env:"IMAGE_QUALITY" yaml:"image_quality"`

	LogLevel string `env:"LOG_LEVEL" yaml:"log_level"`
	LogFile  string `env:"LOG_FILE" yaml:"log_file"`

	Redis Redis `envPrefix:"REDIS_" yaml:"redis"`

	// Metrics is nil when no source set it, so an explicit false from a
	// higher priority source wins.
	Metrics *bool `env:"METRICS" yaml:"metrics"`

	// File is the YAML file the configuration was read from, if any.
	File string `env:"CONFIG" yaml:"-"`
}

// Redis configures the cross-process change relay. An empty Addr disables it.
type Redis struct {
	Addr     string `env:"ADDR" yaml:"addr"`
	Password string `env:"PASSWORD" yaml:"password"`
	DB       int    `env:"DB" yaml:"db"`
	Channel  string `env:"CHANNEL" yaml:"channel"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Addr:              ":8080",
		PublicURL:         "http://localhost:8080",
		DBPath:            "bazaar.sqlite3",
		TokenTTL:          7 * 24 * time.Hour,
		SweepInterval:     time.Hour,
		MaxUploadBytes:    10 << 20,
		ImageMaxDimension: 1024,
		ImageQuality:      85,
		LogLevel:          "info",
		Redis: Redis{
			Channel: "bazaar:changes",
		},
	}
}

// MetricsEnabled reports whether /metrics should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics != nil && *c.Metrics
}

func (c *Config) validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, fmt.Errorf("%w: listen address is empty", ErrInvalidServerConfig))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("%w: max upload size must be positive", ErrInvalidServerConfig))
	}
	if c.ImageMaxDimension <= 0 || c.ImageQuality <= 0 || c.ImageQuality > 100 {
		errs = append(errs, fmt.Errorf("%w: image settings out of range", ErrInvalidServerConfig))
	}
	if c.DBPath == "" {
		errs = append(errs, fmt.Errorf("%w: database path is empty", ErrInvalidStorageConfig))
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		errs = append(errs, fmt.Errorf("%w: redis channel is empty", ErrInvalidStorageConfig))
	}
	if c.TokenTTL <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: token ttl and sweep interval must be positive", ErrInvalidAuthConfig))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidLogConfig, err))
	}
	return errors.Join(errs...)
}
