// Package config loads application configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix for environment variable overrides.
// Double underscore separates nesting levels, e.g.
// CLINICPULSE_DATABASE__MAX_OPEN_CONNS -> database.max_open_conns.
const envPrefix = "CLINICPULSE_"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	CORS      CORSConfig      `koanf:"cors"`
	Auth      AuthConfig      `koanf:"auth"`
	Reminders RemindersConfig `koanf:"reminders"`
	Push      PushConfig      `koanf:"push"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	Migrate         bool          `koanf:"migrate"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AuthConfig contains settings for validating tokens issued by the
// practice's identity provider.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// RemindersConfig contains reminder pipeline settings.
type RemindersConfig struct {
	// Enabled gates all reminder processing. It is re-resolved on every
	// pipeline invocation so it can be toggled at runtime via the
	// CLINICPULSE_REMINDERS__ENABLED environment override.
	Enabled             bool          `koanf:"enabled"`
	CronSecret          string        `koanf:"cron_secret"`
	BatchSize           int           `koanf:"batch_size"`
	DispatchConcurrency int           `koanf:"dispatch_concurrency"`
	Schedule            string        `koanf:"schedule"`
	Retention           time.Duration `koanf:"retention"`
}

// PushConfig contains Web Push transport settings.
type PushConfig struct {
	VAPIDPublicKey  string        `koanf:"vapid_public_key"`
	VAPIDPrivateKey string        `koanf:"vapid_private_key"`
	Subscriber      string        `koanf:"subscriber"`
	TTL             int           `koanf:"ttl"`
	SendTimeout     time.Duration `koanf:"send_timeout"`
	RateLimit       float64       `koanf:"rate_limit"`
}

// Default returns the configuration defaults applied before file and
// environment overlays.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Reminders: RemindersConfig{
			Enabled:             true,
			BatchSize:           100,
			DispatchConcurrency: 4,
			Retention:           30 * 24 * time.Hour,
		},
		Push: PushConfig{
			TTL:         86400,
			SendTimeout: 10 * time.Second,
			RateLimit:   50,
		},
	}
}

// Load reads configuration from the given YAML file (optional) and from
// CLINICPULSE_* environment variables, on top of defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Push.VAPIDPublicKey == "" || c.Push.VAPIDPrivateKey == "" {
		errs = append(errs, errors.New("push.vapid_public_key and push.vapid_private_key are required"))
	}
	if c.Push.Subscriber == "" {
		errs = append(errs, errors.New("push.subscriber is required"))
	}
	if c.Reminders.BatchSize <= 0 {
		errs = append(errs, errors.New("reminders.batch_size must be positive"))
	}
	if c.Reminders.DispatchConcurrency <= 0 {
		errs = append(errs, errors.New("reminders.dispatch_concurrency must be positive"))
	}

	return errors.Join(errs...)
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
