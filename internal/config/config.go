// Package config loads the lostfound server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// LOSTFOUND_* environment variables. ${VAR_NAME} references in the YAML file
// are expanded before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "LOSTFOUND_"

// Config represents the complete lostfound configuration
type Config struct {
	HTTPAddr  string        `yaml:"http_addr" env:"HTTP_ADDR"`
	// LogLevel falls back to the LOG_LEVEL variable when empty.
	LogLevel  string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string        `yaml:"log_format" env:"LOG_FORMAT"`
	Storage   StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Uploads   UploadsConfig `yaml:"uploads" envPrefix:"UPLOADS_"`
	Session   SessionConfig `yaml:"session" envPrefix:"SESSION_"`
	Metrics   MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// StorageConfig selects where users and items are persisted
type StorageConfig struct {
	// Driver is "file" (one JSON document per collection) or "sqlite".
	Driver     string `yaml:"driver" env:"DRIVER"`
	DataDir    string `yaml:"data_dir" env:"DATA_DIR"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	// Strict makes unreadable collections an error instead of quarantining them.
	Strict bool `yaml:"strict" env:"STRICT"`
}

// UploadsConfig selects where item photos are stored
type UploadsConfig struct {
	// Driver is "local" or "s3".
	Driver   string   `yaml:"driver" env:"DRIVER"`
	Dir      string   `yaml:"dir" env:"DIR"`
	MaxBytes int64    `yaml:"max_bytes" env:"MAX_BYTES"`
	S3       S3Config `yaml:"s3" envPrefix:"S3_"`
}

// S3Config holds the bucket used by the s3 uploads driver
type S3Config struct {
	Bucket string `yaml:"bucket" env:"BUCKET"`
	Region string `yaml:"region" env:"REGION"`
	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
}

// SessionConfig holds session token configuration
type SessionConfig struct {
	// Secret signs session tokens. Empty means a random secret per process.
	Secret     string        `yaml:"secret" env:"SECRET"`
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
	CookieName string        `yaml:"cookie_name" env:"COOKIE_NAME"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		HTTPAddr:  ":8080",
		LogFormat: "text",
		Storage: StorageConfig{
			Driver:     "file",
			DataDir:    "./data",
			SQLitePath: "./data/lostfound.db",
		},
		Uploads: UploadsConfig{
			Driver:   "local",
			Dir:      "./static/uploads",
			MaxBytes: 10 << 20,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Session: SessionConfig{
			TTL:        24 * time.Hour,
			CookieName: "lostfound_session",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw YAML content
		expandedData := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}

	switch c.Storage.Driver {
	case "file":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the file driver")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver must be file or sqlite, got %q", c.Storage.Driver)
	}

	switch c.Uploads.Driver {
	case "local":
		if c.Uploads.Dir == "" {
			return fmt.Errorf("uploads.dir is required for the local driver")
		}
	case "s3":
		if c.Uploads.S3.Bucket == "" {
			return fmt.Errorf("uploads.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("uploads.driver must be local or s3, got %q", c.Uploads.Driver)
	}

	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}
