package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	exporthttp "github.com/Nubiru/bhaskara-sub000/internal/http"
	"github.com/Nubiru/bhaskara-sub000/internal/progress"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "EXPORTER_"

// Config defines configuration for the exporter.
type Config struct {
	BackendURL       string        `yaml:"backend_url"`
	Bucket           string        `yaml:"bucket"`
	Prefix           string        `yaml:"prefix"`
	Window           int           `yaml:"window"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	MaxPayloadSize   int64         `yaml:"max_payload_size"`
	Progress         bool          `yaml:"progress"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	Listen           string        `yaml:"listen"`
	HTTP             HTTPConfig    `yaml:"http"`
	Retry            RetryConfig   `yaml:"retry"`
}

// HTTPConfig defines how the report backend is called.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Prefix:           "exports",
		Window:           3,
		DebounceInterval: progress.DefaultDebounceInterval,
		MaxPayloadSize:   64 * 1024 * 1024, // 64MiB
		LogLevel:         "info",
		LogFormat:        "text",
		Listen:           ":8080",
		HTTP: HTTPConfig{
			Timeout: 60 * time.Second,
			Burst:   1,
		},
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	BackendURL       string          `yaml:"backend_url"`
	Bucket           string          `yaml:"bucket"`
	Prefix           string          `yaml:"prefix"`
	Window           int             `yaml:"window"`
	DebounceInterval string          `yaml:"debounce_interval"`
	MaxPayloadSize   string          `yaml:"max_payload_size"`
	Progress         bool            `yaml:"progress"`
	LogLevel         string          `yaml:"log_level"`
	LogFormat        string          `yaml:"log_format"`
	Listen           string          `yaml:"listen"`
	HTTP             yamlHTTPConfig  `yaml:"http"`
	Retry            yamlRetryConfig `yaml:"retry"`
}

type yamlHTTPConfig struct {
	Timeout   string  `yaml:"timeout"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file. Keys absent from the
// file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	override := Config{
		BackendURL: yc.BackendURL,
		Bucket:     yc.Bucket,
		Prefix:     yc.Prefix,
		Window:     yc.Window,
		Progress:   yc.Progress,
		LogLevel:   yc.LogLevel,
		LogFormat:  yc.LogFormat,
		Listen:     yc.Listen,
		HTTP: HTTPConfig{
			RateLimit: yc.HTTP.RateLimit,
			Burst:     yc.HTTP.Burst,
		},
		Retry: RetryConfig{
			Attempts: yc.Retry.Attempts,
		},
	}

	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"debounce_interval", yc.DebounceInterval, &override.DebounceInterval},
		{"http.timeout", yc.HTTP.Timeout, &override.HTTP.Timeout},
		{"retry.backoff", yc.Retry.Backoff, &override.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &override.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if yc.MaxPayloadSize != "" {
		size, err := progress.ParseBytes(yc.MaxPayloadSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse max_payload_size: %w", err)
		}
		override.MaxPayloadSize = size
	}

	return cfg.Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the EXPORTER_ prefix.
func (c *Config) LoadFromEnv() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	str("BACKEND_URL", &c.BackendURL)
	str("BUCKET", &c.Bucket)
	str("PREFIX", &c.Prefix)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LISTEN", &c.Listen)

	if v := os.Getenv(EnvPrefix + "PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"WINDOW", &c.Window},
		{"HTTP_BURST", &c.HTTP.Burst},
		{"RETRY_ATTEMPTS", &c.Retry.Attempts},
	}
	for _, i := range ints {
		v := os.Getenv(EnvPrefix + i.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, i.name, err)
		}
		*i.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"DEBOUNCE_INTERVAL", &c.DebounceInterval},
		{"HTTP_TIMEOUT", &c.HTTP.Timeout},
		{"RETRY_BACKOFF", &c.Retry.Backoff},
		{"RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff},
	}
	for _, d := range durations {
		v := os.Getenv(EnvPrefix + d.name)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, d.name, err)
		}
		*d.dst = dur
	}

	if v := os.Getenv(EnvPrefix + "HTTP_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sHTTP_RATE_LIMIT: %w", EnvPrefix, err)
		}
		c.HTTP.RateLimit = f
	}
	if v := os.Getenv(EnvPrefix + "MAX_PAYLOAD_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sMAX_PAYLOAD_SIZE: %w", EnvPrefix, err)
		}
		c.MaxPayloadSize = size
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("config: backend_url is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: backend_url must be an http(s) URL, got %q", c.BackendURL)
	}
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if c.Window <= 0 {
		return errors.New("config: window must be positive")
	}
	if c.DebounceInterval < 0 {
		return errors.New("config: debounce_interval must not be negative")
	}
	if c.MaxPayloadSize < 0 {
		return errors.New("config: max_payload_size must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("config: http.rate_limit must not be negative")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.BackendURL != "" {
		c.BackendURL = override.BackendURL
	}
	if override.Bucket != "" {
		c.Bucket = override.Bucket
	}
	if override.Prefix != "" {
		c.Prefix = override.Prefix
	}
	if override.Window != 0 {
		c.Window = override.Window
	}
	if override.DebounceInterval != 0 {
		c.DebounceInterval = override.DebounceInterval
	}
	if override.MaxPayloadSize != 0 {
		c.MaxPayloadSize = override.MaxPayloadSize
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		c.LogFormat = override.LogFormat
	}
	if override.Listen != "" {
		c.Listen = override.Listen
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.RateLimit != 0 {
		c.HTTP.RateLimit = override.HTTP.RateLimit
	}
	if override.HTTP.Burst != 0 {
		c.HTTP.Burst = override.HTTP.Burst
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

// ClientOptions returns the report backend client options for c.
func (c Config) ClientOptions() exporthttp.Options {
	opts := exporthttp.DefaultOptions()
	opts.BaseURL = c.BackendURL
	opts.Timeout = c.HTTP.Timeout
	opts.RateLimit = c.HTTP.RateLimit
	opts.Burst = c.HTTP.Burst
	opts.RetryAttempts = c.Retry.Attempts
	opts.RetryBackoff = c.Retry.Backoff
	opts.RetryMaxBackoff = c.Retry.MaxBackoff
	opts.MaxPayloadSize = c.MaxPayloadSize
	return opts
}
