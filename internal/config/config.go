package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "rulebuilder.yaml"

// Config represents the application configuration.
type Config struct {
	Root      string        `yaml:"root"`
	BuildFile string        `yaml:"build_file"`
	OutputDir string        `yaml:"output_dir"`
	Jobs      int           `yaml:"jobs"`
	Cache     CacheConfig   `yaml:"cache"`
	Retry     RetryConfig   `yaml:"retry"`
	Logging   LoggingConfig `yaml:"logging"`
	Events    EventsConfig  `yaml:"events"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Watch     WatchConfig   `yaml:"watch"`
}

// CacheConfig controls the on-disk artifact cache.
type CacheConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir"`
}

// IsEnabled reports whether the artifact cache is enabled; unset means enabled.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RetryConfig configures rule retries. Rules may override MaxRetries.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay string           `yaml:"initial_delay"`
	MaxDelay     string           `yaml:"max_delay"`
	MaxRetries   int              `yaml:"max_retries"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// EventsConfig configures persistence and forwarding of build events.
type EventsConfig struct {
	StorePath string `yaml:"store_path"`
	NATSURL   string `yaml:"nats_url,omitempty"`
	Subject   string `yaml:"subject"`
}

// MetricsConfig configures the Prometheus endpoint. Empty ListenAddr disables it.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
	Interval string `yaml:"interval,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from path. A missing file yields defaults, unless
// required is set.
func Load(path string, required bool) (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !required:
	case err != nil:
		return nil, foundation.WrapError(err, foundation.CategoryConfig, "failed to read config file").
			WithContext("path", path).
			Build()
	default:
		// Expand environment variables in the YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, foundation.WrapError(err, foundation.CategoryConfig, "failed to unmarshal config").
				WithContext("path", path).
				Build()
		}
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.BuildFile == "" {
		c.BuildFile = "BUILD.hcl"
	}
	if c.OutputDir == "" {
		c.OutputDir = "rb-out"
	}
	if c.Jobs == 0 {
		c.Jobs = runtime.NumCPU()
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = ".rulebuilder/cache"
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = RetryBackoffLinear
	}
	if c.Retry.InitialDelay == "" {
		c.Retry.InitialDelay = "500ms"
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = "10s"
	}
	c.Logging.Level = NormalizeLogLevel(string(c.Logging.Level))
	c.Logging.Format = NormalizeLogFormat(string(c.Logging.Format))
	if c.Events.StorePath == "" {
		c.Events.StorePath = ".rulebuilder/events.db"
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "rulebuilder.events"
	}
	if c.Watch.Debounce == "" {
		c.Watch.Debounce = "300ms"
	}
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return foundation.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).
			WithContext("path", configPath).
			Build()
	}

	example := Default()
	example.Jobs = 4
	example.Events.NATSURL = "${NATS_URL}"
	example.Metrics.ListenAddr = ":9464"
	example.Watch.Interval = "10m"

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return foundation.WrapError(err, foundation.CategoryFileSystem, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}

	return nil
}

// Durations parsed from the string fields. Validate guarantees they parse.

func (r RetryConfig) InitialDelayDuration() time.Duration { return mustDuration(r.InitialDelay) }
func (r RetryConfig) MaxDelayDuration() time.Duration     { return mustDuration(r.MaxDelay) }
func (w WatchConfig) DebounceDuration() time.Duration     { return mustDuration(w.Debounce) }
func (w WatchConfig) IntervalDuration() time.Duration     { return mustDuration(w.Interval) }

func mustDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
