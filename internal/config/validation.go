package config

import (
	"fmt"
	"time"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
)

// Validate checks invariants that ApplyDefaults cannot repair.
func (c *Config) Validate() error {
	if c.Jobs < 0 {
		return configErr("jobs", fmt.Sprintf("jobs must be positive, got %d", c.Jobs))
	}
	if c.Retry.MaxRetries < 0 {
		return configErr("retry.max_retries", "max_retries must not be negative")
	}
	mode := NormalizeRetryBackoff(string(c.Retry.Backoff))
	if mode == "" {
		return configErr("retry.backoff", fmt.Sprintf("unsupported backoff mode %q", c.Retry.Backoff))
	}
	c.Retry.Backoff = mode

	durations := map[string]string{
		"retry.initial_delay": c.Retry.InitialDelay,
		"retry.max_delay":     c.Retry.MaxDelay,
		"watch.debounce":      c.Watch.Debounce,
		"watch.interval":      c.Watch.Interval,
	}
	for field, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return foundation.WrapError(err, foundation.CategoryConfig, "invalid duration").
				WithContext("field", field).
				WithContext("value", raw).
				Build()
		}
		if d < 0 {
			return configErr(field, "duration must not be negative")
		}
	}
	return nil
}

func configErr(field, msg string) error {
	return foundation.ConfigError(msg).WithContext("field", field).Build()
}
