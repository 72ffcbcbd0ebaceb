package config

import (
	"strings"

	"github.com/cockroachdb/errors"

	"swallow/pkg/sniff"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return invalid("storage.root cannot be empty")
	}
	// 0 disables quarantine / the aging sweep, negative is invalid
	if c.Storage.QuarantineSeconds < 0 {
		return invalidf("storage.quarantine_seconds must be >= 0, got %d", c.Storage.QuarantineSeconds)
	}
	if c.Storage.GracePeriodSeconds < 0 {
		return invalidf("storage.grace_period_seconds must be >= 0, got %d", c.Storage.GracePeriodSeconds)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalidf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Watch.DebounceMS < 0 {
		return invalidf("watch.debounce_ms must be >= 0, got %d", c.Watch.DebounceMS)
	}
	if c.Watch.IntervalSeconds < 0 {
		return invalidf("watch.interval_seconds must be >= 0, got %d", c.Watch.IntervalSeconds)
	}
	if c.Watch.MaxRunsPerMinute <= 0 {
		return invalidf("watch.max_runs_per_minute must be > 0, got %d", c.Watch.MaxRunsPerMinute)
	}

	seen := make(map[string]bool)
	for i, p := range c.Pipelines {
		if p.Name == "" {
			return invalidf("pipelines[%d].name cannot be empty", i)
		}
		if strings.ContainsAny(p.Name, `/\`) || p.Name == "." || p.Name == ".." {
			return invalidf("pipeline name %q must be a plain directory name", p.Name)
		}
		// the directory set lives under the lower-cased name
		key := strings.ToLower(p.Name)
		if seen[key] {
			return invalidf("pipeline %q is declared twice", p.Name)
		}
		seen[key] = true

		if p.QuarantineSeconds != nil && *p.QuarantineSeconds < 0 {
			return invalidf("pipeline %s: quarantine_seconds must be >= 0, got %d", p.Name, *p.QuarantineSeconds)
		}
		if p.GracePeriodSeconds != nil && *p.GracePeriodSeconds < 0 {
			return invalidf("pipeline %s: grace_period_seconds must be >= 0, got %d", p.Name, *p.GracePeriodSeconds)
		}
		for _, kind := range p.Kinds {
			if _, ok := sniff.ParseKind(kind); !ok {
				return invalidf("pipeline %s: unknown kind %q", p.Name, kind)
			}
		}
	}
	return nil
}

func invalid(msg string) error {
	return errors.Mark(errors.New(msg), ErrInvalid)
}

func invalidf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalid)
}
