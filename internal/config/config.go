// Package config loads the swallow configuration from TOML files and
// SWALLOW_ environment variables.
package config

import (
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"swallow/pkg/sniff"
)

// ErrInvalid marks every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Storage   StorageConfig    `mapstructure:"storage" toml:"storage"`
	Database  DatabaseConfig   `mapstructure:"database" toml:"database"`
	Log       LogConfig        `mapstructure:"log" toml:"log"`
	Watch     WatchConfig      `mapstructure:"watch" toml:"watch"`
	Pipelines []PipelineConfig `mapstructure:"pipelines" toml:"pipelines"`
}

type StorageConfig struct {
	Root               string `mapstructure:"root" toml:"root"`
	QuarantineSeconds  int    `mapstructure:"quarantine_seconds" toml:"quarantine_seconds"`
	GracePeriodSeconds int    `mapstructure:"grace_period_seconds" toml:"grace_period_seconds"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json"`
	Level string `mapstructure:"level" toml:"level"`
	File  string `mapstructure:"file" toml:"file,omitempty"`
}

type WatchConfig struct {
	DebounceMS       int `mapstructure:"debounce_ms" toml:"debounce_ms"`
	IntervalSeconds  int `mapstructure:"interval_seconds" toml:"interval_seconds"`
	MaxRunsPerMinute int `mapstructure:"max_runs_per_minute" toml:"max_runs_per_minute"`
}

// PipelineConfig describes one named pipeline. Nil overrides inherit the
// storage-wide values.
type PipelineConfig struct {
	Name               string   `mapstructure:"name" toml:"name"`
	Patterns           []string `mapstructure:"patterns" toml:"patterns,omitempty"`
	Kinds              []string `mapstructure:"kinds" toml:"kinds,omitempty"`
	QuarantineSeconds  *int     `mapstructure:"quarantine_seconds" toml:"quarantine_seconds,omitempty"`
	GracePeriodSeconds *int     `mapstructure:"grace_period_seconds" toml:"grace_period_seconds,omitempty"`
	Ledger             bool     `mapstructure:"ledger" toml:"ledger"`
}

// Quarantine returns the effective quarantine of p.
func (c *Config) Quarantine(p PipelineConfig) time.Duration {
	if p.QuarantineSeconds != nil {
		return seconds(*p.QuarantineSeconds)
	}
	return seconds(c.Storage.QuarantineSeconds)
}

// GracePeriod returns the effective grace period of p.
func (c *Config) GracePeriod(p PipelineConfig) time.Duration {
	if p.GracePeriodSeconds != nil {
		return seconds(*p.GracePeriodSeconds)
	}
	return seconds(c.Storage.GracePeriodSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// KindsOf parses the content kinds of p. Validate has already rejected
// unknown names.
func KindsOf(p PipelineConfig) []sniff.Kind {
	kinds := make([]sniff.Kind, 0, len(p.Kinds))
	for _, name := range p.Kinds {
		if k, ok := sniff.ParseKind(name); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Select returns the named pipelines in the given order, or every pipeline
// when names is empty. Names match case-insensitively.
func (c *Config) Select(names []string) ([]PipelineConfig, error) {
	if len(names) == 0 {
		return c.Pipelines, nil
	}
	out := make([]PipelineConfig, 0, len(names))
	for _, name := range names {
		found := false
		for _, p := range c.Pipelines {
			if strings.EqualFold(p.Name, name) {
				out = append(out, p)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.WithHint(
				errors.Newf("unknown pipeline %q", name),
				"pipelines are declared as [[pipelines]] tables in swallow.toml")
		}
	}
	return out, nil
}

// Render writes c back as TOML.
func (c *Config) Render(w io.Writer) error {
	return errors.Wrap(toml.NewEncoder(w).Encode(c), "encode config")
}

// LoadWithViper unmarshals and validates the configuration held by v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
