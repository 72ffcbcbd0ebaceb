package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Load reads the configuration at path. An empty path searches the working
// directory and its parents for swallow.toml, then ~/.swallow/swallow.toml;
// when nothing is found the defaults apply. SWALLOW_ environment variables
// (SWALLOW_STORAGE_ROOT, ...) override file values.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// NewViper prepares a viper instance with defaults, environment binding and
// the config file, if any.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return v, nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return v, nil
}

// ConfigFile returns the file Load would read for path, or "" if none.
func ConfigFile(path string) string {
	if path != "" {
		return path
	}
	return findConfig()
}

func findConfig() string {
	if dir, err := os.Getwd(); err == nil {
		for {
			candidate := filepath.Join(dir, DefaultFileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".swallow", DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
