package config

import "github.com/spf13/viper"

const (
	DefaultFileName = "swallow.toml"
	EnvPrefix       = "SWALLOW"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.root", "data")
	v.SetDefault("storage.quarantine_seconds", 60)
	v.SetDefault("storage.grace_period_seconds", 3600)

	v.SetDefault("database.path", "swallow.db")

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("watch.debounce_ms", 500)
	v.SetDefault("watch.interval_seconds", 60)
	v.SetDefault("watch.max_runs_per_minute", 6)
}
