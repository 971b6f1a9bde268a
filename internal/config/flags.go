package config

import "time"

// FlagsConfig controls which flags are resolved and how often.
type FlagsConfig struct {
	// Names restricts resolution to these flags; empty resolves every flag
	// the client secret can see.
	Names           []string      `envconfig:"NAMES" yaml:"names"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" yaml:"refresh_interval" default:"30s" validate:"min=1s"`
	PersistSnapshot bool          `envconfig:"PERSIST_SNAPSHOT" yaml:"persist_snapshot" default:"true"`
}
