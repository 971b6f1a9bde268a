package config

import "time"

// ApplyConfig tunes apply reporting.
type ApplyConfig struct {
	SendTimeout   time.Duration `envconfig:"SEND_TIMEOUT" yaml:"send_timeout" default:"10s" validate:"min=100ms"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" yaml:"store_timeout" default:"5s" validate:"min=100ms"`
	SentCacheSize int           `envconfig:"SENT_CACHE_SIZE" yaml:"sent_cache_size" default:"10000" validate:"min=1"`
	SentCacheTTL  time.Duration `envconfig:"SENT_CACHE_TTL" yaml:"sent_cache_ttl" default:"24h" validate:"min=1s"`
}
