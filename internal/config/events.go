package config

import "time"

// EventsConfig tunes event batching and selects where batches are uploaded.
type EventsConfig struct {
	BatchSize     int           `envconfig:"BATCH_SIZE" yaml:"batch_size" default:"10" validate:"min=1"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" yaml:"flush_interval" default:"30s" validate:"min=1s"`
	UploadTimeout time.Duration `envconfig:"UPLOAD_TIMEOUT" yaml:"upload_timeout" default:"30s" validate:"min=1s"`

	Backend      string `envconfig:"BACKEND" yaml:"backend" default:"http" validate:"oneof=http postgres redis"`
	Stream       string `envconfig:"STREAM" yaml:"stream" default:"heimdall:events"`
	StreamMaxLen int64  `envconfig:"STREAM_MAX_LEN" yaml:"stream_max_len" default:"0" validate:"min=0"`
}
