package config

import "path/filepath"

// Backend names shared by the storage and events sections.
const (
	BackendFile     = "file"
	BackendHTTP     = "http"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// StorageConfig locates the agent's durable state.
type StorageConfig struct {
	// DataDir holds the event segments, the apply file and the flag snapshot.
	DataDir      string `envconfig:"DATA_DIR" yaml:"data_dir" default:"./data"`
	ApplyBackend string `envconfig:"APPLY_BACKEND" yaml:"apply_backend" default:"file" validate:"oneof=file redis"`
	ApplyKey     string `envconfig:"APPLY_KEY" yaml:"apply_key" default:"heimdall:apply"`
}

// Validate checks the data directory.
func (c *StorageConfig) Validate() error {
	return validateNoWhitespace(c.DataDir, "storage data dir")
}

// EventsDir is where event segments are written.
func (c *StorageConfig) EventsDir() string {
	return filepath.Join(c.DataDir, "events")
}

// ApplyFile is the apply-tracking file used by the file backend.
func (c *StorageConfig) ApplyFile() string {
	return filepath.Join(c.DataDir, "apply.json")
}

// SnapshotFile stores the last flag resolution.
func (c *StorageConfig) SnapshotFile() string {
	return filepath.Join(c.DataDir, "flags.json")
}

// VisitorIDFile stores the generated visitor id.
func (c *StorageConfig) VisitorIDFile() string {
	return filepath.Join(c.DataDir, "visitor_id")
}
