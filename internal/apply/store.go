package apply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/rafaeljc/heimdall-sdk/internal/atomicfile"
)

// Store persists the apply snapshot. Load never fails on missing or corrupt
// data: it returns an empty snapshot so a damaged file can't block startup.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

// FileStore keeps the snapshot in a single JSON file, rewritten atomically.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if path == "" {
		panic("apply: file store path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Load reads the snapshot from disk.
func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read apply store: %w", err)
	}

	return decodeSnapshot(data, s.logger, s.path), nil
}

// Save replaces the file content with snapshot.
func (s *FileStore) Save(_ context.Context, snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode apply store: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write apply store: %w", err)
	}
	return nil
}

// decodeSnapshot treats undecodable input as empty state.
func decodeSnapshot(data []byte, logger *slog.Logger, source string) Snapshot {
	if len(data) == 0 {
		return Snapshot{}
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logger.Warn("discarding corrupt apply store",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return Snapshot{}
	}
	if snapshot == nil {
		return Snapshot{}
	}
	return snapshot
}
