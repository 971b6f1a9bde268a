package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/rafaeljc/heimdall-sdk/internal/atomicfile"
	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// SnapshotStore persists the latest resolution for offline start-up.
type SnapshotStore interface {
	Load(ctx context.Context) (*Resolution, error)
	Save(ctx context.Context, r *Resolution) error
}

type storedResolution struct {
	Flags        []ResolvedFlag `json:"flags"`
	ResolveToken string         `json:"resolveToken"`
	Context      value.Struct   `json:"context"`
}

// FileSnapshotStore keeps the resolution in one JSON file.
type FileSnapshotStore struct {
	path   string
	logger *slog.Logger
}

func NewFileSnapshotStore(path string, logger *slog.Logger) *FileSnapshotStore {
	if path == "" {
		panic("flags: snapshot path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSnapshotStore{path: path, logger: logger}
}

// Load returns nil without error when nothing usable is stored.
func (s *FileSnapshotStore) Load(_ context.Context) (*Resolution, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resolution snapshot: %w", err)
	}

	var stored storedResolution
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warn("discarding corrupt resolution snapshot",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if stored.ResolveToken == "" {
		return nil, nil
	}

	return NewResolution(stored.Flags, stored.ResolveToken, stored.Context), nil
}

func (s *FileSnapshotStore) Save(_ context.Context, r *Resolution) error {
	data, err := json.Marshal(storedResolution{
		Flags:        r.flags,
		ResolveToken: r.token,
		Context:      r.context,
	})
	if err != nil {
		return fmt.Errorf("failed to encode resolution snapshot: %w", err)
	}
	return atomicfile.WriteFile(s.path, data, 0o600)
}
