package client

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"

	"github.com/rafaeljc/heimdall-sdk/internal/atomicfile"
)

// VisitorIDKey is the context key carrying the persisted visitor id.
const VisitorIDKey = "visitorId"

// VisitorID returns the id stored at path, creating one when the file is
// missing or does not hold a valid UUID.
func VisitorID(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id, parseErr := uuid.ParseBytes(bytes.TrimSpace(data)); parseErr == nil {
			return id.String(), nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("failed to read visitor id: %w", err)
	}

	id := uuid.NewString()
	if err := atomicfile.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("failed to store visitor id: %w", err)
	}
	return id, nil
}
