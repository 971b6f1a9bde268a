package apply

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return an empty snapshot when the file does not exist", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"), discardLogger())

		got, err := store.Load(ctx)

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Should return an empty snapshot for an empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "apply.json")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		store := NewFileStore(path, discardLogger())

		got, err := store.Load(ctx)

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Should round-trip a snapshot unchanged", func(t *testing.T) {
		// Arrange
		store := NewFileStore(filepath.Join(t.TempDir(), "apply.json"), discardLogger())
		snapshot := Snapshot{
			"token1": {
				"flag-a": {Time: time.Date(2023, 6, 26, 11, 55, 33, 443000000, time.UTC), Status: StatusCreated},
				"flag-b": {Time: time.Date(2023, 6, 26, 11, 55, 33, 184774000, time.UTC), Status: StatusSending},
			},
			"token2": {
				"flag-a": {Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Status: StatusSent},
			},
		}

		// Act
		require.NoError(t, store.Save(ctx, snapshot))
		got, err := store.Load(ctx)

		// Assert
		require.NoError(t, err)
		require.Len(t, got, 2)
		for token, flags := range snapshot {
			require.Len(t, got[token], len(flags))
			for name, e := range flags {
				assert.Equal(t, e.Status, got[token][name].Status)
				assert.True(t, e.Time.Equal(got[token][name].Time), "time mismatch for %s/%s", token, name)
			}
		}
	})

	t.Run("Should write the documented JSON layout", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "apply.json")
		store := NewFileStore(path, discardLogger())

		err := store.Save(ctx, Snapshot{
			"token1": {"flag": {Time: time.Date(2023, 6, 26, 11, 55, 33, 443000000, time.UTC), Status: StatusSent}},
		})

		require.NoError(t, err)
		assert.JSONEq(t,
			`{"token1":{"flag":{"time":"2023-06-26T11:55:33.443Z","eventStatus":"SENT"}}}`,
			readFile(t, path),
		)
	})
}

func TestSnapshot_Clone(t *testing.T) {
	original := Snapshot{"t": {"f": {Status: StatusCreated}}}

	clone := original.Clone()
	clone["t"]["f"] = Entry{Status: StatusSent}

	assert.Equal(t, StatusCreated, original["t"]["f"].Status)
	assert.Equal(t, 1, original.Count())
}
