//go:build integration

package apply_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/heimdall-sdk/internal/apply"
	"github.com/rafaeljc/heimdall-sdk/internal/testsupport"
)

func TestRedisStore_Integration(t *testing.T) {
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Should return an empty snapshot when the key is missing", func(t *testing.T) {
		store := apply.NewRedisStore(redisCtr.Client, "test:apply:missing", logger)

		got, err := store.Load(ctx)

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Should round-trip a snapshot", func(t *testing.T) {
		// Arrange
		store := apply.NewRedisStore(redisCtr.Client, "test:apply:roundtrip", logger)
		when := time.Date(2023, 6, 26, 11, 55, 33, 443000000, time.UTC)
		snapshot := apply.Snapshot{"token1": {"flag": {Time: when, Status: apply.StatusCreated}}}

		// Act
		require.NoError(t, store.Save(ctx, snapshot))
		got, err := store.Load(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, apply.StatusCreated, got["token1"]["flag"].Status)
		assert.True(t, when.Equal(got["token1"]["flag"].Time))
	})

	t.Run("Should treat a corrupt value as empty", func(t *testing.T) {
		require.NoError(t, redisCtr.Client.Set(ctx, "test:apply:corrupt", "garbage", 0).Err())
		store := apply.NewRedisStore(redisCtr.Client, "test:apply:corrupt", logger)

		got, err := store.Load(ctx)

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Should drive an applier end to end", func(t *testing.T) {
		// Arrange
		store := apply.NewRedisStore(redisCtr.Client, "test:apply:applier", logger)
		calls := 0
		client := apply.ClientFunc(func(ctx context.Context, flags []apply.AppliedFlag, token string) error {
			calls++
			return nil
		})
		a, err := apply.New(ctx, logger, apply.Config{}, client, store)
		require.NoError(t, err)
		defer a.Close(ctx)

		// Act
		a.Apply("flag-a", "token1")
		a.Wait()

		// Assert
		assert.Equal(t, 1, calls)
		raw, err := redisCtr.Client.Get(ctx, "test:apply:applier").Result()
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, raw)
	})
}
