package apply

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applyCall struct {
	token string
	flags []AppliedFlag
}

// recordingClient records every apply call and fails while fail is set.
// When gate is non-nil each call blocks until the gate is closed.
type recordingClient struct {
	mu    sync.Mutex
	calls []applyCall
	fail  bool
	gate  chan struct{}
}

func (c *recordingClient) Apply(ctx context.Context, flags []AppliedFlag, token string) error {
	c.mu.Lock()
	c.calls = append(c.calls, applyCall{token: token, flags: flags})
	fail := c.fail
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("network unavailable")
	}
	return nil
}

func (c *recordingClient) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *recordingClient) callsFor(token string) []applyCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []applyCall
	for _, call := range c.calls {
		if call.token == token {
			out = append(out, call)
		}
	}
	return out
}

func (c *recordingClient) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApplier(t *testing.T, client Client, path string) *Applier {
	t.Helper()
	a, err := New(context.Background(), discardLogger(), Config{}, client, NewFileStore(path, discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestApplier_Apply(t *testing.T) {
	t.Run("Should send exactly one apply for a flag evaluated twice under the same token", func(t *testing.T) {
		// Arrange
		client := &recordingClient{}
		a := newTestApplier(t, client, filepath.Join(t.TempDir(), "apply.json"))

		// Act
		a.Apply("flag-a", "token1")
		a.Wait()
		a.Apply("flag-a", "token1")
		a.Wait()

		// Assert
		calls := client.callsFor("token1")
		require.Len(t, calls, 1)
		require.Len(t, calls[0].flags, 1)
		assert.Equal(t, "flag-a", calls[0].flags[0].Flag)
	})

	t.Run("Should send again for the same flag under a new token", func(t *testing.T) {
		// Arrange
		client := &recordingClient{}
		a := newTestApplier(t, client, filepath.Join(t.TempDir(), "apply.json"))

		// Act
		a.Apply("flag-a", "token1")
		a.Wait()
		a.Apply("flag-a", "token2")
		a.Wait()

		// Assert
		assert.Len(t, client.callsFor("token1"), 1)
		assert.Len(t, client.callsFor("token2"), 1)
	})

	t.Run("Should suppress duplicates while a send is in flight", func(t *testing.T) {
		// Arrange
		client := &recordingClient{gate: make(chan struct{})}
		a := newTestApplier(t, client, filepath.Join(t.TempDir(), "apply.json"))

		// Act
		a.Apply("flag-a", "token1")
		a.Apply("flag-a", "token1")
		a.Apply("flag-a", "token1")
		close(client.gate)
		a.Wait()

		// Assert
		assert.Equal(t, 1, client.total())
	})

	t.Run("Should retry a failed apply on every later trigger until it succeeds", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "apply.json")
		client := &recordingClient{fail: true}
		a := newTestApplier(t, client, path)

		// Act
		for range 8 {
			a.Apply("flag-a", "token1")
			a.Wait()
		}
		assert.Equal(t, 8, client.total())
		assert.Contains(t, readFile(t, path), `"eventStatus":"CREATED"`)

		client.setFail(false)
		a.Apply("flag-a", "token1")
		a.Wait()

		// Assert
		calls := client.callsFor("token1")
		require.Len(t, calls, 9)
		assert.Len(t, calls[8].flags, 1)
		assert.JSONEq(t, `{}`, readFile(t, path))
	})

	t.Run("Should batch all pending flags of a token into one call", func(t *testing.T) {
		// Arrange
		client := &recordingClient{fail: true}
		a := newTestApplier(t, client, filepath.Join(t.TempDir(), "apply.json"))
		a.Apply("flag-a", "token1")
		a.Wait()

		// Act
		client.setFail(false)
		a.Apply("flag-b", "token1")
		a.Wait()

		// Assert
		calls := client.callsFor("token1")
		require.Len(t, calls, 2)
		require.Len(t, calls[1].flags, 2)
		assert.Equal(t, "flag-a", calls[1].flags[0].Flag)
		assert.Equal(t, "flag-b", calls[1].flags[1].Flag)
		assert.Empty(t, a.Pending())
	})

	t.Run("Should keep the original apply time across retries", func(t *testing.T) {
		// Arrange
		client := &recordingClient{fail: true}
		a := newTestApplier(t, client, filepath.Join(t.TempDir(), "apply.json"))
		first := time.Date(2023, 6, 26, 11, 55, 33, 0, time.UTC)
		a.now = func() time.Time { return first }
		a.Apply("flag-a", "token1")
		a.Wait()

		// Act
		a.now = func() time.Time { return first.Add(time.Hour) }
		a.Apply("flag-a", "token1")
		a.Wait()

		// Assert
		calls := client.callsFor("token1")
		require.Len(t, calls, 2)
		assert.True(t, calls[1].flags[0].ApplyTime.Equal(first))
	})
}

func TestApplier_StartupRecovery(t *testing.T) {
	const stored = `{
		"token1":{"flag":{"time":"2023-06-26T11:55:33.443Z","eventStatus":"SENT"}},
		"token2":{"flag":{"time":"2023-06-26T11:55:33.443Z","eventStatus":"CREATED"}},
		"token3":{"flag":{"time":"2023-06-26T11:55:33.184774Z","eventStatus":"SENDING"}}
	}`

	t.Run("Should resend unacknowledged entries on start and drop sent ones", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "apply.json")
		require.NoError(t, os.WriteFile(path, []byte(stored), 0o600))
		client := &recordingClient{}

		// Act
		a := newTestApplier(t, client, path)
		a.Wait()

		// Assert
		assert.Empty(t, client.callsFor("token1"))
		assert.Len(t, client.callsFor("token2"), 1)
		assert.Len(t, client.callsFor("token3"), 1)
		assert.JSONEq(t, `{}`, readFile(t, path))
	})

	t.Run("Should resend a recovered entry again when it keeps failing", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "apply.json")
		require.NoError(t, os.WriteFile(path, []byte(stored), 0o600))
		client := &recordingClient{fail: true}

		// Act
		a := newTestApplier(t, client, path)
		a.Wait()
		a.Apply("other", "token2")
		a.Wait()
		a.Apply("other", "token2")
		a.Wait()

		// Assert
		assert.Len(t, client.callsFor("token2"), 3)
		assert.Contains(t, a.Pending()["token2"], "flag")
		assert.Contains(t, a.Pending()["token2"], "other")
	})

	t.Run("Should start empty from a corrupt file", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "apply.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		client := &recordingClient{}

		// Act
		a := newTestApplier(t, client, path)
		a.Wait()

		// Assert
		assert.Zero(t, client.total())
		assert.Empty(t, a.Pending())
	})
}

func TestApplier_Close(t *testing.T) {
	t.Run("Should ignore applies after close", func(t *testing.T) {
		// Arrange
		client := &recordingClient{}
		a, err := New(context.Background(), discardLogger(), Config{}, client,
			NewFileStore(filepath.Join(t.TempDir(), "apply.json"), discardLogger()))
		require.NoError(t, err)

		// Act
		require.NoError(t, a.Close(context.Background()))
		a.Apply("flag-a", "token1")

		// Assert
		assert.Zero(t, client.total())
	})

	t.Run("Should return when the context expires before in-flight calls finish", func(t *testing.T) {
		// Arrange
		client := &recordingClient{gate: make(chan struct{})}
		a, err := New(context.Background(), discardLogger(), Config{}, client,
			NewFileStore(filepath.Join(t.TempDir(), "apply.json"), discardLogger()))
		require.NoError(t, err)
		a.Apply("flag-a", "token1")

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		// Act
		err = a.Close(ctx)

		// Assert
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(client.gate)
		a.Wait()
	})
}

// slowStore delays every Save, like a store behind a slow disk or network.
type slowStore struct {
	delay time.Duration

	mu    sync.Mutex
	saved Snapshot
}

func (s *slowStore) Load(ctx context.Context) (Snapshot, error) {
	return Snapshot{}, nil
}

func (s *slowStore) Save(ctx context.Context, snapshot Snapshot) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = snapshot
	return nil
}

func (s *slowStore) last() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

func TestApplier_SlowStore(t *testing.T) {
	t.Run("Should return from Apply without waiting for the store", func(t *testing.T) {
		// Arrange
		store := &slowStore{delay: 300 * time.Millisecond}
		client := &recordingClient{}
		a, err := New(context.Background(), discardLogger(), Config{}, client, store)
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close(context.Background()) })

		// Act
		start := time.Now()
		for range 5 {
			a.Apply("flag-a", "token1")
			a.Apply("flag-b", "token1")
		}
		elapsed := time.Since(start)

		// Assert
		assert.Less(t, elapsed, 50*time.Millisecond)
		a.Wait()
		assert.Len(t, client.callsFor("token1"), 1)
		assert.Empty(t, store.last())
	})

	t.Run("Should persist SENDING before the apply call goes out", func(t *testing.T) {
		// Arrange
		store := &slowStore{delay: 10 * time.Millisecond}
		client := &recordingClient{gate: make(chan struct{})}
		a, err := New(context.Background(), discardLogger(), Config{}, client, store)
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close(context.Background()) })

		// Act
		a.Apply("flag-a", "token1")

		// Assert
		require.Eventually(t, func() bool { return client.total() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, StatusSending, store.last()["token1"]["flag-a"].Status)
		close(client.gate)
		a.Wait()
		assert.Empty(t, store.last())
	})
}
