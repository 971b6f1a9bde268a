package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/heimdall-sdk/internal/apply"
	"github.com/rafaeljc/heimdall-sdk/internal/events"
	"github.com/rafaeljc/heimdall-sdk/internal/flags"
	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// echoResolver resolves one flag "greeting" whose text is the requested user.
type echoResolver struct {
	mu       sync.Mutex
	requests []flags.ResolveRequest
	fail     bool
}

func (r *echoResolver) Resolve(_ context.Context, req flags.ResolveRequest) (flags.ResolveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.fail {
		return flags.ResolveResult{}, errors.New("backend unavailable")
	}

	user, _ := req.Context.Get("user")
	text, _ := user.AsString()
	token := fmt.Sprintf("token-%s", text)
	if req.LastResolveToken == token {
		return flags.ResolveResult{NotModified: true}, nil
	}
	return flags.ResolveResult{
		Token: token,
		Flags: []flags.ResolvedFlag{{
			Name:    "greeting",
			Variant: "flags/greeting/variants/on",
			Value:   value.Struct{"text": value.String(text)},
			Reason:  flags.ResolveReasonMatch,
		}},
	}, nil
}

func (r *echoResolver) lastRequest() flags.ResolveRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

type recordingApplyClient struct {
	mu     sync.Mutex
	tokens []string
}

func (a *recordingApplyClient) Apply(_ context.Context, _ []apply.AppliedFlag, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = append(a.tokens, token)
	return nil
}

func (a *recordingApplyClient) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.tokens...)
}

type recordingUploader struct {
	mu     sync.Mutex
	events []events.Event
}

func (u *recordingUploader) Upload(_ context.Context, batch []events.Event) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, batch...)
	return nil
}

func (u *recordingUploader) uploaded() []events.Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]events.Event(nil), u.events...)
}

type fixture struct {
	client   *Client
	resolver *echoResolver
	applies  *recordingApplyClient
	uploader *recordingUploader
	dir      string
}

func newFixture(t *testing.T, initial value.Struct) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		resolver: &echoResolver{},
		applies:  &recordingApplyClient{},
		uploader: &recordingUploader{},
		dir:      dir,
	}

	c, err := New(context.Background(), Options{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Resolver:       f.resolver,
		ApplyClient:    f.applies,
		ApplyStore:     apply.NewFileStore(filepath.Join(dir, "apply.json"), nil),
		Uploader:       f.uploader,
		EventsDir:      filepath.Join(dir, "events"),
		VisitorIDFile:  filepath.Join(dir, "visitor_id"),
		InitialContext: initial,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	f.client = c
	return f
}

func TestNew(t *testing.T) {
	t.Run("Should resolve the initial context with a visitor id", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})

		// Act
		err := f.client.AwaitReconciliation(context.Background())

		// Assert
		require.NoError(t, err)
		assert.True(t, f.client.Ready())

		visitor, ok := f.client.Context().Get(VisitorIDKey)
		require.True(t, ok)
		id, _ := visitor.AsString()
		_, parseErr := uuid.Parse(id)
		assert.NoError(t, parseErr)

		req := f.resolver.lastRequest()
		assert.True(t, req.Context.Equal(f.client.Context()))
	})

	t.Run("Should keep a visitor id given in the initial context", func(t *testing.T) {
		// Arrange & Act
		f := newFixture(t, value.Struct{VisitorIDKey: value.String("custom")})

		// Assert
		got, _ := f.client.Context().Get(VisitorIDKey)
		assert.True(t, got.Equal(value.String("custom")))
	})

	t.Run("Should reject a missing events directory", func(t *testing.T) {
		_, err := New(context.Background(), Options{
			Resolver:    &echoResolver{},
			ApplyClient: &recordingApplyClient{},
			ApplyStore:  apply.NewFileStore(filepath.Join(t.TempDir(), "apply.json"), nil),
			Uploader:    &recordingUploader{},
		})
		assert.Error(t, err)
	})
}

func TestVisitorID(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		keep     bool
	}{
		{name: "Should create an id when the file is missing"},
		{name: "Should keep a valid stored id", existing: "3b241101-e2bb-4255-8caf-4136c566a962", keep: true},
		{name: "Should replace a corrupt stored id", existing: "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			path := filepath.Join(t.TempDir(), "visitor_id")
			if tt.existing != "" {
				require.NoError(t, os.WriteFile(path, []byte(tt.existing+"\n"), 0o600))
			}

			// Act
			id, err := VisitorID(path)

			// Assert
			require.NoError(t, err)
			if tt.keep {
				assert.Equal(t, tt.existing, id)
			} else {
				_, parseErr := uuid.Parse(id)
				assert.NoError(t, parseErr)
			}

			again, err := VisitorID(path)
			require.NoError(t, err)
			assert.Equal(t, id, again)
		})
	}
}

func TestClient_Context(t *testing.T) {
	t.Run("Should resolve the latest context after several changes", func(t *testing.T) {
		// Arrange
		f := newFixture(t, nil)

		// Act
		for _, user := range []string{"a", "b", "c"} {
			f.client.PutContext("user", value.String(user))
		}
		require.NoError(t, f.client.AwaitReconciliation(context.Background()))

		// Assert
		got, err := f.client.EvaluateString("greeting.text", "none")
		require.NoError(t, err)
		assert.Equal(t, "c", got.Value)
		assert.Equal(t, flags.ReasonTargetingMatch, got.Reason)
	})

	t.Run("Should layer child overrides and removals over the parent", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice"), "plan": value.String("pro")})
		child, err := f.client.WithContext(value.Struct{"user": value.String("bob")})
		require.NoError(t, err)

		// Act
		child.RemoveContext("plan")
		require.NoError(t, child.AwaitReconciliation(context.Background()))

		// Assert
		ctx := child.Context()
		got, _ := ctx.Get("user")
		assert.True(t, got.Equal(value.String("bob")))
		_, hasPlan := ctx.Get("plan")
		assert.False(t, hasPlan)
		_, hasVisitor := ctx.Get(VisitorIDKey)
		assert.True(t, hasVisitor)

		parentPlan, ok := f.client.Context().Get("plan")
		assert.True(t, ok)
		assert.True(t, parentPlan.Equal(value.String("pro")))

		eval, err := child.EvaluateString("greeting.text", "none")
		require.NoError(t, err)
		assert.Equal(t, "bob", eval.Value)
	})

	t.Run("Should follow parent changes in the child", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})
		child, err := f.client.WithContext(value.Struct{"screen": value.String("home")})
		require.NoError(t, err)

		// Act
		f.client.PutContext("user", value.String("carol"))
		require.NoError(t, child.AwaitReconciliation(context.Background()))

		// Assert
		eval, err := child.EvaluateString("greeting.text", "none")
		require.NoError(t, err)
		assert.Equal(t, "carol", eval.Value)
	})

	t.Run("Should put a previously removed key back", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})
		f.client.RemoveContext("user")

		// Act
		f.client.PutContextMap(value.Struct{"user": value.String("dave")})

		// Assert
		got, ok := f.client.Context().Get("user")
		require.True(t, ok)
		assert.True(t, got.Equal(value.String("dave")))
	})
}

func TestClient_Evaluate(t *testing.T) {
	t.Run("Should report stale flags while a new context is pending", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})
		require.NoError(t, f.client.AwaitReconciliation(context.Background()))
		f.resolver.mu.Lock()
		f.resolver.fail = true
		f.resolver.mu.Unlock()

		// Act
		f.client.PutContext("user", value.String("bob"))
		err := f.client.AwaitReconciliation(context.Background())
		got, evalErr := f.client.EvaluateString("greeting.text", "none")

		// Assert
		assert.ErrorIs(t, err, flags.ErrNotReady)
		require.NoError(t, evalErr)
		assert.Equal(t, "none", got.Value)
		assert.Equal(t, flags.ErrorCodeProviderNotReady, got.ErrorCode)
	})

	t.Run("Should return a hard error for an unknown flag", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})
		require.NoError(t, f.client.AwaitReconciliation(context.Background()))

		// Act
		_, err := f.client.EvaluateBool("missing", false)

		// Assert
		var notFound *flags.FlagNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("Should send an apply for a matched evaluation", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})
		require.NoError(t, f.client.AwaitReconciliation(context.Background()))

		// Act
		_, err := f.client.EvaluateStruct("greeting", nil)
		require.NoError(t, err)

		// Assert
		require.Eventually(t, func() bool {
			return len(f.applies.calls()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, "token-alice", f.applies.calls()[0])
	})
}

func TestClient_Refresh(t *testing.T) {
	t.Run("Should pass the last token and keep the resolution on NotModified", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})
		require.NoError(t, f.client.AwaitReconciliation(context.Background()))

		// Act
		err := f.client.Refresh(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "token-alice", f.resolver.lastRequest().LastResolveToken)
		got, err := f.client.EvaluateString("greeting.text", "none")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Value)
	})
}

func TestClient_Track(t *testing.T) {
	t.Run("Should upload events with the context captured at emission", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})

		// Act
		require.NoError(t, f.client.Track("purchase", value.Struct{"amount": value.Int(3)}))
		f.client.PutContext("user", value.String("bob"))
		require.NoError(t, f.client.Flush(context.Background()))

		// Assert
		uploaded := f.uploader.uploaded()
		require.Len(t, uploaded, 1)
		e := uploaded[0]
		assert.Equal(t, "purchase", e.Name())
		user, _ := e.Payload.Get("user")
		assert.True(t, user.Equal(value.String("alice")))
		amount, _ := e.Message().Get("amount")
		assert.True(t, amount.Equal(value.Int(3)))
	})
}

type chanProducer struct {
	events  chan ProducedEvent
	changes chan value.Struct
	once    sync.Once
	stopped chan struct{}
}

func newChanProducer() *chanProducer {
	return &chanProducer{
		events:  make(chan ProducedEvent),
		changes: make(chan value.Struct),
		stopped: make(chan struct{}),
	}
}

func (p *chanProducer) Events() <-chan ProducedEvent        { return p.events }
func (p *chanProducer) ContextChanges() <-chan value.Struct { return p.changes }
func (p *chanProducer) Stop()                               { p.once.Do(func() { close(p.stopped) }) }

func TestClient_TrackProducer(t *testing.T) {
	t.Run("Should apply context deltas and track produced events", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice"), "screen": value.String("home")})
		p := newChanProducer()
		f.client.TrackProducer(p)

		// Act
		p.changes <- value.Struct{"screen": value.Null(), "app": value.String("2.0")}
		p.events <- ProducedEvent{Name: "app-launched", Message: value.Struct{}}
		// The consumer handles one item at a time, so this send waits for the event above.
		p.changes <- value.Struct{}
		require.NoError(t, f.client.Flush(context.Background()))

		// Assert
		ctx := f.client.Context()
		_, hasScreen := ctx.Get("screen")
		assert.False(t, hasScreen)
		app, _ := ctx.Get("app")
		assert.True(t, app.Equal(value.String("2.0")))

		uploaded := f.uploader.uploaded()
		require.Len(t, uploaded, 1)
		assert.Equal(t, "app-launched", uploaded[0].Name())
	})

	t.Run("Should stop producers when the client stops", func(t *testing.T) {
		// Arrange
		f := newFixture(t, nil)
		p := newChanProducer()
		f.client.TrackProducer(p)

		// Act
		require.NoError(t, f.client.Stop(context.Background()))

		// Assert
		select {
		case <-p.stopped:
		case <-time.After(time.Second):
			t.Fatal("producer was not stopped")
		}
	})
}

func TestClient_Stop(t *testing.T) {
	t.Run("Should reject work after stop", func(t *testing.T) {
		// Arrange
		f := newFixture(t, value.Struct{"user": value.String("alice")})
		child, err := f.client.WithContext(nil)
		require.NoError(t, err)

		// Act
		require.NoError(t, f.client.Stop(context.Background()))

		// Assert
		assert.ErrorIs(t, f.client.Track("late", nil), ErrStopped)
		assert.ErrorIs(t, child.Track("late", nil), ErrStopped)
		assert.ErrorIs(t, f.client.Refresh(context.Background()), ErrStopped)
		_, err = f.client.WithContext(nil)
		assert.ErrorIs(t, err, ErrStopped)
		assert.NoError(t, f.client.Stop(context.Background()))
	})

	t.Run("Should release the events directory", func(t *testing.T) {
		// Arrange
		f := newFixture(t, nil)
		require.NoError(t, f.client.Stop(context.Background()))

		// Act
		storage, err := events.OpenFileStorage(filepath.Join(f.dir, "events"), nil)
		require.NoError(t, err)
		engine, err := events.NewEngine(nil, events.Config{}, storage, f.uploader)

		// Assert
		require.NoError(t, err)
		assert.NoError(t, engine.Stop())
	})
}
