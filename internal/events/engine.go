package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rafaeljc/heimdall-sdk/internal/observability"
	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

var (
	// ErrStopped is returned by Emit and Flush after Stop, and by Sync once the worker exited.
	ErrStopped = errors.New("events: engine stopped")
	// ErrDirectoryInUse is returned when another engine owns the storage directory.
	ErrDirectoryInUse = errors.New("events: storage directory already in use")
)

// Uploader delivers a batch of events. A nil error means the whole batch was
// accepted and the segment may be deleted.
type Uploader interface {
	Upload(ctx context.Context, batch []Event) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, batch []Event) error

func (f UploaderFunc) Upload(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Config holds the engine settings.
type Config struct {
	// UploadTimeout bounds a single segment upload.
	UploadTimeout time.Duration
}

// registry makes sure only one engine writes to a directory per process.
var registry = struct {
	sync.Mutex
	dirs map[string]struct{}
}{dirs: map[string]struct{}{}}

func register(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve event directory: %w", err)
	}

	registry.Lock()
	defer registry.Unlock()

	if _, taken := registry.dirs[abs]; taken {
		return "", ErrDirectoryInUse
	}
	registry.dirs[abs] = struct{}{}
	return abs, nil
}

func unregister(abs string) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.dirs, abs)
}

// Engine accepts events, applies flush policies and uploads sealed segments.
//
// Emit is serialized by a mutex. A single worker goroutine uploads sealed
// segments in order, so a segment is never uploaded twice concurrently. A
// failed upload leaves the segment on disk; it is retried on the next flush
// or the next start, never on a timer.
type Engine struct {
	logger   *slog.Logger
	config   Config
	storage  *FileStorage
	uploader Uploader
	policies []FlushPolicy
	dir      string
	now      func() time.Time

	mu      sync.Mutex
	stopped bool

	kick     chan struct{}
	syncReq  chan chan struct{}
	done     chan struct{}
	finished chan struct{}
}

// NewEngine takes ownership of storage and starts the upload worker, which
// first retries every sealed segment left from earlier runs.
func NewEngine(logger *slog.Logger, cfg Config, storage *FileStorage, uploader Uploader, policies ...FlushPolicy) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if storage == nil {
		panic("events: storage cannot be nil")
	}
	if uploader == nil {
		panic("events: uploader cannot be nil")
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}

	dir, err := register(storage.Dir())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		logger:   logger,
		config:   cfg,
		storage:  storage,
		uploader: uploader,
		policies: policies,
		dir:      dir,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		syncReq:  make(chan chan struct{}),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	go e.run()

	return e, nil
}

// Emit appends an event built from name, message and the context captured now.
func (e *Engine) Emit(name string, message, evalCtx value.Struct) error {
	evt := NewEvent(name, message, evalCtx, e.now())

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if err := e.storage.Append(evt); err != nil {
		return err
	}
	observability.EventsEmittedTotal.Inc()

	flush := false
	for _, p := range e.policies {
		p.Hit(evt)
		if p.ShouldFlush() {
			flush = true
		}
	}
	if flush {
		return e.sealLocked()
	}
	return nil
}

// Flush seals the open segment now, if it holds any event.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	return e.sealLocked()
}

// Tick re-evaluates time-based policies without a new event.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	for _, p := range e.policies {
		if p.ShouldFlush() {
			if err := e.sealLocked(); err != nil {
				e.logger.Warn("failed to seal segment on tick", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (e *Engine) sealLocked() error {
	seg, err := e.storage.Seal()
	for _, p := range e.policies {
		p.Reset()
	}
	if errors.Is(err, ErrEmptySegment) {
		return nil
	}
	if err != nil {
		return err
	}

	observability.EventsSegmentsSealedTotal.Inc()
	e.logger.Debug("segment sealed", slog.Uint64("segment", seg.Seq))

	select {
	case e.kick <- struct{}{}:
	default:
		// An upload pass is already scheduled and will pick this segment up.
	}
	return nil
}

// Sync waits until every upload pass scheduled so far has finished.
func (e *Engine) Sync(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case e.syncReq <- reply:
	case <-e.finished:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer func() {
		// The directory stays claimed until no upload can be running.
		unregister(e.dir)
		close(e.finished)
	}()

	e.uploadPending()

	for {
		select {
		case <-e.done:
			return
		case <-e.kick:
			e.uploadPending()
		case reply := <-e.syncReq:
			// Sync only drains scheduled work; it is not a retry trigger itself.
			select {
			case <-e.kick:
				e.uploadPending()
			default:
			}
			close(reply)
		}
	}
}

// uploadPending attempts every sealed segment once, oldest first.
func (e *Engine) uploadPending() {
	segments, err := e.storage.SealedSegments()
	if err != nil {
		e.logger.Warn("failed to list sealed segments", slog.String("error", err.Error()))
		return
	}
	observability.EventsSealedBacklog.Set(float64(len(segments)))

	for _, seg := range segments {
		select {
		case <-e.done:
			return
		default:
		}
		e.uploadSegment(seg)
	}

	if remaining, err := e.storage.SealedSegments(); err == nil {
		observability.EventsSealedBacklog.Set(float64(len(remaining)))
	}
}

func (e *Engine) uploadSegment(seg Segment) {
	batch, err := e.storage.ReadEvents(seg)
	if errors.Is(err, ErrUnreadableSegment) {
		path, qErr := e.storage.Quarantine(seg)
		if qErr != nil {
			e.logger.Error("failed to quarantine unreadable segment",
				slog.Uint64("segment", seg.Seq),
				slog.String("error", qErr.Error()),
			)
			return
		}
		e.logger.Error("quarantined unreadable segment",
			slog.Uint64("segment", seg.Seq),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	if err != nil {
		e.logger.Warn("failed to read sealed segment",
			slog.Uint64("segment", seg.Seq),
			slog.String("error", err.Error()),
		)
		return
	}

	if len(batch) > 0 {
		// Stop does not cancel an upload that has already started.
		ctx, cancel := context.WithTimeout(context.Background(), e.config.UploadTimeout)
		start := time.Now()
		err = e.uploader.Upload(ctx, batch)
		cancel()
		observability.EventsUploadDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			observability.EventsUploadsTotal.WithLabelValues("failure").Inc()
			e.logger.Warn("segment upload failed, will retry on next flush",
				slog.Uint64("segment", seg.Seq),
				slog.Int("events", len(batch)),
				slog.String("error", err.Error()),
			)
			return
		}
		observability.EventsUploadsTotal.WithLabelValues("success").Inc()
	}

	if err := e.storage.Delete(seg); err != nil {
		e.logger.Warn("failed to delete uploaded segment",
			slog.Uint64("segment", seg.Seq),
			slog.String("error", err.Error()),
		)
	}
}

// Stop rejects further events, resets the policies and stops scheduling
// uploads. An upload already running completes in the background. The
// storage directory becomes available to a new engine once Done is closed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	for _, p := range e.policies {
		p.Reset()
	}
	e.mu.Unlock()

	close(e.done)
	return e.storage.Close()
}

// Done is closed once the upload worker has exited and released the directory.
func (e *Engine) Done() <-chan struct{} {
	return e.finished
}
