// Package client ties flag resolution, apply tracking and event sending
// together behind a context-aware facade.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rafaeljc/heimdall-sdk/internal/apply"
	"github.com/rafaeljc/heimdall-sdk/internal/events"
	"github.com/rafaeljc/heimdall-sdk/internal/flags"
	"github.com/rafaeljc/heimdall-sdk/internal/logger"
	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// ErrStopped is returned by operations on a stopped client.
var ErrStopped = errors.New("client: stopped")

// Options configures a root client.
type Options struct {
	Logger *slog.Logger

	// FlagNames limits resolves to these flags. Empty resolves all flags.
	FlagNames []string

	Resolver      flags.Resolver
	SnapshotStore flags.SnapshotStore

	ApplyClient apply.Client
	ApplyStore  apply.Store
	ApplyConfig apply.Config

	Uploader      events.Uploader
	EventsDir     string
	EventsConfig  events.Config
	FlushPolicies []events.FlushPolicy

	// VisitorIDFile persists the visitor id. Empty disables the visitorId key.
	VisitorIDFile string

	InitialContext value.Struct
}

// Client evaluates flags and tracks events for its evaluation context.
// Every context change schedules a resolve on a per-client worker, so
// results for an older context never replace a newer one.
type Client struct {
	logger    *slog.Logger
	flagNames []string
	resolver  flags.Resolver
	cache     *flags.Cache
	applier   *apply.Applier
	engine    *events.Engine

	parent *Client
	layer  atomic.Pointer[layer]

	mu        sync.Mutex
	stopped   bool
	children  []*Client
	producers []EventProducer

	kick   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recMu     sync.Mutex
	scheduled uint64
	completed uint64
	lastErr   error
	settled   chan struct{}
}

// New builds the root client and schedules the first resolve.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Resolver == nil {
		panic("client: resolver cannot be nil")
	}
	if opts.ApplyClient == nil || opts.ApplyStore == nil {
		panic("client: apply client and store cannot be nil")
	}
	if opts.Uploader == nil {
		panic("client: uploader cannot be nil")
	}
	if opts.EventsDir == "" {
		return nil, errors.New("client: events directory is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	applier, err := apply.New(ctx, logger.Component(log, "apply"), opts.ApplyConfig, opts.ApplyClient, opts.ApplyStore)
	if err != nil {
		return nil, fmt.Errorf("failed to start applier: %w", err)
	}

	storage, err := events.OpenFileStorage(opts.EventsDir, logger.Component(log, "events"))
	if err != nil {
		_ = applier.Close(ctx)
		return nil, fmt.Errorf("failed to open event storage: %w", err)
	}
	engine, err := events.NewEngine(logger.Component(log, "events"), opts.EventsConfig, storage, opts.Uploader, opts.FlushPolicies...)
	if err != nil {
		_ = storage.Close()
		_ = applier.Close(ctx)
		return nil, fmt.Errorf("failed to start event engine: %w", err)
	}

	initial := opts.InitialContext.Clone()
	if opts.VisitorIDFile != "" {
		id, err := VisitorID(opts.VisitorIDFile)
		if err != nil {
			_ = engine.Stop()
			_ = applier.Close(ctx)
			return nil, err
		}
		if _, set := initial[VisitorIDKey]; !set {
			initial = initial.With(VisitorIDKey, value.String(id))
		}
	}

	cache := flags.NewCache(ctx, logger.Component(log, "flags"), opts.Resolver, applier, opts.SnapshotStore)

	c := newClient(log, slices.Clone(opts.FlagNames), opts.Resolver, cache, applier, engine, nil, initial)
	c.reconcile()
	return c, nil
}

func newClient(
	log *slog.Logger,
	flagNames []string,
	resolver flags.Resolver,
	cache *flags.Cache,
	applier *apply.Applier,
	engine *events.Engine,
	parent *Client,
	initial value.Struct,
) *Client {
	c := &Client{
		logger:    log,
		flagNames: flagNames,
		resolver:  resolver,
		cache:     cache,
		applier:   applier,
		engine:    engine,
		parent:    parent,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		settled:   make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.layer.Store(newLayer(initial))

	c.wg.Add(1)
	go c.run()
	return c
}

// WithContext returns a child client whose context is this client's context
// plus overrides. The child keeps its own resolution and follows later
// changes of its ancestors. It shares the applier and the event engine.
func (c *Client) WithContext(overrides value.Struct) (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, ErrStopped
	}

	cache := flags.NewCache(context.Background(), c.logger, c.resolver, c.applier, nil)
	child := newClient(c.logger, c.flagNames, c.resolver, cache, c.applier, c.engine, c, overrides)
	c.children = append(c.children, child)
	child.reconcile()
	return child, nil
}

// Context returns the merged evaluation context.
func (c *Client) Context() value.Struct {
	base := value.Struct{}
	if c.parent != nil {
		base = c.parent.Context()
	}
	return c.layer.Load().over(base)
}

// PutContext sets key on this client's layer.
func (c *Client) PutContext(key string, v value.Value) {
	c.update(func(l *layer) *layer { return l.put(key, v) })
}

// PutContextMap sets every entry of values on this client's layer.
func (c *Client) PutContextMap(values value.Struct) {
	c.update(func(l *layer) *layer {
		for k, v := range values {
			l = l.put(k, v)
		}
		return l
	})
}

// RemoveContext hides key, including a value inherited from a parent.
func (c *Client) RemoveContext(key string) {
	c.update(func(l *layer) *layer { return l.remove(key) })
}

func (c *Client) update(fn func(*layer) *layer) {
	for {
		old := c.layer.Load()
		next := fn(old)
		if next.equal(old) {
			return
		}
		if c.layer.CompareAndSwap(old, next) {
			break
		}
	}
	c.contextChanged()
}

func (c *Client) contextChanged() {
	c.reconcile()

	c.mu.Lock()
	children := slices.Clone(c.children)
	c.mu.Unlock()
	for _, child := range children {
		child.contextChanged()
	}
}

// reconcile schedules a resolve for the current context.
func (c *Client) reconcile() {
	c.recMu.Lock()
	c.scheduled++
	c.recMu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.kick:
		}

		c.recMu.Lock()
		target := c.scheduled
		c.recMu.Unlock()

		_, err := c.cache.Resolve(c.ctx, c.flagNames, c.Context())
		if err != nil && c.ctx.Err() == nil {
			c.logger.Warn("failed to resolve flags", slog.String("error", err.Error()))
		}

		c.recMu.Lock()
		c.completed = target
		c.lastErr = err
		close(c.settled)
		c.settled = make(chan struct{})
		c.recMu.Unlock()
	}
}

// AwaitReconciliation waits until every resolve scheduled before the call
// has completed and returns the error of the latest one.
func (c *Client) AwaitReconciliation(ctx context.Context) error {
	c.recMu.Lock()
	target := c.scheduled
	for c.completed < target {
		settled := c.settled
		c.recMu.Unlock()

		select {
		case <-settled:
		case <-c.done:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
		c.recMu.Lock()
	}
	err := c.lastErr
	c.recMu.Unlock()
	return err
}

// Refresh resolves the current context again, passing the last token so an
// unchanged backend answers NotModified.
func (c *Client) Refresh(ctx context.Context) error {
	if c.isStopped() {
		return ErrStopped
	}
	c.reconcile()
	return c.AwaitReconciliation(ctx)
}

// Ready reports whether flags are resolved for the current context.
func (c *Client) Ready() bool {
	return c.cache.Ready(c.Context())
}

// HealthChecker reports this client's flag cache.
func (c *Client) HealthChecker() *flags.HealthChecker {
	return flags.NewHealthChecker(c.cache)
}

func (c *Client) EvaluateString(path, def string) (flags.Evaluation[string], error) {
	return flags.EvaluateString(c.cache, path, def, c.Context())
}

func (c *Client) EvaluateBool(path string, def bool) (flags.Evaluation[bool], error) {
	return flags.EvaluateBool(c.cache, path, def, c.Context())
}

func (c *Client) EvaluateInt(path string, def int64) (flags.Evaluation[int64], error) {
	return flags.EvaluateInt(c.cache, path, def, c.Context())
}

func (c *Client) EvaluateDouble(path string, def float64) (flags.Evaluation[float64], error) {
	return flags.EvaluateDouble(c.cache, path, def, c.Context())
}

func (c *Client) EvaluateStruct(path string, def value.Struct) (flags.Evaluation[value.Struct], error) {
	return flags.EvaluateStruct(c.cache, path, def, c.Context())
}

// EvaluateValue returns the raw value, Null leaves included.
func (c *Client) EvaluateValue(path string, def value.Value) (flags.Evaluation[value.Value], error) {
	return flags.EvaluateValue(c.cache, path, def, c.Context())
}

// Track records an event with a snapshot of the current context.
func (c *Client) Track(name string, message value.Struct) error {
	if c.isStopped() {
		return ErrStopped
	}
	return c.engine.Emit(name, message, c.Context())
}

// Flush seals the current segment and waits for the pending uploads.
func (c *Client) Flush(ctx context.Context) error {
	if err := c.engine.Flush(); err != nil {
		return err
	}
	return c.engine.Sync(ctx)
}

// Tick lets time-based flush policies seal the current segment.
func (c *Client) Tick() {
	c.engine.Tick()
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Stop stops children, producers and the resolve worker. The root client
// also stops the event engine and closes the applier, waiting until ctx is
// done for an in-flight upload and in-flight apply calls.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	children := c.children
	producers := c.producers
	c.children, c.producers = nil, nil
	c.mu.Unlock()

	var errs []error
	for _, child := range children {
		errs = append(errs, child.Stop(ctx))
	}
	for _, p := range producers {
		p.Stop()
	}

	close(c.done)
	c.cancel()
	c.wg.Wait()

	if c.parent != nil {
		c.parent.detach(c)
		return errors.Join(errs...)
	}

	errs = append(errs, c.engine.Stop())
	select {
	case <-c.engine.Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("event upload still running: %w", ctx.Err()))
	}
	errs = append(errs, c.applier.Close(ctx))
	return errors.Join(errs...)
}

func (c *Client) detach(child *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = slices.DeleteFunc(c.children, func(x *Client) bool { return x == child })
}
