package apply

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rafaeljc/heimdall-sdk/internal/cache"
	"github.com/rafaeljc/heimdall-sdk/internal/observability"
)

// Config holds the tuning knobs of the Applier.
type Config struct {
	// SendTimeout bounds a single apply network call.
	SendTimeout time.Duration
	// StoreTimeout bounds a single Load or Save against the store.
	StoreTimeout time.Duration
	// SentCacheSize caps how many acknowledged (token, flag) pairs are remembered.
	SentCacheSize int
	// SentCacheTTL is how long an acknowledged pair is remembered.
	SentCacheTTL time.Duration
}

// Applier owns the apply-tracking state. The in-memory snapshot is guarded by
// a single mutex and is the only thing Apply touches. A background worker
// persists the snapshot and starts one send per token, so callers never wait
// on the store or the network.
//
// Failed sends are not retried on a timer. They return to CREATED and go out
// again on the next Apply call or the next process start.
type Applier struct {
	logger *slog.Logger
	config Config
	client Client
	store  Store
	sent   *cache.Memory[string, time.Time]
	now    func() time.Time

	mu          sync.Mutex
	idle        *sync.Cond
	entries     Snapshot
	closed      bool
	dirty       bool
	sendPending bool
	sending     int

	kick     chan struct{}
	syncReq  chan chan struct{}
	done     chan struct{}
	finished chan struct{}
}

// New loads the persisted snapshot and schedules a send of every entry that
// was not acknowledged before the previous shutdown.
func New(ctx context.Context, logger *slog.Logger, cfg Config, client Client, store Store) (*Applier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		panic("apply: client cannot be nil")
	}
	if store == nil {
		panic("apply: store cannot be nil")
	}

	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.SentCacheSize <= 0 {
		cfg.SentCacheSize = 10_000
	}
	if cfg.SentCacheTTL <= 0 {
		cfg.SentCacheTTL = 24 * time.Hour
	}

	sent, err := cache.NewMemory[string, time.Time]("apply_sent", cfg.SentCacheSize, cfg.SentCacheTTL)
	if err != nil {
		return nil, err
	}

	loadCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	loaded, err := store.Load(loadCtx)
	cancel()
	if err != nil {
		// Unreadable state is treated as empty; the worst outcome is a duplicate apply.
		logger.Warn("failed to load apply store, starting empty", slog.String("error", err.Error()))
		loaded = Snapshot{}
	}

	a := &Applier{
		logger:      logger,
		config:      cfg,
		client:      client,
		store:       store,
		sent:        sent,
		now:         time.Now,
		entries:     rearm(loaded),
		dirty:       true,
		sendPending: true,
		kick:        make(chan struct{}, 1),
		syncReq:     make(chan chan struct{}),
		done:        make(chan struct{}),
		finished:    make(chan struct{}),
	}
	a.idle = sync.NewCond(&a.mu)

	go a.run()
	a.trigger()
	return a, nil
}

// rearm drops acknowledged entries and re-arms entries that were mid-send
// when the process stopped. Nothing else can be sending right after a start.
func rearm(loaded Snapshot) Snapshot {
	out := Snapshot{}
	for token, flags := range loaded {
		for name, e := range flags {
			switch e.Status {
			case StatusSent:
				continue
			case StatusSending:
				e.Status = StatusCreated
			}
			if out[token] == nil {
				out[token] = map[string]Entry{}
			}
			out[token][name] = e
		}
	}
	return out
}

// Apply records that flagName, resolved under resolveToken, was exposed.
// The first call for a pair creates a CREATED entry; later calls for the same
// pair are no-ops while it is pending and after it was acknowledged. Every
// call also schedules a send of all CREATED entries, which is how earlier
// failures retry. Apply only touches memory.
func (a *Applier) Apply(flagName, resolveToken string) {
	now := a.now().UTC()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if !a.sent.Has(sentKey(resolveToken, flagName)) {
		flags := a.entries[resolveToken]
		if flags == nil {
			flags = map[string]Entry{}
			a.entries[resolveToken] = flags
		}
		if _, exists := flags[flagName]; !exists {
			flags[flagName] = Entry{Time: now, Status: StatusCreated}
			a.dirty = true
		}
	}
	a.sendPending = true
	a.mu.Unlock()

	a.trigger()
}

func (a *Applier) trigger() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *Applier) run() {
	defer close(a.finished)
	for {
		select {
		case <-a.done:
			return
		case <-a.kick:
			a.process()
		case ack := <-a.syncReq:
			a.process()
			close(ack)
		}
	}
}

// process moves every CREATED entry to SENDING when a send was requested,
// persists the snapshot if it changed, and then starts one send per token.
func (a *Applier) process() {
	a.mu.Lock()
	batches := map[string][]AppliedFlag{}
	if a.sendPending {
		a.sendPending = false
		for token, flags := range a.entries {
			for name, e := range flags {
				if e.Status != StatusCreated {
					continue
				}
				e.Status = StatusSending
				flags[name] = e
				batches[token] = append(batches[token], AppliedFlag{Flag: name, ApplyTime: e.Time})
			}
		}
	}
	var snapshot Snapshot
	if a.dirty || len(batches) > 0 {
		a.dirty = false
		snapshot = a.entries.Clone()
	}
	a.sending += len(batches)
	a.mu.Unlock()

	if snapshot != nil {
		a.persist(snapshot)
	}

	for token, batch := range batches {
		slices.SortFunc(batch, func(x, y AppliedFlag) int { return strings.Compare(x.Flag, y.Flag) })
		go a.send(token, batch)
	}
}

// send performs one apply call and folds its outcome back into the snapshot.
func (a *Applier) send(token string, batch []AppliedFlag) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.SendTimeout)
	err := a.client.Apply(ctx, batch, token)
	cancel()

	if err != nil {
		observability.ApplyCallsTotal.WithLabelValues("failure").Inc()
		a.logger.Warn("apply call failed, will retry on next trigger",
			slog.Int("flags", len(batch)),
			slog.String("error", err.Error()),
		)
	} else {
		observability.ApplyCallsTotal.WithLabelValues("success").Inc()
		a.logger.Debug("apply call succeeded", slog.Int("flags", len(batch)))
	}

	now := a.now().UTC()

	a.mu.Lock()
	flags := a.entries[token]
	for _, f := range batch {
		e, ok := flags[f.Flag]
		if !ok || e.Status != StatusSending {
			continue
		}
		if err != nil {
			e.Status = StatusCreated
			flags[f.Flag] = e
			continue
		}
		delete(flags, f.Flag)
		if !a.closed {
			a.sent.Set(sentKey(token, f.Flag), now)
		}
	}
	if len(flags) == 0 {
		delete(a.entries, token)
	}
	a.dirty = true
	a.sending--
	a.idle.Broadcast()
	a.mu.Unlock()

	a.trigger()
}

// persist writes the snapshot. A failed write is logged; the in-memory
// state stays authoritative until the next successful write.
func (a *Applier) persist(snapshot Snapshot) {
	observability.ApplyPendingEntries.Set(float64(snapshot.Count()))

	ctx, cancel := context.WithTimeout(context.Background(), a.config.StoreTimeout)
	defer cancel()

	if err := a.store.Save(ctx, snapshot); err != nil {
		a.logger.Warn("failed to persist apply store", slog.String("error", err.Error()))
	}
}

// Pending returns a copy of the current snapshot.
func (a *Applier) Pending() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries.Clone()
}

// Wait blocks until every scheduled send has completed and its outcome has
// been persisted.
func (a *Applier) Wait() {
	for {
		alive := a.drain()

		a.mu.Lock()
		for a.sending > 0 {
			a.idle.Wait()
		}
		clean := !a.dirty && !a.sendPending
		a.mu.Unlock()

		if clean || !alive {
			return
		}
	}
}

// drain runs one worker pass and reports false once the worker is gone.
func (a *Applier) drain() bool {
	ack := make(chan struct{})
	select {
	case a.syncReq <- ack:
	case <-a.finished:
		return false
	}
	select {
	case <-ack:
		return true
	case <-a.finished:
		return false
	}
}

// Close stops accepting new applies and waits until ctx is done for
// in-flight calls and the final write of the store.
func (a *Applier) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		a.Wait()
		close(a.done)
		<-a.finished
		a.sent.Close()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sentKey(token, flag string) string {
	return token + "\x00" + flag
}
