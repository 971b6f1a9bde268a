package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rafaeljc/heimdall-sdk/internal/observability"
	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// Details is the untyped result of a value lookup.
type Details struct {
	Value        value.Value
	Variant      string
	Reason       Reason
	ErrorCode    ErrorCode
	ErrorMessage string
}

// Cache holds the most recent resolution. Reads never touch the network;
// Resolve replaces the snapshot wholesale unless the backend answers NotModified.
type Cache struct {
	logger    *slog.Logger
	resolver  Resolver
	applier   Applier
	snapshots SnapshotStore

	// group coalesces concurrent resolves for the same flags and context.
	group singleflight.Group

	mu      sync.RWMutex
	current *Resolution
}

// NewCache creates a cache. applier and snapshots may be nil. When snapshots
// is set, the last persisted resolution is loaded so a restarted process can
// serve flags for the same context before the first resolve completes.
func NewCache(ctx context.Context, logger *slog.Logger, resolver Resolver, applier Applier, snapshots SnapshotStore) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		panic("flags: resolver cannot be nil")
	}

	c := &Cache{
		logger:    logger,
		resolver:  resolver,
		applier:   applier,
		snapshots: snapshots,
	}

	if snapshots != nil {
		stored, err := snapshots.Load(ctx)
		if err != nil {
			logger.Warn("failed to load stored resolution", slog.String("error", err.Error()))
		} else if stored != nil {
			c.current = stored
			logger.Info("loaded stored resolution", slog.Int("flags", len(stored.flags)))
		}
	}

	return c
}

// Current returns the cached resolution, or nil.
func (c *Cache) Current() *Resolution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Ready reports whether a resolution exists for exactly evalCtx.
func (c *Cache) Ready(evalCtx value.Struct) bool {
	cur := c.Current()
	return cur != nil && cur.MatchesContext(evalCtx)
}

// Resolve fetches flagNames (all flags when empty) for evalCtx. Errors wrap
// ErrNotReady and leave the cached resolution untouched; lookups for a
// different context keep failing because of the context check in Lookup.
func (c *Cache) Resolve(ctx context.Context, flagNames []string, evalCtx value.Struct) (*Resolution, error) {
	key, ok := fingerprint(flagNames, evalCtx)
	if !ok {
		return c.resolve(ctx, flagNames, evalCtx)
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		return c.resolve(ctx, flagNames, evalCtx)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Resolution), nil
}

func (c *Cache) resolve(ctx context.Context, flagNames []string, evalCtx value.Struct) (*Resolution, error) {
	prev := c.Current()

	req := ResolveRequest{
		Flags:   slices.Clone(flagNames),
		Context: evalCtx.Clone(),
	}
	// A token is only meaningful for the context it was issued for.
	if prev != nil && prev.MatchesContext(evalCtx) {
		req.LastResolveToken = prev.Token()
	}

	start := time.Now()
	result, err := c.resolver.Resolve(ctx, req)
	observability.FlagResolveDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		observability.FlagResolveTotal.WithLabelValues("error").Inc()
		c.logger.Warn("flag resolve failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	if result.NotModified {
		if req.LastResolveToken == "" {
			observability.FlagResolveTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: not modified without a cached resolution", ErrNotReady)
		}
		observability.FlagResolveTotal.WithLabelValues("not_modified").Inc()
		c.logger.Debug("flags not modified", slog.String("resolve_token", prev.Token()))
		return prev, nil
	}

	next := NewResolution(result.Flags, result.Token, evalCtx)

	c.mu.Lock()
	c.current = next
	c.mu.Unlock()

	observability.FlagResolveTotal.WithLabelValues("resolved").Inc()
	c.logger.Debug("flags resolved", slog.Int("flags", len(next.flags)))

	if c.snapshots != nil {
		if err := c.snapshots.Save(ctx, next); err != nil {
			c.logger.Warn("failed to store resolution", slog.String("error", err.Error()))
		}
	}

	return next, nil
}

// Lookup resolves a dotted path "flag.field.subfield" for evalCtx.
//
// An unknown flag is a *FlagNotFoundError and a path that leaves the flag's
// value is a *ParseError. Not-ready, stale-context and backend-side errors are
// soft and reported through Details. Successful reads schedule an apply.
func (c *Cache) Lookup(path string, evalCtx value.Struct) (Details, error) {
	flagName, rest, _ := strings.Cut(path, ".")
	var segments []string
	if rest != "" {
		segments = strings.Split(rest, ".")
	}

	cur := c.Current()
	if cur == nil {
		return c.record(Details{
			Reason:       ReasonError,
			ErrorCode:    ErrorCodeProviderNotReady,
			ErrorMessage: "Flags have not been resolved yet",
		}), nil
	}

	flag, ok := cur.Flag(flagName)
	if !ok {
		observability.FlagEvaluationsTotal.WithLabelValues("FLAG_NOT_FOUND").Inc()
		return Details{}, &FlagNotFoundError{Flag: flagName}
	}

	if !cur.MatchesContext(evalCtx) {
		return c.record(Details{
			Reason:       ReasonError,
			ErrorCode:    ErrorCodeProviderNotReady,
			ErrorMessage: "Flag " + flagName + " is stale: resolved for a different context",
		}), nil
	}

	switch flag.Reason {
	case ResolveReasonMatch:
		v, ok := flag.Value.Lookup(segments...)
		if !ok {
			observability.FlagEvaluationsTotal.WithLabelValues("PARSE_ERROR").Inc()
			return Details{}, &ParseError{Path: strings.Join(segments, "/")}
		}
		c.apply(flagName, cur.Token())
		return c.record(Details{Value: v, Variant: flag.Variant, Reason: ReasonTargetingMatch}), nil

	case ResolveReasonNoSegmentMatch, ResolveReasonNoTreatmentMatch:
		c.apply(flagName, cur.Token())
		return c.record(Details{Reason: ReasonDefault}), nil

	case ResolveReasonArchived:
		return c.record(Details{Reason: ReasonDefault}), nil

	case ResolveReasonTargetingKeyError:
		return c.record(Details{
			Reason:       ReasonError,
			ErrorCode:    ErrorCodeInvalidContext,
			ErrorMessage: "Invalid targeting key",
		}), nil

	default:
		return c.record(Details{
			Reason:       ReasonError,
			ErrorCode:    ErrorCodeGeneral,
			ErrorMessage: "Flag " + flagName + " resolved with reason " + string(flag.Reason),
		}), nil
	}
}

func (c *Cache) apply(flagName, token string) {
	if c.applier != nil {
		c.applier.Apply(flagName, token)
	}
}

func (c *Cache) record(d Details) Details {
	label := string(d.Reason)
	if d.ErrorCode != ErrorCodeNone {
		label = string(d.ErrorCode)
	}
	observability.FlagEvaluationsTotal.WithLabelValues(label).Inc()
	return d
}

// fingerprint keys the singleflight group. Encoding fails only for
// non-finite doubles, in which case the resolve runs uncoalesced.
func fingerprint(flagNames []string, evalCtx value.Struct) (string, bool) {
	encoded, err := json.Marshal(evalCtx)
	if err != nil {
		return "", false
	}
	names := slices.Clone(flagNames)
	slices.Sort(names)
	return strings.Join(names, ",") + "|" + string(encoded), true
}

// HealthChecker reports the cache as healthy once any resolution is held.
type HealthChecker struct {
	cache *Cache
}

func NewHealthChecker(cache *Cache) *HealthChecker {
	return &HealthChecker{cache: cache}
}

func (h *HealthChecker) Name() string {
	return "flags"
}

func (h *HealthChecker) Check(_ context.Context) error {
	if h.cache == nil || h.cache.Current() == nil {
		return ErrNotReady
	}
	return nil
}
