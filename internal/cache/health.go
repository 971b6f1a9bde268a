package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkTimeout bounds a check when the caller's context has no deadline.
const checkTimeout = 2 * time.Second

// HealthChecker implements the observability.Checker interface for the Redis
// backend shared by the apply store and the event stream sink.
type HealthChecker struct {
	client *redis.Client
}

// NewHealthChecker creates a health checker for the given Redis client.
func NewHealthChecker(client *redis.Client) *HealthChecker {
	return &HealthChecker{client: client}
}

// Name returns the component name reported by the readiness probe.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check pings Redis. A server that answers anything other than PONG is
// reported as unhealthy.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return errors.New("redis client is nil")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, checkTimeout)
		defer cancel()
	}

	reply, err := h.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if reply != "PONG" {
		return fmt.Errorf("redis ping: unexpected reply %q", reply)
	}
	return nil
}
