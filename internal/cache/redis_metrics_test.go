//go:build integration

package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/heimdall-sdk/internal/cache"
	"github.com/rafaeljc/heimdall-sdk/internal/testsupport"
)

func TestRedis_PoolMonitor_Integration(t *testing.T) {
	// Arrange
	ctx := context.Background()
	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	client := redisCtr.Client

	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go cache.RunPoolMonitor(monitorCtx, client, 10*time.Millisecond)

	t.Run("Should report pool connections", func(t *testing.T) {
		for i := range 3 {
			require.NoError(t, client.Set(ctx, fmt.Sprintf("pool-%d", i), "v", time.Minute).Err())
		}

		require.Eventually(t, func() bool {
			total := testsupport.GetMetricValue(t, "heimdall_redis_pool_connections", map[string]string{"state": "total"})
			stale := testsupport.GetMetricValue(t, "heimdall_redis_pool_connections", map[string]string{"state": "stale"})
			return total > 0 && stale <= total
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should report pool hits when reusing connections", func(t *testing.T) {
		for range 10 {
			client.Get(ctx, "pool-0")
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "heimdall_redis_pool_stats", map[string]string{"stat": "hits"}) > 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should pass the health check", func(t *testing.T) {
		checker := cache.NewHealthChecker(client)

		assert.Equal(t, "redis", checker.Name())
		assert.NoError(t, checker.Check(ctx))
	})
}
