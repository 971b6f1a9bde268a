package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name    string
		client  *redis.Client
		wantErr string
	}{
		{
			name:    "Should fail without a client",
			client:  nil,
			wantErr: "redis client is nil",
		},
		{
			name: "Should fail when the server is unreachable",
			client: redis.NewClient(&redis.Options{
				Addr:        "127.0.0.1:1",
				DialTimeout: 50 * time.Millisecond,
				MaxRetries:  -1,
			}),
			wantErr: "redis ping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			checker := NewHealthChecker(tt.client)
			if tt.client != nil {
				t.Cleanup(func() { _ = tt.client.Close() })
			}

			// Act
			err := checker.Check(context.Background())

			// Assert
			assert.Equal(t, "redis", checker.Name())
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
