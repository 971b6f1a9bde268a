package apply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is where RedisStore keeps the snapshot unless told otherwise.
const DefaultRedisKey = "heimdall:apply"

// RedisStore keeps the snapshot as one JSON string in Redis, so several agent
// replicas sharing a client secret also share apply deduplication.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore creates a store writing to key.
func NewRedisStore(client *redis.Client, key string, logger *slog.Logger) *RedisStore {
	if client == nil {
		panic("apply: redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

// Load fetches the snapshot. A missing key is an empty snapshot.
func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read apply store from redis: %w", err)
	}

	return decodeSnapshot(data, s.logger, "redis:"+s.key), nil
}

// Save overwrites the key. SET replaces the value atomically.
func (s *RedisStore) Save(ctx context.Context, snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode apply store: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write apply store to redis: %w", err)
	}
	return nil
}
