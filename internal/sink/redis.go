package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/heimdall-sdk/internal/events"
)

// DefaultStream is the stream used when none is configured.
const DefaultStream = "heimdall:events"

// RedisStreamUploader appends each event of a batch to a Redis stream.
// Delivery is at-least-once: a retried batch is appended again.
type RedisStreamUploader struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamUploader creates an uploader. A positive maxLen caps the
// stream length approximately.
func NewRedisStreamUploader(client *redis.Client, stream string, maxLen int64) *RedisStreamUploader {
	if client == nil {
		panic("sink: redis client cannot be nil")
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamUploader{client: client, stream: stream, maxLen: maxLen}
}

// Upload adds the whole batch in a single MULTI/EXEC.
func (u *RedisStreamUploader) Upload(ctx context.Context, batch []events.Event) error {
	_, err := u.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range batch {
			payload, err := json.Marshal(e.Payload.Plain())
			if err != nil {
				return fmt.Errorf("failed to encode payload: %w", err)
			}
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: u.stream,
				MaxLen: u.maxLen,
				Approx: u.maxLen > 0,
				Values: map[string]any{
					"definition": e.Definition,
					"time":       e.Time.UTC().Format(time.RFC3339Nano),
					"payload":    string(payload),
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append batch to stream %q: %w", u.stream, err)
	}
	return nil
}
