// Package sink provides event uploaders that deliver sealed segments to
// self-hosted backends instead of the hosted publish endpoint.
package sink

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/heimdall-sdk/internal/events"
)

// batchNamespace scopes the deterministic batch ids.
var batchNamespace = uuid.MustParse("6f1d3c1e-8f3a-4d8e-9b7a-2c4f5e6a7b80")

// PostgresUploader copies event batches into the events table.
type PostgresUploader struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresUploader creates an uploader backed by pool.
func NewPostgresUploader(pool *pgxpool.Pool, logger *slog.Logger) *PostgresUploader {
	if pool == nil {
		panic("sink: postgres pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUploader{pool: pool, logger: logger}
}

// Upload writes the batch in one transaction. A batch whose id was already
// recorded is acknowledged without inserting again, so retrying a segment
// after a lost acknowledgement does not duplicate rows.
func (u *PostgresUploader) Upload(ctx context.Context, batch []events.Event) error {
	id, err := BatchID(batch)
	if err != nil {
		return err
	}
	batchID := pgtype.UUID{Bytes: id, Valid: true}

	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op after Commit.
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO event_batches (batch_id, event_count) VALUES ($1, $2) ON CONFLICT (batch_id) DO NOTHING`,
		batchID, len(batch),
	)
	if err != nil {
		return fmt.Errorf("failed to record batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		u.logger.Info("batch already uploaded, skipping", slog.String("batch_id", id.String()))
		return tx.Commit(ctx)
	}

	rows := make([][]any, len(batch))
	for i, e := range batch {
		rows[i] = []any{batchID, e.Definition, e.Time, e.Payload.Plain()}
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"events"},
		[]string{"batch_id", "event_definition", "event_time", "payload"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy events: %w", err)
	}
	if copied != int64(len(batch)) {
		return fmt.Errorf("copied %d of %d events", copied, len(batch))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// BatchID derives a stable id from the batch content.
func BatchID(batch []events.Event) (uuid.UUID, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	sum := sha1.Sum(data)
	return uuid.NewSHA1(batchNamespace, sum[:]), nil
}
