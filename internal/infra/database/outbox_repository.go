package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

type OutboxRepository struct {
	Pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{Pool: pool}
}

// insertEvents appends events to the outbox inside the caller's transaction.
func insertEvents(ctx context.Context, tx pgx.Tx, events []entity.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO outbox (id, topic, event_type, aggregate_id, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, string(e.Topic), e.Type, e.AggregateID, []byte(e.Payload), e.OccurredAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write outbox: %w", classify(err))
	}
	return nil
}

func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]entity.OutboxRecord, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, topic, event_type, aggregate_id, payload, occurred_at, attempts, COALESCE(last_error, '')
		FROM outbox
		WHERE published_at IS NULL AND dead_lettered_at IS NULL
		ORDER BY seq
		LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []entity.OutboxRecord
	for rows.Next() {
		var (
			rec     entity.OutboxRecord
			topic   string
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &topic, &rec.Type, &rec.AggregateID, &payload, &rec.OccurredAt, &rec.Attempts, &rec.LastError); err != nil {
			return nil, err
		}
		rec.Topic = entity.EventTopic(topic)
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, classify(rows.Err())
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, id, at)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	return r.update(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = $3, last_error_at = $2 WHERE id = $1`, id, at, errMsg)
}

func (r *OutboxRepository) MarkDeadLettered(ctx context.Context, id string, errMsg string, at time.Time) error {
	return r.update(ctx, `UPDATE outbox SET dead_lettered_at = $2, last_error = $3, last_error_at = $2 WHERE id = $1`, id, at, errMsg)
}

func (r *OutboxRepository) update(ctx context.Context, query string, args ...any) error {
	tag, err := r.Pool.Exec(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrNotFound
	}
	return nil
}
