package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/entity"
	"github.com/xavierca1/lead-marketplace/internal/infra/http/middleware"
)

type EventPublisher interface {
	Publish(ctx context.Context, event entity.Event) error
}

// OutboxRelay moves committed outbox rows to the broker. Delivery is at
// least once: a crash between publish and MarkPublished republishes the
// event, and consumers dedupe on the event ID.
type OutboxRelay struct {
	outbox      entity.OutboxRepository
	publisher   EventPublisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *zap.Logger
}

func NewOutboxRelay(outbox entity.OutboxRepository, publisher EventPublisher, interval time.Duration, batchSize, maxAttempts int, logger *zap.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxRelay{
		outbox:      outbox,
		publisher:   publisher,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (r *OutboxRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayOnce(ctx); err != nil {
			r.logger.Error("outbox relay iteration failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many events went out.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.outbox.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, rec := range records {
		now := time.Now().UTC()
		topic := string(rec.Topic)

		if err := r.publisher.Publish(ctx, rec.Event); err != nil {
			attempts := rec.Attempts + 1
			if attempts >= r.maxAttempts {
				r.logger.Error("outbox event dead-lettered",
					zap.String("event_id", rec.ID),
					zap.String("event_type", rec.Type),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				middleware.RecordOutboxRelay(topic, "dead_lettered")
				if err := r.outbox.MarkDeadLettered(ctx, rec.ID, err.Error(), now); err != nil {
					return published, err
				}
				continue
			}

			r.logger.Warn("outbox publish failed, will retry",
				zap.String("event_id", rec.ID),
				zap.String("event_type", rec.Type),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			middleware.RecordOutboxRelay(topic, "failed")
			if err := r.outbox.MarkFailed(ctx, rec.ID, err.Error(), now); err != nil {
				return published, err
			}
			continue
		}

		if err := r.outbox.MarkPublished(ctx, rec.ID, now); err != nil {
			return published, err
		}
		middleware.RecordOutboxRelay(topic, "published")
		published++
	}

	if len(records) > 0 {
		r.logger.Debug("outbox batch relayed", zap.Int("batch", len(records)), zap.Int("published", published))
	}
	return published, nil
}
