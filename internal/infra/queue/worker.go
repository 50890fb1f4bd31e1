package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// Handler processes one relayed event. Returning an error dead-letters the
// message.
type Handler func(ctx context.Context, event entity.Event) error

type Worker struct {
	Channel *amqp.Channel
	Handler Handler
	Logger  *zap.Logger
}

func NewWorker(ch *amqp.Channel, handler Handler, logger *zap.Logger) *Worker {
	return &Worker{Channel: ch, Handler: handler, Logger: logger}
}

// Start consumes queueName until ctx is cancelled or the channel closes.
func (w *Worker) Start(ctx context.Context, queueName string) error {
	msgs, err := w.Channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", queueName, err)
	}

	w.Logger.Info("queue worker started", zap.String("queue", queueName))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queueName)
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var event entity.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		w.Logger.Error("malformed event", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := w.Handler(ctx, event); err != nil {
		w.Logger.Error("event handler failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// AuditTrail writes every audit record to the structured log so the trail
// survives in the log pipeline as well as the queue.
func AuditTrail(logger *zap.Logger) Handler {
	return func(_ context.Context, event entity.Event) error {
		var rec entity.AuditRecord
		if err := json.Unmarshal(event.Payload, &rec); err != nil {
			return fmt.Errorf("decode audit record: %w", err)
		}
		logger.Info("audit",
			zap.String("actor", rec.Actor),
			zap.String("action", rec.Action),
			zap.String("target", rec.Target),
			zap.Time("at", rec.At),
			zap.Any("before", rec.Before),
			zap.Any("after", rec.After),
		)
		return nil
	}
}
