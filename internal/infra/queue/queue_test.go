package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, msg)
	return args.Error(0)
}

func TestPublishRoutesByTopic(t *testing.T) {
	ch := new(MockChannel)
	producer := NewProducer(ch)
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	domain := entity.NewDomainEvent(entity.EventLeadCompleted, "lead-1", at, map[string]string{"lead_id": "lead-1"})
	audit := entity.NewAuditEvent(entity.AuditRecord{Actor: "admin", Action: "lead.marketplace_configured", Target: "lead-1", At: at})

	ch.On("PublishWithContext", mock.Anything, MarketplaceExchange, entity.EventLeadCompleted, mock.MatchedBy(func(msg amqp.Publishing) bool {
		return msg.MessageId == domain.ID && msg.DeliveryMode == amqp.Persistent && msg.Timestamp.Equal(at)
	})).Return(nil).Once()
	ch.On("PublishWithContext", mock.Anything, AuditExchange, "audit.lead.marketplace_configured", mock.Anything).Return(nil).Once()

	require.NoError(t, producer.Publish(context.Background(), domain))
	require.NoError(t, producer.Publish(context.Background(), audit))
	ch.AssertExpectations(t)
}

func TestPublishWrapsBrokerError(t *testing.T) {
	ch := new(MockChannel)
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(amqp.ErrClosed)

	err := NewProducer(ch).Publish(context.Background(), entity.NewDomainEvent(entity.EventLeadPublished, "lead-1", time.Now(), nil))
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

type fakeAcknowledger struct {
	acked, nacked bool
	requeue       bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acked = true; return nil }
func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked, f.requeue = true, requeue
	return nil
}
func (f *fakeAcknowledger) Reject(uint64, bool) error { f.nacked = true; return nil }

func delivery(t *testing.T, event entity.Event) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, Body: body, MessageId: event.ID}, ack
}

func TestWorkerAcksHandledEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	w := NewWorker(nil, AuditTrail(logger), logger)

	event := entity.NewAuditEvent(entity.AuditRecord{Actor: "admin", Action: "entitlement.revoked", Target: "ent-1", At: time.Now()})
	d, ack := delivery(t, event)
	w.handle(context.Background(), d)

	assert.True(t, ack.acked)
	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "admin", entries[0].ContextMap()["actor"])
}

func TestWorkerDeadLettersFailures(t *testing.T) {
	w := NewWorker(nil, func(context.Context, entity.Event) error { return errors.New("boom") }, zap.NewNop())

	d, ack := delivery(t, entity.NewDomainEvent(entity.EventLeadPublished, "lead-1", time.Now(), nil))
	w.handle(context.Background(), d)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue)

	bad := &fakeAcknowledger{}
	w.handle(context.Background(), amqp.Delivery{Acknowledger: bad, Body: []byte("{")})
	assert.True(t, bad.nacked)
}
