package entity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventTopic string

const (
	TopicDomain EventTopic = "domain"
	TopicAudit  EventTopic = "audit"
)

const (
	EventLeadPublished       = "lead.published"
	EventLeadUnpublished     = "lead.unpublished"
	EventSlotPurchased       = "lead.slot_purchased"
	EventLeadCompleted       = "lead.completed"
	EventEntitlementGranted  = "entitlement.granted"
	EventEntitlementRevoked  = "entitlement.revoked"
	EventEntitlementExtended = "entitlement.extended"
	EventEntitlementExpired  = "entitlement.expired"
)

// Event is written to the outbox in the same atomic write as the state
// change it describes, then relayed to the broker.
type Event struct {
	ID          string          `json:"id"`
	Topic       EventTopic      `json:"topic"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

func NewDomainEvent(eventType, aggregateID string, at time.Time, payload any) Event {
	return Event{
		ID:          uuid.New().String(),
		Topic:       TopicDomain,
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  at,
		Payload:     rawJSON(payload),
	}
}

// AuditRecord is the payload of every audit event.
type AuditRecord struct {
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Before any       `json:"before,omitempty"`
	After  any       `json:"after,omitempty"`
	At     time.Time `json:"at"`
}

func NewAuditEvent(rec AuditRecord) Event {
	return Event{
		ID:          uuid.New().String(),
		Topic:       TopicAudit,
		Type:        "audit." + rec.Action,
		AggregateID: rec.Target,
		OccurredAt:  rec.At,
		Payload:     rawJSON(rec),
	}
}

func rawJSON(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

type OutboxRecord struct {
	Event
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	DeadLetteredAt *time.Time `json:"dead_lettered_at,omitempty"`
}

type OutboxRepository interface {
	// FetchUnpublished returns pending records oldest first, skipping
	// published and dead-lettered ones.
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, id string, errMsg string, at time.Time) error
}
