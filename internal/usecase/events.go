package usecase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

type leadEventPayload struct {
	LeadID       string          `json:"lead_id"`
	ProviderID   string          `json:"provider_id,omitempty"`
	PricePerSlot decimal.Decimal `json:"price_per_slot"`
	MaxSlots     int             `json:"max_slots"`
	SlotsSold    int             `json:"slots_sold"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func leadPayload(l *entity.Lead, providerID string) leadEventPayload {
	return leadEventPayload{
		LeadID:       l.ID,
		ProviderID:   providerID,
		PricePerSlot: l.Marketplace.PricePerSlot,
		MaxSlots:     l.Marketplace.MaxSlots,
		SlotsSold:    l.Marketplace.SlotsSold,
		PublishedAt:  l.Marketplace.PublishedAt,
		CompletedAt:  l.Marketplace.CompletedAt,
	}
}

type entitlementEventPayload struct {
	EntitlementID string                   `json:"entitlement_id"`
	ProviderID    string                   `json:"provider_id"`
	Kind          entity.EntitlementKind   `json:"kind"`
	Status        entity.EntitlementStatus `json:"status"`
	StartAt       time.Time                `json:"start_at"`
	EndAt         *time.Time               `json:"end_at,omitempty"`
	PriorEndAt    *time.Time               `json:"prior_end_at,omitempty"`
}

func entitlementPayload(e *entity.Entitlement) entitlementEventPayload {
	return entitlementEventPayload{
		EntitlementID: e.ID,
		ProviderID:    e.ProviderID,
		Kind:          e.Kind,
		Status:        e.Status,
		StartAt:       e.StartAt,
		EndAt:         e.EndAt,
	}
}

// entitlementTransitionEvents emits the domain event and audit record for an
// entitlement that just left the active state.
func entitlementTransitionEvents(eventType, action, actor string, at time.Time) entity.EventsFor {
	return func(e *entity.Entitlement) []entity.Event {
		before := e.Clone()
		before.Status = entity.EntitlementActive
		return []entity.Event{
			entity.NewDomainEvent(eventType, e.ID, at, entitlementPayload(e)),
			entity.NewAuditEvent(entity.AuditRecord{
				Actor:  actor,
				Action: action,
				Target: e.ID,
				Before: entitlementPayload(before),
				After:  entitlementPayload(e),
				At:     at,
			}),
		}
	}
}
