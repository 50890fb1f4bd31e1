package entity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type EntitlementKind string

const (
	KindMonthly   EntitlementKind = "monthly"
	KindYearly    EntitlementKind = "yearly"
	KindLifetime  EntitlementKind = "lifetime"
	KindTemporary EntitlementKind = "temporary"
)

func (k EntitlementKind) Valid() bool {
	switch k {
	case KindMonthly, KindYearly, KindLifetime, KindTemporary:
		return true
	}
	return false
}

type EntitlementStatus string

const (
	EntitlementActive    EntitlementStatus = "active"
	EntitlementExpired   EntitlementStatus = "expired"
	EntitlementCancelled EntitlementStatus = "cancelled"
)

type Feature string

const (
	FeaturePriorityListing Feature = "priority-listing"
	FeatureBadge           Feature = "badge"
)

var DefaultFeatures = []Feature{FeaturePriorityListing, FeatureBadge}

// Entitlement is a premium grant. At most one active grant exists per
// provider; EndAt is nil only for lifetime grants.
type Entitlement struct {
	ID         string            `json:"id"`
	ProviderID string            `json:"provider_id"`
	Kind       EntitlementKind   `json:"kind"`
	StartAt    time.Time         `json:"start_at"`
	EndAt      *time.Time        `json:"end_at,omitempty"`
	Status     EntitlementStatus `json:"status"`
	Features   []Feature         `json:"features"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewEntitlement builds an active grant starting at startAt. duration is
// ignored for lifetime grants and must be positive otherwise.
func NewEntitlement(providerID string, kind EntitlementKind, startAt time.Time, duration time.Duration, features []Feature) (*Entitlement, error) {
	if providerID == "" {
		return nil, errors.New("provider_id is required")
	}
	if !kind.Valid() {
		return nil, errors.New("unknown entitlement kind")
	}
	if len(features) == 0 {
		features = DefaultFeatures
	}

	e := &Entitlement{
		ID:         uuid.New().String(),
		ProviderID: providerID,
		Kind:       kind,
		StartAt:    startAt,
		Status:     EntitlementActive,
		Features:   append([]Feature(nil), features...),
		CreatedAt:  startAt,
		UpdatedAt:  startAt,
	}
	if kind != KindLifetime {
		end := startAt.Add(duration)
		e.EndAt = &end
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entitlement) Validate() error {
	if e.Kind == KindLifetime {
		if e.EndAt != nil {
			return errors.New("lifetime entitlement cannot have end_at")
		}
		return nil
	}
	if e.EndAt == nil {
		return errors.New("end_at is required")
	}
	if !e.EndAt.After(e.StartAt) {
		return errors.New("end_at must be after start_at")
	}
	return nil
}

// Lapsed reports whether an active grant reached its end.
func (e *Entitlement) Lapsed(now time.Time) bool {
	return e.Status == EntitlementActive && e.EndAt != nil && !e.EndAt.After(now)
}

func (e *Entitlement) Clone() *Entitlement {
	c := *e
	c.EndAt = cloneTime(e.EndAt)
	c.Features = append([]Feature(nil), e.Features...)
	return &c
}

// EventsFor builds the events to persist with a transition, given the row as
// it looks after the transition.
type EventsFor func(e *Entitlement) []Event

type EntitlementRepository interface {
	FindByID(ctx context.Context, id string) (*Entitlement, error)
	FindActiveByProvider(ctx context.Context, providerID string) (*Entitlement, error)
	// Create inserts an active grant and points the provider projection at it
	// in one write. Returns ErrActiveEntitlementExists if the provider already
	// holds one and ErrNotFound if the provider is unknown.
	Create(ctx context.Context, e *Entitlement, events []Event) error
	// Transition moves an active grant to status and clears the provider
	// projection in one write. It reports false without error when the grant
	// was no longer active, so repeated calls are no-ops.
	Transition(ctx context.Context, id string, status EntitlementStatus, at time.Time, events EventsFor) (bool, error)
	// UpdateEndAt moves EndAt of an active grant, provided it still equals
	// prevEnd. Returns ErrVersionConflict otherwise.
	UpdateEndAt(ctx context.Context, id string, prevEnd, newEnd time.Time, events []Event) error
	// ListLapsed returns up to limit active grants with EndAt <= now, oldest first.
	ListLapsed(ctx context.Context, now time.Time, limit int) ([]*Entitlement, error)
}
