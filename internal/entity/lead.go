package entity

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type LeadStatus string

const (
	LeadStatusDraft     LeadStatus = "draft"
	LeadStatusCompleted LeadStatus = "completed"
	LeadStatusSent      LeadStatus = "sent"
	LeadStatusExpired   LeadStatus = "expired"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Location struct {
	City        string       `json:"city"`
	PostalCode  string       `json:"postal_code"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Marketplace is the sale configuration of a lead. It is only mutated by the
// publication controller and the allocation engine.
type Marketplace struct {
	IsPublished  bool            `json:"is_published"`
	PricePerSlot decimal.Decimal `json:"price_per_slot"`
	MaxSlots     int             `json:"max_slots"`
	SlotsSold    int             `json:"slots_sold"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Configured reports whether the lead can be sold at all.
func (m Marketplace) Configured() bool {
	return m.PricePerSlot.IsPositive() && m.MaxSlots > 0
}

// Completed is true once the last slot was sold. Completion is terminal.
func (m Marketplace) Completed() bool {
	return m.CompletedAt != nil
}

func (m Marketplace) Remaining() int {
	if r := m.MaxSlots - m.SlotsSold; r > 0 {
		return r
	}
	return 0
}

type Lead struct {
	ID          string      `json:"id"`
	Status      LeadStatus  `json:"status"`
	Marketplace Marketplace `json:"marketplace"`
	Location    Location    `json:"location"`
	Specialties []string    `json:"specialties"`
	Version     int64       `json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Open reports whether the lead is currently purchasable.
func (l *Lead) Open() bool {
	return l.Marketplace.IsPublished && !l.Marketplace.Completed()
}

// MatchesAny reports whether the lead carries at least one of the given
// specialties. An empty filter matches every lead.
func (l *Lead) MatchesAny(specialties []string) bool {
	if len(specialties) == 0 {
		return true
	}
	for _, want := range specialties {
		for _, have := range l.Specialties {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate a lead without touching
// the state another goroutine read.
func (l *Lead) Clone() *Lead {
	c := *l
	c.Marketplace.PublishedAt = cloneTime(l.Marketplace.PublishedAt)
	c.Marketplace.CompletedAt = cloneTime(l.Marketplace.CompletedAt)
	if l.Location.Coordinates != nil {
		coords := *l.Location.Coordinates
		c.Location.Coordinates = &coords
	}
	c.Specialties = append([]string(nil), l.Specialties...)
	return &c
}

// LeadChange is one atomic write against a lead row. Lead.Version holds the
// version the change was computed from; the write is rejected with
// ErrVersionConflict if the stored version moved on. Purchase and Events are
// persisted in the same write.
type LeadChange struct {
	Lead     *Lead
	Purchase *Purchase
	Events   []Event
}

type LeadRepository interface {
	FindByID(ctx context.Context, id string) (*Lead, error)
	// ListOpen returns published, not completed leads. Results may be stale.
	ListOpen(ctx context.Context) ([]*Lead, error)
	// CountAllocations counts distinct providers holding the lead either
	// through a marketplace purchase or an off-marketplace assignment.
	CountAllocations(ctx context.Context, leadID string) (int, error)
	// Save applies change atomically and bumps change.Lead.Version on success.
	Save(ctx context.Context, change LeadChange) error
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
