package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xavierca1/lead-marketplace/internal/entity"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

var fastRetry = usecase.RetryPolicy{
	MaxAttempts:     6,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// fakeClock is a settable clock shared by the usecases under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func draftLead(id string) *entity.Lead {
	return &entity.Lead{
		ID:          id,
		Status:      entity.LeadStatusCompleted,
		Specialties: []string{"plumbing"},
		CreatedAt:   baseTime.Add(-time.Hour),
		UpdatedAt:   baseTime.Add(-time.Hour),
	}
}

func openLead(id string, price int64, maxSlots int, coords *entity.Coordinates) *entity.Lead {
	l := draftLead(id)
	published := baseTime
	l.Marketplace = entity.Marketplace{
		IsPublished:  true,
		PricePerSlot: decimal.NewFromInt(price),
		MaxSlots:     maxSlots,
		PublishedAt:  &published,
	}
	l.Location.Coordinates = coords
	return l
}

// flakyAfterCommit applies the first Save and then reports a transient
// failure, as when a connection drops after COMMIT but before the reply.
type flakyAfterCommit struct {
	usecase.LeadStore
	mu    sync.Mutex
	fired bool
}

func (f *flakyAfterCommit) Save(ctx context.Context, change entity.LeadChange) error {
	if err := f.LeadStore.Save(ctx, change); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fired {
		f.fired = true
		return entity.ErrTransient
	}
	return nil
}

// transientOnce fails the first Save before anything is written.
type transientOnce struct {
	usecase.LeadStore
	mu    sync.Mutex
	fired bool
}

func (f *transientOnce) Save(ctx context.Context, change entity.LeadChange) error {
	f.mu.Lock()
	fired := f.fired
	f.fired = true
	f.mu.Unlock()
	if !fired {
		return entity.ErrTransient
	}
	return f.LeadStore.Save(ctx, change)
}

// alwaysConflicting loses every version race.
type alwaysConflicting struct {
	usecase.LeadStore
	saves int
}

func (a *alwaysConflicting) Save(context.Context, entity.LeadChange) error {
	a.saves++
	return entity.ErrVersionConflict
}

// failingTransition fails the transition of the listed entitlements.
type failingTransition struct {
	entity.EntitlementRepository
	fail map[string]bool
}

func (f *failingTransition) Transition(ctx context.Context, id string, status entity.EntitlementStatus, at time.Time, events entity.EventsFor) (bool, error) {
	if f.fail[id] {
		return false, entity.ErrTransient
	}
	return f.EntitlementRepository.Transition(ctx, id, status, at, events)
}

type stubResolver struct {
	coords map[string]entity.Coordinates
}

func (s stubResolver) Geocode(_ context.Context, text string) (entity.Coordinates, error) {
	c, ok := s.coords[text]
	if !ok {
		return entity.Coordinates{}, entity.ErrNotFound
	}
	return c, nil
}

var (
	paris      = entity.Coordinates{Lat: 48.8566, Lng: 2.3522}
	versailles = entity.Coordinates{Lat: 48.8049, Lng: 2.1204}
	meaux      = entity.Coordinates{Lat: 48.9601, Lng: 2.8788}
	lyon       = entity.Coordinates{Lat: 45.7640, Lng: 4.8357}
)
