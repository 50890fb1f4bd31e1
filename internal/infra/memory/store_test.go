package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

func publishedLead(id string, maxSlots int) *entity.Lead {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &entity.Lead{
		ID:     id,
		Status: entity.LeadStatusCompleted,
		Marketplace: entity.Marketplace{
			IsPublished:  true,
			PricePerSlot: decimal.NewFromInt(15),
			MaxSlots:     maxSlots,
			PublishedAt:  &now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutLead(publishedLead("lead-1", 2))

	a, err := s.FindByID(ctx, "lead-1")
	require.NoError(t, err)
	b, err := s.FindByID(ctx, "lead-1")
	require.NoError(t, err)

	a.Marketplace.SlotsSold = 1
	require.NoError(t, s.Save(ctx, entity.LeadChange{Lead: a}))
	assert.Equal(t, int64(2), a.Version)

	b.Marketplace.SlotsSold = 1
	assert.ErrorIs(t, s.Save(ctx, entity.LeadChange{Lead: b}), entity.ErrVersionConflict)
}

func TestSaveEnforcesConstraints(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutLead(publishedLead("lead-1", 1))

	l, _ := s.FindByID(ctx, "lead-1")
	l.Marketplace.SlotsSold = 2
	assert.Error(t, s.Save(ctx, entity.LeadChange{Lead: l}))

	l, _ = s.FindByID(ctx, "lead-1")
	l.Marketplace.PricePerSlot = decimal.Zero
	assert.Error(t, s.Save(ctx, entity.LeadChange{Lead: l}))
}

func TestSaveRejectsDuplicatePurchase(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutLead(publishedLead("lead-1", 3))

	purchase := &entity.Purchase{LeadID: "lead-1", ProviderID: "p-1", Price: decimal.NewFromInt(15)}

	l, _ := s.FindByID(ctx, "lead-1")
	l.Marketplace.SlotsSold = 1
	require.NoError(t, s.Save(ctx, entity.LeadChange{Lead: l, Purchase: purchase}))

	l, _ = s.FindByID(ctx, "lead-1")
	l.Marketplace.SlotsSold = 2
	assert.ErrorIs(t, s.Save(ctx, entity.LeadChange{Lead: l, Purchase: purchase}), entity.ErrDuplicatePurchase)

	stored, _ := s.FindByID(ctx, "lead-1")
	assert.Equal(t, 1, stored.Marketplace.SlotsSold)
}

func TestSaveRejectsPurchaseByAssignedProvider(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutLead(publishedLead("lead-1", 2))
	s.Assign("lead-1", "p-1", time.Now())

	l, _ := s.FindByID(ctx, "lead-1")
	l.Marketplace.SlotsSold = 1
	err := s.Save(ctx, entity.LeadChange{Lead: l, Purchase: &entity.Purchase{LeadID: "lead-1", ProviderID: "p-1"}})
	assert.ErrorIs(t, err, entity.ErrDuplicatePurchase)

	stored, _ := s.FindByID(ctx, "lead-1")
	assert.Equal(t, 0, stored.Marketplace.SlotsSold)
	assert.Empty(t, s.Purchases("lead-1"))
}

func TestPutProviderCopiesCoordinates(t *testing.T) {
	s := NewStore()
	coords := &entity.Coordinates{Lat: 48.8566, Lng: 2.3522}
	s.PutProvider(&entity.Provider{ID: "p-1", Coordinates: coords, VisibilityEligible: true})

	coords.Lat = 0

	p, err := s.FindProvider(context.Background(), "p-1")
	require.NoError(t, err)
	require.NotNil(t, p.Coordinates)
	assert.InDelta(t, 48.8566, p.Coordinates.Lat, 1e-9)
}

func TestCountAllocationsMergesPurchasesAndAssignments(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutLead(publishedLead("lead-1", 5))

	l, _ := s.FindByID(ctx, "lead-1")
	l.Marketplace.SlotsSold = 1
	require.NoError(t, s.Save(ctx, entity.LeadChange{Lead: l, Purchase: &entity.Purchase{LeadID: "lead-1", ProviderID: "p-1"}}))

	s.Assign("lead-1", "p-1", time.Now())
	s.Assign("lead-1", "p-2", time.Now())

	n, err := s.CountAllocations(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListVisibleKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	s.PutProvider(&entity.Provider{ID: "c", VisibilityEligible: true})
	s.PutProvider(&entity.Provider{ID: "a", VisibilityEligible: true})
	s.PutProvider(&entity.Provider{ID: "hidden"})
	s.PutProvider(&entity.Provider{ID: "b", VisibilityEligible: true})

	got, err := s.Providers().ListVisible(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestEntitlementLifecycleKeepsProviderProjection(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutProvider(&entity.Provider{ID: "p-1", VisibilityEligible: true})
	repo := s.Entitlements()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e, err := entity.NewEntitlement("p-1", entity.KindMonthly, start, 30*24*time.Hour, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, e, nil))

	p, _ := s.FindProvider(ctx, "p-1")
	require.NotNil(t, p.ActiveEntitlementID)
	assert.Equal(t, e.ID, *p.ActiveEntitlementID)

	other, _ := entity.NewEntitlement("p-1", entity.KindLifetime, start, 0, nil)
	assert.ErrorIs(t, repo.Create(ctx, other, nil), entity.ErrActiveEntitlementExists)

	ok, err := repo.Transition(ctx, e.ID, entity.EntitlementExpired, start.Add(31*24*time.Hour), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Transition(ctx, e.ID, entity.EntitlementExpired, start.Add(32*24*time.Hour), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	p, _ = s.FindProvider(ctx, "p-1")
	assert.Nil(t, p.ActiveEntitlementID)
}

func TestCreateEntitlementUnknownProvider(t *testing.T) {
	s := NewStore()
	e, _ := entity.NewEntitlement("ghost", entity.KindLifetime, time.Now(), 0, nil)
	assert.ErrorIs(t, s.Entitlements().Create(context.Background(), e, nil), entity.ErrNotFound)
}

func TestListLapsedOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, days := range []int{10, 3, 40} {
		id := string(rune('a' + i))
		s.PutProvider(&entity.Provider{ID: id})
		e, err := entity.NewEntitlement(id, entity.KindTemporary, start, time.Duration(days)*24*time.Hour, nil)
		require.NoError(t, err)
		require.NoError(t, s.Entitlements().Create(ctx, e, nil))
	}

	lapsed, err := s.Entitlements().ListLapsed(ctx, start.Add(20*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, lapsed, 2)
	assert.Equal(t, "b", lapsed[0].ProviderID)
	assert.Equal(t, "a", lapsed[1].ProviderID)

	lapsed, _ = s.Entitlements().ListLapsed(ctx, start.Add(20*24*time.Hour), 1)
	assert.Len(t, lapsed, 1)
}

func TestOutboxPublishFlow(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutLead(publishedLead("lead-1", 2))

	l, _ := s.FindByID(ctx, "lead-1")
	l.Marketplace.SlotsSold = 1
	events := []entity.Event{
		entity.NewDomainEvent(entity.EventSlotPurchased, "lead-1", time.Now(), nil),
		entity.NewAuditEvent(entity.AuditRecord{Actor: "p-1", Action: "lead.slot_purchased", Target: "lead-1"}),
	}
	require.NoError(t, s.Save(ctx, entity.LeadChange{Lead: l, Events: events}))

	pending, err := s.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.MarkFailed(ctx, pending[0].ID, "broker down", time.Now()))
	require.NoError(t, s.MarkPublished(ctx, pending[1].ID, time.Now()))

	pending, _ = s.FetchUnpublished(ctx, 10)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)

	assert.ErrorIs(t, s.MarkPublished(ctx, "missing", time.Now()), entity.ErrNotFound)
	assert.Len(t, s.EventsOfType(entity.EventSlotPurchased), 1)
}
