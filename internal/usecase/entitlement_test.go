package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xavierca1/lead-marketplace/internal/entity"
	"github.com/xavierca1/lead-marketplace/internal/infra/memory"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

type entitlementFixture struct {
	store  *memory.Store
	clock  *fakeClock
	grant  *usecase.GrantEntitlementUseCase
	revoke *usecase.RevokeEntitlementUseCase
	extend *usecase.ExtendEntitlementUseCase
	active *usecase.GetActiveEntitlementUseCase
}

func newEntitlementFixture(providerIDs ...string) *entitlementFixture {
	store := memory.NewStore()
	for _, id := range providerIDs {
		store.PutProvider(&entity.Provider{ID: id, VisibilityEligible: true})
	}
	clock := newFakeClock(baseTime)
	repo := store.Entitlements()

	f := &entitlementFixture{
		store:  store,
		clock:  clock,
		grant:  usecase.NewGrantEntitlementUseCase(repo, fastRetry, nil),
		revoke: usecase.NewRevokeEntitlementUseCase(repo, fastRetry),
		extend: usecase.NewExtendEntitlementUseCase(repo, fastRetry),
		active: usecase.NewGetActiveEntitlementUseCase(repo),
	}
	f.grant.Now = clock.Now
	f.revoke.Now = clock.Now
	f.extend.Now = clock.Now
	f.active.Now = clock.Now
	return f
}

func days(n int) *int { return &n }

func TestGrantEntitlement_Durations(t *testing.T) {
	f := newEntitlementFixture("monthly", "yearly", "lifetime", "temporary")
	ctx := context.Background()

	cases := []struct {
		provider string
		input    usecase.GrantEntitlementInput
		end      *time.Time
	}{
		{"monthly", usecase.GrantEntitlementInput{Kind: "monthly"}, ptr(baseTime.Add(usecase.MonthlyDuration))},
		{"yearly", usecase.GrantEntitlementInput{Kind: "yearly"}, ptr(baseTime.Add(usecase.YearlyDuration))},
		{"lifetime", usecase.GrantEntitlementInput{Kind: "lifetime"}, nil},
		{"temporary", usecase.GrantEntitlementInput{Kind: "temporary", DurationDays: days(7)}, ptr(baseTime.Add(7 * 24 * time.Hour))},
	}

	for _, tc := range cases {
		t.Run(tc.provider, func(t *testing.T) {
			tc.input.ProviderID = tc.provider
			e, err := f.grant.Execute(ctx, tc.input)
			require.NoError(t, err)

			assert.Equal(t, entity.EntitlementActive, e.Status)
			assert.Equal(t, baseTime, e.StartAt)
			assert.Equal(t, tc.end, e.EndAt)
			assert.Equal(t, entity.DefaultFeatures, e.Features)
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestGrantEntitlement_Validation(t *testing.T) {
	f := newEntitlementFixture("p-1")
	ctx := context.Background()

	invalid := []usecase.GrantEntitlementInput{
		{ProviderID: "p-1", Kind: "weekly"},
		{ProviderID: "p-1", Kind: "temporary"},
		{ProviderID: "p-1", Kind: "lifetime", DurationDays: days(3)},
		{ProviderID: "p-1", Kind: "monthly", DurationDays: days(0)},
		{ProviderID: "", Kind: "monthly"},
	}
	for _, in := range invalid {
		_, err := f.grant.Execute(ctx, in)
		assert.ErrorIs(t, err, usecase.ErrInvalidConfiguration, "%+v", in)
	}

	_, err := f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "ghost", Kind: "monthly"})
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

func TestGrantEntitlement_SingleActivePerProvider(t *testing.T) {
	f := newEntitlementFixture("p-1")
	ctx := context.Background()

	first, err := f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-1", Kind: "monthly", Features: []string{"badge"}})
	require.NoError(t, err)
	assert.Equal(t, []entity.Feature{entity.FeatureBadge}, first.Features)

	_, err = f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-1", Kind: "lifetime"})
	assert.ErrorIs(t, err, usecase.ErrAlreadyActive)

	provider, _ := f.store.FindProvider(ctx, "p-1")
	require.NotNil(t, provider.ActiveEntitlementID)
	assert.Equal(t, first.ID, *provider.ActiveEntitlementID)
}

func TestGrantEntitlement_ExpiresLapsedGrantOnRead(t *testing.T) {
	f := newEntitlementFixture("p-1")
	ctx := context.Background()

	first, err := f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-1", Kind: "temporary", DurationDays: days(2)})
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	second, err := f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-1", Kind: "monthly"})
	require.NoError(t, err)

	old, _ := f.store.Entitlements().FindByID(ctx, first.ID)
	assert.Equal(t, entity.EntitlementExpired, old.Status)
	assert.Len(t, f.store.EventsOfType(entity.EventEntitlementExpired), 1)

	got, err := f.active.Execute(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestGetActiveEntitlement_LapsedIsNotFound(t *testing.T) {
	f := newEntitlementFixture("p-1")
	ctx := context.Background()

	_, err := f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-1", Kind: "monthly"})
	require.NoError(t, err)

	f.clock.Advance(usecase.MonthlyDuration)
	_, err = f.active.Execute(ctx, "p-1")
	assert.ErrorIs(t, err, usecase.ErrNotFound)

	provider, _ := f.store.FindProvider(ctx, "p-1")
	assert.False(t, provider.Premium())
}

func TestRevokeEntitlement_Idempotent(t *testing.T) {
	f := newEntitlementFixture("p-1")
	ctx := context.Background()

	e, err := f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-1", Kind: "lifetime"})
	require.NoError(t, err)

	input := usecase.RevokeEntitlementInput{EntitlementID: e.ID, Actor: "admin"}
	require.NoError(t, f.revoke.Execute(ctx, input))
	require.NoError(t, f.revoke.Execute(ctx, input))

	stored, _ := f.store.Entitlements().FindByID(ctx, e.ID)
	assert.Equal(t, entity.EntitlementCancelled, stored.Status)
	assert.Len(t, f.store.EventsOfType(entity.EventEntitlementRevoked), 1)
	assert.Len(t, f.store.EventsOfType("audit."+usecase.ActionEntitlementRevoked), 1)

	err = f.revoke.Execute(ctx, usecase.RevokeEntitlementInput{EntitlementID: "missing"})
	assert.ErrorIs(t, err, usecase.ErrNotFound)

	_, err = f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-1", Kind: "monthly"})
	assert.NoError(t, err)
}

func TestExtendEntitlement(t *testing.T) {
	f := newEntitlementFixture("p-1", "p-2")
	ctx := context.Background()

	e, err := f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-1", Kind: "monthly"})
	require.NoError(t, err)

	newEnd := baseTime.Add(90 * 24 * time.Hour)
	extended, err := f.extend.Execute(ctx, usecase.ExtendEntitlementInput{EntitlementID: e.ID, Actor: "admin", EndAt: newEnd})
	require.NoError(t, err)
	assert.Equal(t, newEnd, *extended.EndAt)

	stored, _ := f.store.Entitlements().FindByID(ctx, e.ID)
	assert.Equal(t, newEnd, *stored.EndAt)
	require.Len(t, f.store.EventsOfType(entity.EventEntitlementExtended), 1)
	assert.Contains(t, string(f.store.EventsOfType(entity.EventEntitlementExtended)[0].Payload), "prior_end_at")

	_, err = f.extend.Execute(ctx, usecase.ExtendEntitlementInput{EntitlementID: e.ID, EndAt: baseTime.Add(-time.Hour)})
	assert.ErrorIs(t, err, usecase.ErrInvalidConfiguration)

	lifetime, err := f.grant.Execute(ctx, usecase.GrantEntitlementInput{ProviderID: "p-2", Kind: "lifetime"})
	require.NoError(t, err)
	_, err = f.extend.Execute(ctx, usecase.ExtendEntitlementInput{EntitlementID: lifetime.ID, EndAt: newEnd})
	assert.ErrorIs(t, err, usecase.ErrInvalidConfiguration)
}
