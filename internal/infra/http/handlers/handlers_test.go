package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/entity"
	"github.com/xavierca1/lead-marketplace/internal/infra/http/handlers"
	"github.com/xavierca1/lead-marketplace/internal/infra/http/middleware"
	"github.com/xavierca1/lead-marketplace/internal/infra/memory"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

var (
	baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	paris    = entity.Coordinates{Lat: 48.8566, Lng: 2.3522}
)

var testRetry = usecase.RetryPolicy{MaxAttempts: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

type testServer struct {
	store  *memory.Store
	router chi.Router
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	srv := &testServer{store: store, now: baseTime}
	clock := func() time.Time { return srv.now }

	configure := usecase.NewSetMarketplaceConfigUseCase(store, testRetry, logger)
	configure.Now = clock
	sync := usecase.NewSyncAllocationsUseCase(store, testRetry)
	sync.Now = clock
	purchase := usecase.NewPurchaseSlotUseCase(store, testRetry, logger)
	purchase.Now = clock
	findLeads := usecase.NewFindLeadsForProviderUseCase(store, store.Providers())
	listing := usecase.NewFindProvidersForListingUseCase(store.Providers(), nil)

	grant := usecase.NewGrantEntitlementUseCase(store.Entitlements(), testRetry, logger)
	grant.Now = clock
	revoke := usecase.NewRevokeEntitlementUseCase(store.Entitlements(), testRetry)
	revoke.Now = clock
	extend := usecase.NewExtendEntitlementUseCase(store.Entitlements(), testRetry)
	extend.Now = clock
	active := usecase.NewGetActiveEntitlementUseCase(store.Entitlements())
	active.Now = clock
	sweep := usecase.NewSweepEntitlementsUseCase(store.Entitlements(), 10, logger)

	leadHandler := handlers.NewLeadHandler(configure, sync, purchase, findLeads, logger)
	providerHandler := handlers.NewProviderHandler(listing, logger)
	entitlementHandler := handlers.NewEntitlementHandler(grant, revoke, extend, active, sweep, logger)
	entitlementHandler.Now = clock

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.Actor)
		leadHandler.Register(r)
		providerHandler.Register(r)
		entitlementHandler.Register(r)
	})
	srv.router = r
	return srv
}

func (s *testServer) do(t *testing.T, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != "" {
		req.Header.Set(middleware.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) seedLead(id string, coords *entity.Coordinates) {
	s.store.PutLead(&entity.Lead{
		ID:          id,
		Status:      entity.LeadStatusCompleted,
		Specialties: []string{"plumbing"},
		Location:    entity.Location{City: "Paris", Coordinates: coords},
		CreatedAt:   baseTime.Add(-time.Hour),
		UpdatedAt:   baseTime.Add(-time.Hour),
	})
}

func (s *testServer) seedProvider(id string, coords *entity.Coordinates) {
	s.store.PutProvider(&entity.Provider{
		ID:                 id,
		Name:               "Provider " + id,
		Specialties:        []string{"plumbing"},
		Coordinates:        coords,
		VisibilityEligible: true,
		CreatedAt:          baseTime.Add(-24 * time.Hour),
	})
}

func TestSetMarketplace(t *testing.T) {
	srv := newTestServer(t)
	srv.seedLead("lead-1", &paris)

	rec := srv.do(t, http.MethodPut, "/leads/lead-1/marketplace", "admin", `{"price":"25.00","max_slots":3,"publish":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[usecase.MarketplaceOutput](t, rec)
	assert.True(t, out.Marketplace.IsPublished)
	assert.True(t, out.Marketplace.PricePerSlot.Equal(decimal.RequireFromString("25")))
	assert.False(t, out.Downgraded)

	rec = srv.do(t, http.MethodPut, "/leads/lead-1/marketplace", "admin", `{"price":"0","max_slots":3,"publish":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode[usecase.MarketplaceOutput](t, rec)
	assert.False(t, out.Marketplace.IsPublished)
	assert.True(t, out.Downgraded)
	assert.Equal(t, usecase.DowngradeIncompleteConfig, out.DowngradeReason)
}

func TestSetMarketplaceRejections(t *testing.T) {
	srv := newTestServer(t)
	srv.seedLead("lead-1", nil)

	rec := srv.do(t, http.MethodPut, "/leads/lead-1/marketplace", "admin", `{"price":"-1","max_slots":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, usecase.CodeInvalidConfiguration, decode[handlers.ErrorResponse](t, rec).Code)

	rec = srv.do(t, http.MethodPut, "/leads/lead-1/marketplace", "admin", `{"price":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPut, "/leads/missing/marketplace", "admin", `{"price":"10","max_slots":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPut, "/leads/lead-1/marketplace", "", `{"price":"10","max_slots":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPurchaseFlow(t *testing.T) {
	srv := newTestServer(t)
	srv.seedLead("lead-1", &paris)
	require.Equal(t, http.StatusOK,
		srv.do(t, http.MethodPut, "/leads/lead-1/marketplace", "admin", `{"price":"40","max_slots":2,"publish":true}`).Code)

	rec := srv.do(t, http.MethodPost, "/leads/lead-1/purchases", "prov-a", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[usecase.PurchaseReceipt](t, rec)
	assert.Equal(t, "prov-a", receipt.ProviderID)
	assert.Equal(t, 1, receipt.SlotsSold)
	assert.False(t, receipt.LeadCompleted)

	rec = srv.do(t, http.MethodPost, "/leads/lead-1/purchases", "prov-a", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "You already purchased this lead", decode[handlers.ErrorResponse](t, rec).Message)

	rec = srv.do(t, http.MethodPost, "/leads/lead-1/purchases", "prov-b", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decode[usecase.PurchaseReceipt](t, rec).LeadCompleted)

	rec = srv.do(t, http.MethodPost, "/leads/lead-1/purchases", "prov-c", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[handlers.ErrorResponse](t, rec)
	assert.Equal(t, usecase.CodeSlotsExhausted, body.Code)
	assert.Equal(t, "This lead is no longer available", body.Message)

	rec = srv.do(t, http.MethodGet, "/leads/lead-1/purchases/prov-b", "prov-b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[usecase.PurchaseReceipt](t, rec).SlotsSold)

	rec = srv.do(t, http.MethodGet, "/leads/lead-1/purchases/prov-c", "prov-c", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchaseUnpublishedLead(t *testing.T) {
	srv := newTestServer(t)
	srv.seedLead("lead-1", nil)

	rec := srv.do(t, http.MethodPost, "/leads/lead-1/purchases", "prov-a", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, usecase.CodeNotPublished, decode[handlers.ErrorResponse](t, rec).Code)
}

func TestSyncAllocations(t *testing.T) {
	srv := newTestServer(t)
	srv.seedLead("lead-1", nil)
	require.Equal(t, http.StatusOK,
		srv.do(t, http.MethodPut, "/leads/lead-1/marketplace", "admin", `{"price":"10","max_slots":2,"publish":true}`).Code)

	srv.store.Assign("lead-1", "prov-x", baseTime)
	rec := srv.do(t, http.MethodPost, "/leads/lead-1/marketplace/sync", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[usecase.MarketplaceOutput](t, rec).Marketplace.SlotsSold)
}

func TestProviderLeads(t *testing.T) {
	srv := newTestServer(t)
	srv.seedProvider("prov-a", &paris)
	for _, id := range []string{"lead-1", "lead-2"} {
		srv.seedLead(id, &paris)
		require.Equal(t, http.StatusOK,
			srv.do(t, http.MethodPut, "/leads/"+id+"/marketplace", "admin", `{"price":"10","max_slots":3,"publish":true}`).Code)
	}
	require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/leads/lead-1/purchases", "prov-a", "").Code)

	rec := srv.do(t, http.MethodGet, "/providers/prov-a/leads?radius_km=10&specialty=plumbing", "prov-a", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Leads []usecase.RankedLead `json:"leads"`
	}](t, rec)
	require.Len(t, body.Leads, 1)
	assert.Equal(t, "lead-2", body.Leads[0].Lead.ID)

	rec = srv.do(t, http.MethodGet, "/providers/prov-a/leads?radius_km=far", "prov-a", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/providers/unknown/leads", "prov-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProviders(t *testing.T) {
	srv := newTestServer(t)
	srv.seedProvider("prov-a", &paris)
	srv.seedProvider("prov-b", nil)

	rec := srv.do(t, http.MethodGet, "/providers?lat=48.85&lng=2.35&radius_km=5&page_size=10", "visitor", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[usecase.FindProvidersOutput](t, rec)
	assert.Equal(t, 2, out.TotalCount)
	assert.Equal(t, 10, out.PageSize)

	rec = srv.do(t, http.MethodGet, "/providers?lat=48.85", "visitor", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/providers?page_size=500", "visitor", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/providers?location=Paris", "visitor", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntitlementLifecycle(t *testing.T) {
	srv := newTestServer(t)
	srv.seedProvider("prov-a", &paris)

	rec := srv.do(t, http.MethodPost, "/providers/prov-a/entitlements", "admin", `{"kind":"monthly"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	granted := decode[entity.Entitlement](t, rec)
	assert.Equal(t, entity.EntitlementActive, granted.Status)
	require.NotNil(t, granted.EndAt)
	assert.True(t, granted.EndAt.Equal(baseTime.Add(usecase.MonthlyDuration)))

	rec = srv.do(t, http.MethodPost, "/providers/prov-a/entitlements", "admin", `{"kind":"yearly"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, usecase.CodeAlreadyActive, decode[handlers.ErrorResponse](t, rec).Code)

	rec = srv.do(t, http.MethodGet, "/providers/prov-a/entitlement", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, granted.ID, decode[entity.Entitlement](t, rec).ID)

	newEnd := baseTime.Add(60 * 24 * time.Hour).Format(time.RFC3339)
	rec = srv.do(t, http.MethodPatch, "/entitlements/"+granted.ID, "admin", `{"end_at":"`+newEnd+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, newEnd, decode[entity.Entitlement](t, rec).EndAt.Format(time.RFC3339))

	rec = srv.do(t, http.MethodDelete, "/entitlements/"+granted.ID, "admin", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/entitlements/"+granted.ID, "admin", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, "/providers/prov-a/entitlement", "admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/providers/prov-a/entitlements", "admin", `{"kind":"forever"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweepEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.seedProvider("prov-a", nil)
	srv.seedProvider("prov-b", nil)

	require.Equal(t, http.StatusCreated,
		srv.do(t, http.MethodPost, "/providers/prov-a/entitlements", "admin", `{"kind":"temporary","duration_days":1}`).Code)
	require.Equal(t, http.StatusCreated,
		srv.do(t, http.MethodPost, "/providers/prov-b/entitlements", "admin", `{"kind":"lifetime"}`).Code)

	srv.now = baseTime.Add(48 * time.Hour)
	rec := srv.do(t, http.MethodPost, "/admin/entitlements/sweep", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[handlers.SweepResponse](t, rec)
	assert.Equal(t, 1, out.Expired)
	assert.Empty(t, out.FailedIDs)

	rec = srv.do(t, http.MethodPost, "/admin/entitlements/sweep", "admin", "")
	assert.Equal(t, 0, decode[handlers.SweepResponse](t, rec).Expired)
}

func TestHealth(t *testing.T) {
	h := handlers.NewHealthHandler("test", map[string]handlers.Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    nil,
	})
	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "healthy", out.Status)
	assert.Equal(t, "not configured", out.Dependencies["redis"])

	h.Checks["rabbitmq"] = func(context.Context) error { return errors.New("connection closed") }
	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy: connection closed", decode[handlers.HealthResponse](t, rec).Dependencies["rabbitmq"])
}
