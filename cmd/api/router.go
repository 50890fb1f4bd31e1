package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/config"
	"github.com/xavierca1/lead-marketplace/internal/infra/http/handlers"
	"github.com/xavierca1/lead-marketplace/internal/infra/http/middleware"
	"github.com/xavierca1/lead-marketplace/internal/logging"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

type useCases struct {
	configure *usecase.SetMarketplaceConfigUseCase
	sync      *usecase.SyncAllocationsUseCase
	purchase  *usecase.PurchaseSlotUseCase
	findLeads *usecase.FindLeadsForProviderUseCase
	listing   *usecase.FindProvidersForListingUseCase
	grant     *usecase.GrantEntitlementUseCase
	revoke    *usecase.RevokeEntitlementUseCase
	extend    *usecase.ExtendEntitlementUseCase
	active    *usecase.GetActiveEntitlementUseCase
	sweep     *usecase.SweepEntitlementsUseCase
}

func newRouter(cfg config.Config, logger *zap.Logger, ucs useCases, limiter *middleware.RateLimiter, checks map[string]handlers.Checker) http.Handler {
	leadHandler := handlers.NewLeadHandler(ucs.configure, ucs.sync, ucs.purchase, ucs.findLeads, logger)
	providerHandler := handlers.NewProviderHandler(ucs.listing, logger)
	entitlementHandler := handlers.NewEntitlementHandler(ucs.grant, ucs.revoke, ucs.extend, ucs.active, ucs.sweep, logger)
	healthHandler := handlers.NewHealthHandler(version, checks)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	if cfg.MetricsEnabled {
		r.Use(middleware.Metrics)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", middleware.ActorHeader},
	}))

	r.Get("/health", healthHandler.Handle)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Actor)
		r.Use(limiter.Middleware)
		leadHandler.Register(r)
		providerHandler.Register(r)
		entitlementHandler.Register(r)
	})
	return r
}
