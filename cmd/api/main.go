package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/config"
	"github.com/xavierca1/lead-marketplace/internal/geo"
	"github.com/xavierca1/lead-marketplace/internal/infra/cache"
	"github.com/xavierca1/lead-marketplace/internal/infra/database"
	"github.com/xavierca1/lead-marketplace/internal/infra/http/handlers"
	"github.com/xavierca1/lead-marketplace/internal/infra/http/middleware"
	"github.com/xavierca1/lead-marketplace/internal/infra/integration/nominatim"
	"github.com/xavierca1/lead-marketplace/internal/infra/queue"
	"github.com/xavierca1/lead-marketplace/internal/infra/worker"
	"github.com/xavierca1/lead-marketplace/internal/logging"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{Component: "api", Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	pool, err := database.NewPool(ctx, database.PoolConfig{
		ConnString: cfg.DatabaseURL,
		MaxConns:   cfg.DBMaxConns,
		MinConns:   cfg.DBMinConns,
	})
	if err != nil {
		return err
	}
	defer database.ClosePool(pool)

	if cfg.ApplySchema {
		if err := database.ApplySchema(ctx, pool); err != nil {
			return err
		}
	}

	leadRepo := database.NewLeadRepository(pool)
	providerRepo := database.NewProviderRepository(pool)
	entitlementRepo := database.NewEntitlementRepository(pool)
	outboxRepo := database.NewOutboxRepository(pool)

	// 2. Broker
	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	defer rabbitMQ.Close()

	// 3. Geocoding, cached in Redis when configured
	var geocoder geo.Geocoder = nominatim.NewClient(nominatim.Config{
		BaseURL:           cfg.GeocoderBaseURL,
		UserAgent:         cfg.GeocoderUserAgent,
		CountryCode:       cfg.GeocoderCountry,
		Timeout:           cfg.GeocoderTimeout,
		RequestsPerSecond: cfg.GeocoderRPS,
	})
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		geocoder = cache.NewCachedGeocoder(redisClient, geocoder, cfg.GeocodeCacheTTL, cfg.GeocodeMissTTL, logger)
	} else {
		logger.Warn("REDIS_URL not set, geocoding results are not cached")
	}
	geoIndex := geo.NewIndex(geocoder)

	// 4. UseCases
	retry := usecase.RetryPolicy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialBackoff,
		MaxInterval:     cfg.RetryMaxBackoff,
	}
	ucs := useCases{
		configure: usecase.NewSetMarketplaceConfigUseCase(leadRepo, retry, logger),
		sync:      usecase.NewSyncAllocationsUseCase(leadRepo, retry),
		purchase:  usecase.NewPurchaseSlotUseCase(leadRepo, retry, logger),
		findLeads: usecase.NewFindLeadsForProviderUseCase(leadRepo, providerRepo),
		listing:   usecase.NewFindProvidersForListingUseCase(providerRepo, geoIndex),
		grant:     usecase.NewGrantEntitlementUseCase(entitlementRepo, retry, logger),
		revoke:    usecase.NewRevokeEntitlementUseCase(entitlementRepo, retry),
		extend:    usecase.NewExtendEntitlementUseCase(entitlementRepo, retry),
		active:    usecase.NewGetActiveEntitlementUseCase(entitlementRepo),
		sweep:     usecase.NewSweepEntitlementsUseCase(entitlementRepo, cfg.SweepBatchSize, logger),
	}

	// 5. Workers
	expiration := worker.NewEntitlementExpirationWorker(ucs.sweep, cfg.SweepInterval, logger)
	go expiration.Start(ctx)

	relay := worker.NewOutboxRelay(outboxRepo, queue.NewProducer(rabbitMQ.Ch), cfg.OutboxInterval,
		cfg.OutboxBatchSize, cfg.OutboxMaxAttempts, logger)
	go relay.Start(ctx)

	auditCh, err := rabbitMQ.Conn.Channel()
	if err != nil {
		return err
	}
	defer auditCh.Close()
	audit := queue.NewWorker(auditCh, queue.AuditTrail(logger), logger)
	go func() {
		if err := audit.Start(ctx, queue.AuditQueue); err != nil && ctx.Err() == nil {
			logger.Error("audit consumer stopped", zap.Error(err))
		}
	}()

	// 6. HTTP
	health := map[string]handlers.Checker{
		"postgres": pool.Ping,
		"rabbitmq": func(context.Context) error {
			if !rabbitMQ.Healthy() {
				return errors.New("connection closed")
			}
			return nil
		},
		"redis": nil,
	}
	if redisClient != nil {
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerActor, cfg.RateLimitBurst)
	go limiter.Run(ctx.Done())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, logger, ucs, limiter, health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
