package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/infra/http/middleware"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

// Sweeper is satisfied by usecase.SweepEntitlementsUseCase.
type Sweeper interface {
	Execute(ctx context.Context, now time.Time) (*usecase.SweepOutput, error)
}

type EntitlementExpirationWorker struct {
	sweeper      Sweeper
	tickInterval time.Duration
	now          usecase.Clock
	logger       *zap.Logger
}

func NewEntitlementExpirationWorker(sweeper Sweeper, interval time.Duration, logger *zap.Logger) *EntitlementExpirationWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntitlementExpirationWorker{
		sweeper:      sweeper,
		tickInterval: interval,
		now:          usecase.SystemClock,
		logger:       logger,
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (w *EntitlementExpirationWorker) Start(ctx context.Context) {
	w.logger.Info("entitlement expiration worker started", zap.Duration("interval", w.tickInterval))

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("entitlement expiration worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *EntitlementExpirationWorker) sweep(ctx context.Context) {
	out, err := w.sweeper.Execute(ctx, w.now())
	if out != nil {
		middleware.RecordEntitlementsExpired(out.Expired)
		middleware.RecordSweepFailures(len(out.FailedIDs))
	}
	if err != nil {
		w.logger.Error("entitlement sweep failed", zap.Error(err))
		return
	}
	if out.Expired > 0 || len(out.FailedIDs) > 0 {
		w.logger.Info("entitlement sweep finished",
			zap.Int("expired", out.Expired),
			zap.Strings("failed_ids", out.FailedIDs),
		)
	}
}
