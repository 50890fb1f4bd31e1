package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

const DefaultSweepBatchSize = 100

type SweepOutput struct {
	Expired   int      `json:"expired"`
	FailedIDs []string `json:"failed_ids"`
}

// SweepEntitlementsUseCase expires every active grant whose end passed.
// Each grant is its own atomic transition, so overlapping sweeps only ever
// expire a grant once and a failed record never blocks the rest.
type SweepEntitlementsUseCase struct {
	Entitlements entity.EntitlementRepository
	BatchSize    int
	Logger       *zap.Logger
}

func NewSweepEntitlementsUseCase(repo entity.EntitlementRepository, batchSize int, logger *zap.Logger) *SweepEntitlementsUseCase {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepEntitlementsUseCase{Entitlements: repo, BatchSize: batchSize, Logger: logger}
}

func (uc *SweepEntitlementsUseCase) Execute(ctx context.Context, now time.Time) (*SweepOutput, error) {
	out := &SweepOutput{FailedIDs: []string{}}
	failed := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		// Failed grants stay lapsed and come back in every listing, so ask
		// for enough rows to still see a full batch of fresh ones.
		limit := uc.BatchSize + len(failed)
		batch, err := uc.Entitlements.ListLapsed(ctx, now, limit)
		if err != nil {
			return out, fmt.Errorf("list lapsed entitlements: %w", err)
		}

		processed := 0
		for _, e := range batch {
			if failed[e.ID] {
				continue
			}
			processed++

			expired, err := expire(ctx, uc.Entitlements, e.ID, now)
			if err != nil {
				failed[e.ID] = true
				out.FailedIDs = append(out.FailedIDs, e.ID)
				uc.Logger.Warn("entitlement expiry failed",
					zap.String("entitlement_id", e.ID),
					zap.String("provider_id", e.ProviderID),
					zap.Error(err),
				)
				continue
			}
			if expired {
				out.Expired++
			}
		}

		if processed == 0 || len(batch) < limit {
			return out, nil
		}
	}
}
