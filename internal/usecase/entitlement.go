package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

const (
	MonthlyDuration = 30 * 24 * time.Hour
	YearlyDuration  = 365 * 24 * time.Hour
)

type GrantEntitlementInput struct {
	ProviderID   string   `json:"-"`
	Actor        string   `json:"-"`
	Kind         string   `json:"kind"`
	DurationDays *int     `json:"duration_days,omitempty"`
	Features     []string `json:"features,omitempty"`
}

type GrantEntitlementUseCase struct {
	Entitlements entity.EntitlementRepository
	Retry        RetryPolicy
	Now          Clock
	Logger       *zap.Logger
}

func NewGrantEntitlementUseCase(repo entity.EntitlementRepository, retry RetryPolicy, logger *zap.Logger) *GrantEntitlementUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantEntitlementUseCase{Entitlements: repo, Retry: retry, Now: SystemClock, Logger: logger}
}

func (uc *GrantEntitlementUseCase) Execute(ctx context.Context, input GrantEntitlementInput) (*entity.Entitlement, error) {
	if errs := ValidateGrantEntitlementInput(input); len(errs) > 0 {
		return nil, invalidConfiguration(errs)
	}

	kind := entity.EntitlementKind(input.Kind)
	duration := grantDuration(kind, input.DurationDays)
	features := make([]entity.Feature, 0, len(input.Features))
	for _, f := range input.Features {
		features = append(features, entity.Feature(f))
	}

	var granted *entity.Entitlement
	err := uc.Retry.Do(ctx, func(int) error {
		now := uc.Now()

		active, err := activeEntitlement(ctx, uc.Entitlements, input.ProviderID, now)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrAlreadyActive
		}

		e, err := entity.NewEntitlement(input.ProviderID, kind, now, duration, features)
		if err != nil {
			return &DomainError{Code: CodeInvalidConfiguration, Message: err.Error()}
		}

		events := []entity.Event{
			entity.NewDomainEvent(entity.EventEntitlementGranted, e.ID, now, entitlementPayload(e)),
			entity.NewAuditEvent(entity.AuditRecord{
				Actor:  input.Actor,
				Action: ActionEntitlementGranted,
				Target: e.ID,
				After:  entitlementPayload(e),
				At:     now,
			}),
		}

		err = uc.Entitlements.Create(ctx, e, events)
		switch {
		case err == nil:
			granted = e
			return nil
		case errors.Is(err, entity.ErrActiveEntitlementExists):
			return ErrAlreadyActive
		case errors.Is(err, entity.ErrNotFound):
			return notFound("provider")
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	uc.Logger.Info("entitlement granted",
		zap.String("entitlement_id", granted.ID),
		zap.String("provider_id", granted.ProviderID),
		zap.String("kind", string(granted.Kind)),
	)
	return granted, nil
}

func grantDuration(kind entity.EntitlementKind, days *int) time.Duration {
	if days != nil {
		return time.Duration(*days) * 24 * time.Hour
	}
	switch kind {
	case entity.KindMonthly:
		return MonthlyDuration
	case entity.KindYearly:
		return YearlyDuration
	}
	return 0
}

type RevokeEntitlementInput struct {
	EntitlementID string `json:"-"`
	Actor         string `json:"-"`
}

// RevokeEntitlementUseCase cancels a grant. Revoking a grant that is already
// cancelled or expired is a no-op.
type RevokeEntitlementUseCase struct {
	Entitlements entity.EntitlementRepository
	Retry        RetryPolicy
	Now          Clock
}

func NewRevokeEntitlementUseCase(repo entity.EntitlementRepository, retry RetryPolicy) *RevokeEntitlementUseCase {
	return &RevokeEntitlementUseCase{Entitlements: repo, Retry: retry, Now: SystemClock}
}

func (uc *RevokeEntitlementUseCase) Execute(ctx context.Context, input RevokeEntitlementInput) error {
	return uc.Retry.Do(ctx, func(int) error {
		if _, err := loadEntitlement(ctx, uc.Entitlements, input.EntitlementID); err != nil {
			return err
		}
		now := uc.Now()
		_, err := uc.Entitlements.Transition(ctx, input.EntitlementID, entity.EntitlementCancelled, now,
			entitlementTransitionEvents(entity.EventEntitlementRevoked, ActionEntitlementRevoked, input.Actor, now))
		return err
	})
}

type ExtendEntitlementInput struct {
	EntitlementID string    `json:"-"`
	Actor         string    `json:"-"`
	EndAt         time.Time `json:"end_at"`
}

// ExtendEntitlementUseCase moves EndAt in place. The prior value travels in
// the emitted events so the audit log can reconstruct the history.
type ExtendEntitlementUseCase struct {
	Entitlements entity.EntitlementRepository
	Retry        RetryPolicy
	Now          Clock
}

func NewExtendEntitlementUseCase(repo entity.EntitlementRepository, retry RetryPolicy) *ExtendEntitlementUseCase {
	return &ExtendEntitlementUseCase{Entitlements: repo, Retry: retry, Now: SystemClock}
}

func (uc *ExtendEntitlementUseCase) Execute(ctx context.Context, input ExtendEntitlementInput) (*entity.Entitlement, error) {
	var extended *entity.Entitlement
	err := uc.Retry.Do(ctx, func(int) error {
		e, err := loadEntitlement(ctx, uc.Entitlements, input.EntitlementID)
		if err != nil {
			return err
		}

		now := uc.Now()
		switch {
		case e.Kind == entity.KindLifetime:
			return &DomainError{Code: CodeInvalidConfiguration, Message: "end_at: lifetime entitlements do not end"}
		case e.Status != entity.EntitlementActive || e.Lapsed(now):
			return &DomainError{Code: CodeInvalidConfiguration, Message: "end_at: only active entitlements can be extended"}
		case !input.EndAt.After(e.StartAt):
			return &DomainError{Code: CodeInvalidConfiguration, Message: "end_at: must be after start_at"}
		}

		prior := *e.EndAt
		next := e.Clone()
		next.EndAt = &input.EndAt
		next.UpdatedAt = now

		payload := entitlementPayload(next)
		payload.PriorEndAt = &prior
		events := []entity.Event{
			entity.NewDomainEvent(entity.EventEntitlementExtended, e.ID, now, payload),
			entity.NewAuditEvent(entity.AuditRecord{
				Actor:  input.Actor,
				Action: ActionEntitlementExtended,
				Target: e.ID,
				Before: entitlementPayload(e),
				After:  payload,
				At:     now,
			}),
		}

		if err := uc.Entitlements.UpdateEndAt(ctx, e.ID, prior, input.EndAt, events); err != nil {
			return err
		}
		extended = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extended, nil
}

// GetActiveEntitlementUseCase returns the provider's active grant, expiring it
// on the way if its end already passed.
type GetActiveEntitlementUseCase struct {
	Entitlements entity.EntitlementRepository
	Now          Clock
}

func NewGetActiveEntitlementUseCase(repo entity.EntitlementRepository) *GetActiveEntitlementUseCase {
	return &GetActiveEntitlementUseCase{Entitlements: repo, Now: SystemClock}
}

func (uc *GetActiveEntitlementUseCase) Execute(ctx context.Context, providerID string) (*entity.Entitlement, error) {
	e, err := activeEntitlement(ctx, uc.Entitlements, providerID, uc.Now())
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound("active entitlement")
	}
	return e, nil
}

// activeEntitlement returns the provider's live grant or nil. A grant whose
// end passed but was not swept yet is expired here with the same idempotent
// transition the sweeper uses.
func activeEntitlement(ctx context.Context, repo entity.EntitlementRepository, providerID string, now time.Time) (*entity.Entitlement, error) {
	e, err := repo.FindActiveByProvider(ctx, providerID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active entitlement: %w", err)
	}
	if !e.Lapsed(now) {
		return e, nil
	}
	if _, err := expire(ctx, repo, e.ID, now); err != nil {
		return nil, err
	}
	return nil, nil
}

func expire(ctx context.Context, repo entity.EntitlementRepository, id string, now time.Time) (bool, error) {
	return repo.Transition(ctx, id, entity.EntitlementExpired, now,
		entitlementTransitionEvents(entity.EventEntitlementExpired, ActionEntitlementExpired, SystemActor, now))
}

func loadEntitlement(ctx context.Context, repo entity.EntitlementRepository, id string) (*entity.Entitlement, error) {
	e, err := repo.FindByID(ctx, id)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, notFound("entitlement")
	}
	if err != nil {
		return nil, fmt.Errorf("load entitlement: %w", err)
	}
	return e, nil
}
