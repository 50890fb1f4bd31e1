package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// PurchaseSlotInput is sent after payment capture succeeded. ProviderID is
// the authenticated caller.
type PurchaseSlotInput struct {
	LeadID     string `json:"-"`
	ProviderID string `json:"-"`
}

type PurchaseReceipt struct {
	LeadID        string          `json:"lead_id"`
	ProviderID    string          `json:"provider_id"`
	Price         decimal.Decimal `json:"price"`
	PurchasedAt   time.Time       `json:"purchased_at"`
	SlotsSold     int             `json:"slots_sold"`
	MaxSlots      int             `json:"max_slots"`
	LeadCompleted bool            `json:"lead_completed"`
	// Replayed is set when an earlier attempt of this same call committed
	// before its outcome could be confirmed.
	Replayed bool `json:"replayed,omitempty"`
}

// PurchaseSlotUseCase is the single source of truth for remaining capacity.
// Each attempt reads the lead, decides, and writes the incremented counter,
// the purchase row and the events in one compare-and-swap against the
// version it read.
type PurchaseSlotUseCase struct {
	Leads  LeadStore
	Retry  RetryPolicy
	Now    Clock
	Logger *zap.Logger
}

func NewPurchaseSlotUseCase(leads LeadStore, retry RetryPolicy, logger *zap.Logger) *PurchaseSlotUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurchaseSlotUseCase{Leads: leads, Retry: retry, Now: SystemClock, Logger: logger}
}

func (uc *PurchaseSlotUseCase) Execute(ctx context.Context, input PurchaseSlotInput) (*PurchaseReceipt, error) {
	if errs := ValidatePurchaseSlotInput(input); len(errs) > 0 {
		return nil, invalidConfiguration(errs)
	}

	var receipt *PurchaseReceipt
	uncertain := false

	err := uc.Retry.Do(ctx, func(attempt int) error {
		lead, err := loadLead(ctx, uc.Leads, input.LeadID)
		if err != nil {
			return err
		}

		existing, err := uc.findPurchase(ctx, input.LeadID, input.ProviderID)
		if err != nil {
			return err
		}
		if existing != nil {
			if uncertain {
				receipt = newReceipt(existing, lead, true)
				return nil
			}
			return ErrDuplicatePurchase
		}

		m := lead.Marketplace
		if !m.IsPublished {
			return ErrNotPublished
		}
		if m.Completed() || m.SlotsSold >= m.MaxSlots {
			return ErrSlotsExhausted
		}

		now := uc.Now()
		next := lead.Clone()
		next.Marketplace.SlotsSold++
		next.UpdatedAt = now

		purchase := &entity.Purchase{
			LeadID:      lead.ID,
			ProviderID:  input.ProviderID,
			Price:       m.PricePerSlot,
			PurchasedAt: now,
		}

		events := []entity.Event{
			entity.NewDomainEvent(entity.EventSlotPurchased, lead.ID, now, leadPayload(next, input.ProviderID)),
		}
		events = append(events, completeIfFull(next, now)...)
		events = append(events, entity.NewAuditEvent(entity.AuditRecord{
			Actor:  input.ProviderID,
			Action: ActionSlotPurchased,
			Target: lead.ID,
			Before: lead.Marketplace,
			After:  next.Marketplace,
			At:     now,
		}))

		err = uc.Leads.Save(ctx, entity.LeadChange{Lead: next, Purchase: purchase, Events: events})
		switch {
		case err == nil:
			receipt = newReceipt(purchase, next, false)
			return nil
		case errors.Is(err, entity.ErrDuplicatePurchase):
			if uncertain {
				landed, ferr := uc.findPurchase(ctx, input.LeadID, input.ProviderID)
				if ferr != nil {
					return ferr
				}
				if landed != nil {
					// Our earlier attempt landed; the next pass returns it.
					return entity.ErrVersionConflict
				}
			}
			return ErrDuplicatePurchase
		case errors.Is(err, entity.ErrTransient):
			uncertain = true
			uc.Logger.Warn("purchase write outcome unknown, retrying",
				zap.String("lead_id", input.LeadID),
				zap.String("provider_id", input.ProviderID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Receipt returns the recorded purchase for (leadID, providerID). Callers use
// it to learn the outcome of a purchase that timed out after submission.
func (uc *PurchaseSlotUseCase) Receipt(ctx context.Context, leadID, providerID string) (*PurchaseReceipt, error) {
	lead, err := loadLead(ctx, uc.Leads, leadID)
	if err != nil {
		return nil, err
	}
	p, err := uc.findPurchase(ctx, leadID, providerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound("purchase")
	}
	return newReceipt(p, lead, false), nil
}

func (uc *PurchaseSlotUseCase) findPurchase(ctx context.Context, leadID, providerID string) (*entity.Purchase, error) {
	p, err := uc.Leads.FindPurchase(ctx, leadID, providerID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find purchase: %w", err)
	}
	return p, nil
}

func newReceipt(p *entity.Purchase, lead *entity.Lead, replayed bool) *PurchaseReceipt {
	return &PurchaseReceipt{
		LeadID:        p.LeadID,
		ProviderID:    p.ProviderID,
		Price:         p.Price,
		PurchasedAt:   p.PurchasedAt,
		SlotsSold:     lead.Marketplace.SlotsSold,
		MaxSlots:      lead.Marketplace.MaxSlots,
		LeadCompleted: lead.Marketplace.Completed(),
		Replayed:      replayed,
	}
}
