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

const DowngradeIncompleteConfig = "published=false due to incomplete config"

type SetMarketplaceConfigInput struct {
	LeadID   string          `json:"-"`
	Actor    string          `json:"-"`
	Price    decimal.Decimal `json:"price"`
	MaxSlots int             `json:"max_slots"`
	Publish  bool            `json:"publish"`
}

// MarketplaceOutput is the resulting marketplace state. Downgraded is set
// when a publish request was overridden because price or max slots is zero.
type MarketplaceOutput struct {
	LeadID          string             `json:"lead_id"`
	Marketplace     entity.Marketplace `json:"marketplace"`
	Downgraded      bool               `json:"downgraded"`
	DowngradeReason string             `json:"downgrade_reason,omitempty"`
}

type SetMarketplaceConfigUseCase struct {
	Leads  entity.LeadRepository
	Retry  RetryPolicy
	Now    Clock
	Logger *zap.Logger
}

func NewSetMarketplaceConfigUseCase(leads entity.LeadRepository, retry RetryPolicy, logger *zap.Logger) *SetMarketplaceConfigUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SetMarketplaceConfigUseCase{Leads: leads, Retry: retry, Now: SystemClock, Logger: logger}
}

func (uc *SetMarketplaceConfigUseCase) Execute(ctx context.Context, input SetMarketplaceConfigInput) (*MarketplaceOutput, error) {
	if errs := ValidateMarketplaceConfigInput(input); len(errs) > 0 {
		return nil, invalidConfiguration(errs)
	}

	var output *MarketplaceOutput
	err := uc.Retry.Do(ctx, func(int) error {
		lead, err := loadLead(ctx, uc.Leads, input.LeadID)
		if err != nil {
			return err
		}

		now := uc.Now()
		next := lead.Clone()
		m := &next.Marketplace

		if m.Completed() && input.MaxSlots != m.MaxSlots {
			return &DomainError{Code: CodeInvalidConfiguration, Message: "max_slots: cannot change on a completed lead"}
		}
		if input.MaxSlots < m.SlotsSold {
			return &DomainError{Code: CodeInvalidConfiguration, Message: fmt.Sprintf("max_slots: %d slots already sold", m.SlotsSold)}
		}

		m.PricePerSlot = input.Price
		m.MaxSlots = input.MaxSlots

		publish := input.Publish
		downgraded := false
		if publish && !m.Configured() {
			publish = false
			downgraded = true
		}

		var events []entity.Event
		switch {
		case publish && !lead.Marketplace.IsPublished:
			allocated, err := uc.Leads.CountAllocations(ctx, lead.ID)
			if err != nil {
				return fmt.Errorf("count allocations: %w", err)
			}
			if allocated > m.MaxSlots {
				return &DomainError{Code: CodeInvalidConfiguration, Message: fmt.Sprintf("max_slots: %d providers already hold this lead", allocated)}
			}
			if allocated > m.SlotsSold {
				m.SlotsSold = allocated
			}
			m.IsPublished = true
			m.PublishedAt = &now
			events = append(events, entity.NewDomainEvent(entity.EventLeadPublished, lead.ID, now, leadPayload(next, "")))
		case !publish && lead.Marketplace.IsPublished:
			m.IsPublished = false
			m.PublishedAt = nil
			events = append(events, entity.NewDomainEvent(entity.EventLeadUnpublished, lead.ID, now, leadPayload(next, "")))
		}

		events = append(events, completeIfFull(next, now)...)

		output = &MarketplaceOutput{LeadID: lead.ID, Marketplace: next.Marketplace, Downgraded: downgraded}
		if downgraded {
			output.DowngradeReason = DowngradeIncompleteConfig
		}

		if sameMarketplace(lead.Marketplace, next.Marketplace) {
			return nil
		}

		next.UpdatedAt = now
		events = append(events, entity.NewAuditEvent(entity.AuditRecord{
			Actor:  input.Actor,
			Action: ActionMarketplaceConfigured,
			Target: lead.ID,
			Before: lead.Marketplace,
			After:  next.Marketplace,
			At:     now,
		}))
		return uc.Leads.Save(ctx, entity.LeadChange{Lead: next, Events: events})
	})
	if err != nil {
		return nil, err
	}

	if output.Downgraded {
		uc.Logger.Info("publish request downgraded",
			zap.String("lead_id", input.LeadID),
			zap.String("price", input.Price.String()),
			zap.Int("max_slots", input.MaxSlots),
		)
	}
	return output, nil
}

type SyncAllocationsInput struct {
	LeadID string `json:"-"`
	Actor  string `json:"-"`
}

// SyncAllocationsUseCase folds off-marketplace assignments into SlotsSold.
// Re-running it without new assignments changes nothing.
type SyncAllocationsUseCase struct {
	Leads entity.LeadRepository
	Retry RetryPolicy
	Now   Clock
}

func NewSyncAllocationsUseCase(leads entity.LeadRepository, retry RetryPolicy) *SyncAllocationsUseCase {
	return &SyncAllocationsUseCase{Leads: leads, Retry: retry, Now: SystemClock}
}

func (uc *SyncAllocationsUseCase) Execute(ctx context.Context, input SyncAllocationsInput) (*MarketplaceOutput, error) {
	var output *MarketplaceOutput
	err := uc.Retry.Do(ctx, func(int) error {
		lead, err := loadLead(ctx, uc.Leads, input.LeadID)
		if err != nil {
			return err
		}

		allocated, err := uc.Leads.CountAllocations(ctx, lead.ID)
		if err != nil {
			return fmt.Errorf("count allocations: %w", err)
		}

		output = &MarketplaceOutput{LeadID: lead.ID, Marketplace: lead.Marketplace}
		if allocated <= lead.Marketplace.SlotsSold {
			return nil
		}
		if allocated > lead.Marketplace.MaxSlots {
			return &DomainError{Code: CodeInvalidConfiguration, Message: fmt.Sprintf("max_slots: %d providers already hold this lead", allocated)}
		}

		now := uc.Now()
		next := lead.Clone()
		next.Marketplace.SlotsSold = allocated
		next.UpdatedAt = now

		events := completeIfFull(next, now)
		events = append(events, entity.NewAuditEvent(entity.AuditRecord{
			Actor:  input.Actor,
			Action: ActionAllocationsSynced,
			Target: lead.ID,
			Before: lead.Marketplace,
			After:  next.Marketplace,
			At:     now,
		}))

		if err := uc.Leads.Save(ctx, entity.LeadChange{Lead: next, Events: events}); err != nil {
			return err
		}
		output.Marketplace = next.Marketplace
		return nil
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

// completeIfFull stamps completion the first time SlotsSold reaches MaxSlots.
func completeIfFull(l *entity.Lead, now time.Time) []entity.Event {
	m := &l.Marketplace
	if m.Completed() || m.MaxSlots == 0 || m.SlotsSold < m.MaxSlots {
		return nil
	}
	m.CompletedAt = &now
	return []entity.Event{entity.NewDomainEvent(entity.EventLeadCompleted, l.ID, now, leadPayload(l, ""))}
}

func loadLead(ctx context.Context, leads entity.LeadRepository, id string) (*entity.Lead, error) {
	lead, err := leads.FindByID(ctx, id)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, notFound("lead")
	}
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}
	return lead, nil
}

func sameMarketplace(a, b entity.Marketplace) bool {
	return a.IsPublished == b.IsPublished &&
		a.PricePerSlot.Equal(b.PricePerSlot) &&
		a.MaxSlots == b.MaxSlots &&
		a.SlotsSold == b.SlotsSold &&
		sameTime(a.PublishedAt, b.PublishedAt) &&
		sameTime(a.CompletedAt, b.CompletedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
