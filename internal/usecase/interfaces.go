package usecase

import (
	"context"
	"time"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// Clock returns the current time. Usecases stamp every transition with it.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

// LocationResolver turns free text into coordinates; geo.Index implements it.
type LocationResolver interface {
	Geocode(ctx context.Context, freeText string) (entity.Coordinates, error)
}

// LeadStore is everything the lead usecases need from storage.
type LeadStore interface {
	entity.LeadRepository
	entity.PurchaseRepository
}

const (
	SystemActor = "system:sweeper"

	ActionMarketplaceConfigured = "lead.marketplace_configured"
	ActionAllocationsSynced     = "lead.allocations_synced"
	ActionSlotPurchased         = "lead.slot_purchased"
	ActionEntitlementGranted    = "entitlement.granted"
	ActionEntitlementRevoked    = "entitlement.revoked"
	ActionEntitlementExtended   = "entitlement.extended"
	ActionEntitlementExpired    = "entitlement.expired"
)
