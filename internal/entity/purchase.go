package entity

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is append-only. (LeadID, ProviderID) is unique.
type Purchase struct {
	LeadID      string          `json:"lead_id"`
	ProviderID  string          `json:"provider_id"`
	Price       decimal.Decimal `json:"price"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

type PurchaseRepository interface {
	FindPurchase(ctx context.Context, leadID, providerID string) (*Purchase, error)
	ListPurchasedLeadIDs(ctx context.Context, providerID string) ([]string, error)
}
