package entity

import (
	"context"
	"time"
)

// Provider is the artisan projection read by matching. VisibilityEligible is
// derived from account state owned elsewhere; ActiveEntitlementID is kept in
// step with the entitlement rows by the entitlement repository.
type Provider struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Specialties         []string     `json:"specialties"`
	Coordinates         *Coordinates `json:"coordinates,omitempty"`
	VisibilityEligible  bool         `json:"visibility_eligible"`
	ActiveEntitlementID *string      `json:"active_entitlement_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

func (p *Provider) Premium() bool {
	return p.ActiveEntitlementID != nil
}

func (p *Provider) MatchesAny(specialties []string) bool {
	if len(specialties) == 0 {
		return true
	}
	for _, want := range specialties {
		for _, have := range p.Specialties {
			if want == have {
				return true
			}
		}
	}
	return false
}

type ProviderRepository interface {
	FindByID(ctx context.Context, id string) (*Provider, error)
	// ListVisible returns visibility-eligible providers in insertion order.
	ListVisible(ctx context.Context) ([]*Provider, error)
}
