package memory

import (
	"context"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

func (s *Store) FindProvider(_ context.Context, id string) (*entity.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return cloneProvider(p), nil
}

func (s *Store) ListVisible(_ context.Context) ([]*entity.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Provider, 0, len(s.providerOrder))
	for _, id := range s.providerOrder {
		if p := s.providers[id]; p.VisibilityEligible {
			out = append(out, cloneProvider(p))
		}
	}
	return out, nil
}

func cloneProvider(p *entity.Provider) *entity.Provider {
	c := *p
	c.Specialties = append([]string(nil), p.Specialties...)
	if p.Coordinates != nil {
		coords := *p.Coordinates
		c.Coordinates = &coords
	}
	if p.ActiveEntitlementID != nil {
		id := *p.ActiveEntitlementID
		c.ActiveEntitlementID = &id
	}
	return &c
}

// Providers exposes the provider repository view of the store; the lead
// repository already owns FindByID.
func (s *Store) Providers() entity.ProviderRepository {
	return providerView{s}
}

type providerView struct{ s *Store }

func (v providerView) FindByID(ctx context.Context, id string) (*entity.Provider, error) {
	return v.s.FindProvider(ctx, id)
}

func (v providerView) ListVisible(ctx context.Context) ([]*entity.Provider, error) {
	return v.s.ListVisible(ctx)
}
