package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// Entitlements exposes the entitlement repository view of the store.
func (s *Store) Entitlements() entity.EntitlementRepository {
	return entitlementView{s}
}

type entitlementView struct{ s *Store }

func (v entitlementView) FindByID(_ context.Context, id string) (*entity.Entitlement, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	e, ok := v.s.entitlements[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return e.Clone(), nil
}

func (v entitlementView) FindActiveByProvider(_ context.Context, providerID string) (*entity.Entitlement, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if e := v.s.activeFor(providerID); e != nil {
		return e.Clone(), nil
	}
	return nil, entity.ErrNotFound
}

func (s *Store) activeFor(providerID string) *entity.Entitlement {
	for _, e := range s.entitlements {
		if e.ProviderID == providerID && e.Status == entity.EntitlementActive {
			return e
		}
	}
	return nil
}

func (v entitlementView) Create(_ context.Context, e *entity.Entitlement, events []entity.Event) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	p, ok := v.s.providers[e.ProviderID]
	if !ok {
		return entity.ErrNotFound
	}
	if v.s.activeFor(e.ProviderID) != nil {
		return entity.ErrActiveEntitlementExists
	}

	v.s.entitlements[e.ID] = e.Clone()
	id := e.ID
	p.ActiveEntitlementID = &id
	v.s.appendEvents(events)
	return nil
}

func (v entitlementView) Transition(_ context.Context, id string, status entity.EntitlementStatus, at time.Time, events entity.EventsFor) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	e, ok := v.s.entitlements[id]
	if !ok {
		return false, entity.ErrNotFound
	}
	if e.Status != entity.EntitlementActive {
		return false, nil
	}

	e.Status = status
	e.UpdatedAt = at
	if p, ok := v.s.providers[e.ProviderID]; ok && p.ActiveEntitlementID != nil && *p.ActiveEntitlementID == id {
		p.ActiveEntitlementID = nil
	}
	if events != nil {
		v.s.appendEvents(events(e.Clone()))
	}
	return true, nil
}

func (v entitlementView) UpdateEndAt(_ context.Context, id string, prevEnd, newEnd time.Time, events []entity.Event) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	e, ok := v.s.entitlements[id]
	if !ok {
		return entity.ErrNotFound
	}
	if e.Status != entity.EntitlementActive || e.EndAt == nil || !e.EndAt.Equal(prevEnd) {
		return entity.ErrVersionConflict
	}
	end := newEnd
	e.EndAt = &end
	e.UpdatedAt = time.Now().UTC()
	v.s.appendEvents(events)
	return nil
}

func (v entitlementView) ListLapsed(_ context.Context, now time.Time, limit int) ([]*entity.Entitlement, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var out []*entity.Entitlement
	for _, e := range v.s.entitlements {
		if e.Lapsed(now) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndAt.Equal(*out[j].EndAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndAt.Before(*out[j].EndAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
