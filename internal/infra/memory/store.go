// Package memory is an in-process implementation of the storage contracts.
// Every mutation runs under one lock, which gives the same per-entity
// atomicity the Postgres store gets from transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

type purchaseKey struct {
	leadID     string
	providerID string
}

type Store struct {
	mu            sync.RWMutex
	leads         map[string]*entity.Lead
	purchases     map[purchaseKey]*entity.Purchase
	assignments   map[purchaseKey]time.Time
	providers     map[string]*entity.Provider
	providerOrder []string
	entitlements  map[string]*entity.Entitlement
	outbox        []*entity.OutboxRecord
}

var (
	_ entity.LeadRepository        = (*Store)(nil)
	_ entity.PurchaseRepository    = (*Store)(nil)
	_ entity.OutboxRepository      = (*Store)(nil)
	_ entity.ProviderRepository    = providerView{}
	_ entity.EntitlementRepository = entitlementView{}
)

func NewStore() *Store {
	return &Store{
		leads:        make(map[string]*entity.Lead),
		purchases:    make(map[purchaseKey]*entity.Purchase),
		assignments:  make(map[purchaseKey]time.Time),
		providers:    make(map[string]*entity.Provider),
		entitlements: make(map[string]*entity.Entitlement),
	}
}

// PutLead inserts or replaces a lead as the intake flow would.
func (s *Store) PutLead(l *entity.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := l.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.leads[l.ID] = c
}

// PutProvider inserts or replaces a provider, keeping first-insert order.
func (s *Store) PutProvider(p *entity.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.ID]; !ok {
		s.providerOrder = append(s.providerOrder, p.ID)
	}
	s.providers[p.ID] = cloneProvider(p)
}

// Assign records an off-marketplace assignment made by an administrator.
func (s *Store) Assign(leadID, providerID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[purchaseKey{leadID, providerID}] = at
}

func (s *Store) FindByID(_ context.Context, id string) (*entity.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *Store) ListOpen(_ context.Context) ([]*entity.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		if l.Open() {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CountAllocations(_ context.Context, leadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	holders := make(map[string]bool)
	for k := range s.purchases {
		if k.leadID == leadID {
			holders[k.providerID] = true
		}
	}
	for k := range s.assignments {
		if k.leadID == leadID {
			holders[k.providerID] = true
		}
	}
	return len(holders), nil
}

func (s *Store) Save(_ context.Context, change entity.LeadChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := change.Lead
	cur, ok := s.leads[next.ID]
	if !ok {
		return entity.ErrNotFound
	}
	if cur.Version != next.Version {
		return entity.ErrVersionConflict
	}
	if err := checkLead(next); err != nil {
		return err
	}

	var key purchaseKey
	if change.Purchase != nil {
		key = purchaseKey{change.Purchase.LeadID, change.Purchase.ProviderID}
		if _, dup := s.purchases[key]; dup {
			return entity.ErrDuplicatePurchase
		}
		if _, held := s.assignments[key]; held {
			return entity.ErrDuplicatePurchase
		}
	}

	stored := next.Clone()
	stored.Version = cur.Version + 1
	s.leads[next.ID] = stored
	next.Version = stored.Version

	if change.Purchase != nil {
		p := *change.Purchase
		s.purchases[key] = &p
	}
	s.appendEvents(change.Events)
	return nil
}

// checkLead mirrors the table constraints of the Postgres schema.
func checkLead(l *entity.Lead) error {
	m := l.Marketplace
	if m.SlotsSold < 0 || m.SlotsSold > m.MaxSlots {
		return fmt.Errorf("lead %s: slots_sold %d outside [0, %d]", l.ID, m.SlotsSold, m.MaxSlots)
	}
	if m.IsPublished && !m.Configured() {
		return fmt.Errorf("lead %s: published without price and slots", l.ID)
	}
	return nil
}

func (s *Store) FindPurchase(_ context.Context, leadID, providerID string) (*entity.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.purchases[purchaseKey{leadID, providerID}]
	if !ok {
		return nil, entity.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) ListPurchasedLeadIDs(_ context.Context, providerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for k := range s.purchases {
		if k.providerID == providerID {
			ids = append(ids, k.leadID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Purchases returns every purchase of a lead, oldest first.
func (s *Store) Purchases(leadID string) []entity.Purchase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.Purchase
	for k, p := range s.purchases {
		if k.leadID == leadID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.Before(out[j].PurchasedAt) })
	return out
}
