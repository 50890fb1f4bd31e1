package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/xavierca1/lead-marketplace/internal/entity"
	"github.com/xavierca1/lead-marketplace/internal/geo"
)

const (
	DefaultPageSize      = 20
	MaxPageSize          = 100
	DefaultListingRadius = 50.0
)

type FindLeadsInput struct {
	ProviderID  string   `json:"-"`
	RadiusKm    float64  `json:"radius_km"`
	Specialties []string `json:"specialties"`
}

type RankedLead struct {
	Lead       *entity.Lead `json:"lead"`
	DistanceKm *float64     `json:"distance_km,omitempty"`
}

// FindLeadsForProviderUseCase surfaces purchasable leads to a provider,
// nearest first. Reads may be slightly stale; capacity is only ever decided
// by PurchaseSlotUseCase.
type FindLeadsForProviderUseCase struct {
	Leads     LeadStore
	Providers entity.ProviderRepository
}

func NewFindLeadsForProviderUseCase(leads LeadStore, providers entity.ProviderRepository) *FindLeadsForProviderUseCase {
	return &FindLeadsForProviderUseCase{Leads: leads, Providers: providers}
}

func (uc *FindLeadsForProviderUseCase) Execute(ctx context.Context, input FindLeadsInput) ([]RankedLead, error) {
	if input.RadiusKm < 0 {
		return nil, invalidConfiguration([]ValidationError{{"radius_km", "must not be negative"}})
	}

	provider, err := uc.Providers.FindByID(ctx, input.ProviderID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, notFound("provider")
	}
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	open, err := uc.Leads.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open leads: %w", err)
	}
	purchasedIDs, err := uc.Leads.ListPurchasedLeadIDs(ctx, provider.ID)
	if err != nil {
		return nil, fmt.Errorf("list purchased leads: %w", err)
	}
	purchased := make(map[string]bool, len(purchasedIDs))
	for _, id := range purchasedIDs {
		purchased[id] = true
	}

	eligible := make([]*entity.Lead, 0, len(open))
	for _, l := range open {
		if !l.Open() || purchased[l.ID] || !l.MatchesAny(input.Specialties) {
			continue
		}
		eligible = append(eligible, l)
	}

	var placed []geo.Placed[*entity.Lead]
	if provider.Coordinates != nil {
		radius := input.RadiusKm
		if radius == 0 {
			radius = math.Inf(1)
		}
		placed = geo.Filter(eligible, geo.LeadCoordinates, *provider.Coordinates, radius)
	} else {
		placed = make([]geo.Placed[*entity.Lead], 0, len(eligible))
		for _, l := range eligible {
			placed = append(placed, geo.Placed[*entity.Lead]{Item: l})
		}
	}

	sort.SliceStable(placed, func(i, j int) bool {
		a, b := placed[i], placed[j]
		switch {
		case a.DistanceKm != nil && b.DistanceKm != nil:
			if *a.DistanceKm != *b.DistanceKm {
				return *a.DistanceKm < *b.DistanceKm
			}
		case a.DistanceKm != nil:
			return true
		case b.DistanceKm != nil:
			return false
		}
		return recency(a.Item).After(recency(b.Item))
	})

	out := make([]RankedLead, 0, len(placed))
	for _, p := range placed {
		out = append(out, RankedLead{Lead: p.Item, DistanceKm: p.DistanceKm})
	}
	return out, nil
}

func recency(l *entity.Lead) time.Time {
	if l.Marketplace.PublishedAt != nil {
		return *l.Marketplace.PublishedAt
	}
	return l.CreatedAt
}

type FindProvidersInput struct {
	Specialties []string            `json:"specialties"`
	Location    string              `json:"location"`
	Near        *entity.Coordinates `json:"near,omitempty"`
	RadiusKm    float64             `json:"radius_km"`
	Page        int                 `json:"page"`
	PageSize    int                 `json:"page_size"`
}

func (in FindProvidersInput) filtered() bool {
	return len(in.Specialties) > 0 || in.Location != "" || in.Near != nil
}

type FindProvidersOutput struct {
	Providers  []*entity.Provider `json:"providers"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
}

// FindProvidersForListingUseCase lists visible providers, premium first. When
// the caller filtered by location or specialty the order inside each group
// is shuffled per request so no provider is permanently favoured.
type FindProvidersForListingUseCase struct {
	Providers entity.ProviderRepository
	Geo       LocationResolver
	Shuffle   func(n int, swap func(i, j int))
}

func NewFindProvidersForListingUseCase(providers entity.ProviderRepository, resolver LocationResolver) *FindProvidersForListingUseCase {
	return &FindProvidersForListingUseCase{Providers: providers, Geo: resolver, Shuffle: rand.Shuffle}
}

func (uc *FindProvidersForListingUseCase) Execute(ctx context.Context, input FindProvidersInput) (*FindProvidersOutput, error) {
	if errs := ValidateListingInput(input); len(errs) > 0 {
		return nil, invalidConfiguration(errs)
	}
	page := input.Page
	if page < 1 {
		page = 1
	}
	pageSize := input.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	origin := input.Near
	if input.Location != "" {
		if uc.Geo == nil {
			return nil, notFound("location")
		}
		coords, err := uc.Geo.Geocode(ctx, input.Location)
		if errors.Is(err, entity.ErrNotFound) {
			return nil, notFound("location")
		}
		if err != nil {
			return nil, fmt.Errorf("geocode listing location: %w", err)
		}
		origin = &coords
	}

	visible, err := uc.Providers.ListVisible(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	candidates := make([]*entity.Provider, 0, len(visible))
	for _, p := range visible {
		if p.VisibilityEligible && p.MatchesAny(input.Specialties) {
			candidates = append(candidates, p)
		}
	}

	if origin != nil {
		radius := input.RadiusKm
		if radius == 0 {
			radius = DefaultListingRadius
		}
		placed := geo.Filter(candidates, geo.ProviderCoordinates, *origin, radius)
		candidates = candidates[:0]
		for _, p := range placed {
			candidates = append(candidates, p.Item)
		}
	}

	if input.filtered() && uc.Shuffle != nil {
		uc.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Premium() && !candidates[j].Premium()
	})

	total := len(candidates)
	start := total
	if page-1 <= total/pageSize {
		start = min((page-1)*pageSize, total)
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return &FindProvidersOutput{
		Providers:  candidates[start:end],
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}
