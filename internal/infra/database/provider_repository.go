package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

type ProviderRepository struct {
	Pool *pgxpool.Pool
}

func NewProviderRepository(pool *pgxpool.Pool) *ProviderRepository {
	return &ProviderRepository{Pool: pool}
}

const providerColumns = `id, name, specialties, lat, lng, visibility_eligible, active_entitlement_id, created_at`

func (r *ProviderRepository) FindByID(ctx context.Context, id string) (*entity.Provider, error) {
	p, err := scanProvider(r.Pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

func (r *ProviderRepository) ListVisible(ctx context.Context) ([]*entity.Provider, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+providerColumns+` FROM providers WHERE visibility_eligible ORDER BY seq`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*entity.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, classify(rows.Err())
}

// Upsert writes the projection fields owned by the external account service,
// which is its only caller. The active entitlement pointer is left to the
// entitlement repository.
func (r *ProviderRepository) Upsert(ctx context.Context, p *entity.Provider) error {
	var lat, lng *float64
	if p.Coordinates != nil {
		lat, lng = &p.Coordinates.Lat, &p.Coordinates.Lng
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO providers (id, name, specialties, lat, lng, visibility_eligible, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			specialties = EXCLUDED.specialties,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			visibility_eligible = EXCLUDED.visibility_eligible`,
		p.ID, p.Name, p.Specialties, lat, lng, p.VisibilityEligible, nullTime(p.CreatedAt),
	)
	return classify(err)
}

func scanProvider(row pgx.Row) (*entity.Provider, error) {
	var (
		p        entity.Provider
		lat, lng *float64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Specialties, &lat, &lng, &p.VisibilityEligible, &p.ActiveEntitlementID, &p.CreatedAt); err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p.Coordinates = &entity.Coordinates{Lat: *lat, Lng: *lng}
	}
	return &p, nil
}
