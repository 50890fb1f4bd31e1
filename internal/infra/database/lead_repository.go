package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// LeadRepository stores leads, their purchases and the outbox rows written
// alongside. Save is a compare-and-swap on leads.version.
type LeadRepository struct {
	Pool *pgxpool.Pool
}

func NewLeadRepository(pool *pgxpool.Pool) *LeadRepository {
	return &LeadRepository{Pool: pool}
}

const leadColumns = `id, status, city, postal_code, lat, lng, specialties, is_published,
	price_per_slot::text, max_slots, slots_sold, published_at, completed_at, version, created_at, updated_at`

func (r *LeadRepository) FindByID(ctx context.Context, id string) (*entity.Lead, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return l, nil
}

func (r *LeadRepository) ListOpen(ctx context.Context) ([]*entity.Lead, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+leadColumns+` FROM leads
		WHERE is_published AND completed_at IS NULL
		ORDER BY created_at, id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*entity.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, classify(rows.Err())
}

func (r *LeadRepository) CountAllocations(ctx context.Context, leadID string) (int, error) {
	var n int
	err := r.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT provider_id FROM lead_purchases WHERE lead_id = $1
			UNION
			SELECT provider_id FROM lead_assignments WHERE lead_id = $1
		) holders`, leadID).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r *LeadRepository) Save(ctx context.Context, change entity.LeadChange) error {
	l := change.Lead
	m := l.Marketplace

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE leads SET
			is_published = $3,
			price_per_slot = $4::numeric,
			max_slots = $5,
			slots_sold = $6,
			published_at = $7,
			completed_at = $8,
			updated_at = $9,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		l.ID, l.Version, m.IsPublished, m.PricePerSlot.String(), m.MaxSlots, m.SlotsSold,
		m.PublishedAt, m.CompletedAt, l.UpdatedAt,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, l.ID).Scan(&exists); err != nil {
			return classify(err)
		}
		if !exists {
			return entity.ErrNotFound
		}
		return entity.ErrVersionConflict
	}

	if p := change.Purchase; p != nil {
		// The lead row is locked by the UPDATE above, so this check and the
		// insert see the same holders.
		var assigned bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM lead_assignments WHERE lead_id = $1 AND provider_id = $2)`,
			p.LeadID, p.ProviderID,
		).Scan(&assigned); err != nil {
			return classify(err)
		}
		if assigned {
			return entity.ErrDuplicatePurchase
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO lead_purchases (lead_id, provider_id, price, purchased_at)
			VALUES ($1, $2, $3::numeric, $4)`,
			p.LeadID, p.ProviderID, p.Price.String(), p.PurchasedAt,
		)
		if uniqueViolation(err, "lead_purchases_pkey") {
			return entity.ErrDuplicatePurchase
		}
		if err != nil {
			return classify(err)
		}
	}

	if err := insertEvents(ctx, tx, change.Events); err != nil {
		return err
	}
	if err := commit(ctx, tx); err != nil {
		return err
	}

	l.Version++
	return nil
}

// Assign records an off-marketplace assignment. It is the write side of the
// external admin tooling; nothing in this service assigns leads itself. It is
// a no-op when the provider already holds the lead.
func (r *LeadRepository) Assign(ctx context.Context, leadID, providerID string, at time.Time) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO lead_assignments (lead_id, provider_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (lead_id, provider_id) DO NOTHING`, leadID, providerID, at)
	return classify(err)
}

func (r *LeadRepository) FindPurchase(ctx context.Context, leadID, providerID string) (*entity.Purchase, error) {
	var (
		p     entity.Purchase
		price string
	)
	err := r.Pool.QueryRow(ctx, `
		SELECT lead_id, provider_id, price::text, purchased_at
		FROM lead_purchases WHERE lead_id = $1 AND provider_id = $2`, leadID, providerID,
	).Scan(&p.LeadID, &p.ProviderID, &price, &p.PurchasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse purchase price %q: %w", price, err)
	}
	return &p, nil
}

func (r *LeadRepository) ListPurchasedLeadIDs(ctx context.Context, providerID string) ([]string, error) {
	rows, err := r.Pool.Query(ctx, `SELECT lead_id FROM lead_purchases WHERE provider_id = $1 ORDER BY lead_id`, providerID)
	if err != nil {
		return nil, classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, classify(err)
}

func scanLead(row pgx.Row) (*entity.Lead, error) {
	var (
		l        entity.Lead
		lat, lng *float64
		price    string
	)
	err := row.Scan(
		&l.ID, &l.Status, &l.Location.City, &l.Location.PostalCode, &lat, &lng, &l.Specialties,
		&l.Marketplace.IsPublished, &price, &l.Marketplace.MaxSlots, &l.Marketplace.SlotsSold,
		&l.Marketplace.PublishedAt, &l.Marketplace.CompletedAt, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		l.Location.Coordinates = &entity.Coordinates{Lat: *lat, Lng: *lng}
	}
	if l.Marketplace.PricePerSlot, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse lead price %q: %w", price, err)
	}
	return &l, nil
}
