package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// EntitlementRepository keeps entitlement rows and the providers
// projection in step. The partial unique index on active rows is the
// single-active guarantee; every status change is conditional on the row
// still being active.
type EntitlementRepository struct {
	Pool *pgxpool.Pool
}

func NewEntitlementRepository(pool *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{Pool: pool}
}

const entitlementColumns = `id, provider_id, kind, status, start_at, end_at, features, created_at, updated_at`

func (r *EntitlementRepository) FindByID(ctx context.Context, id string) (*entity.Entitlement, error) {
	return r.findOne(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE id = $1`, id)
}

func (r *EntitlementRepository) FindActiveByProvider(ctx context.Context, providerID string) (*entity.Entitlement, error) {
	return r.findOne(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE provider_id = $1 AND status = 'active'`, providerID)
}

func (r *EntitlementRepository) findOne(ctx context.Context, query string, arg string) (*entity.Entitlement, error) {
	e, err := scanEntitlement(r.Pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

func (r *EntitlementRepository) Create(ctx context.Context, e *entity.Entitlement, events []entity.Event) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)`, e.ProviderID).Scan(&exists); err != nil {
		return classify(err)
	}
	if !exists {
		return entity.ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO entitlements (id, provider_id, kind, status, start_at, end_at, features, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ProviderID, string(e.Kind), string(e.Status), e.StartAt, e.EndAt, featureStrings(e.Features), e.CreatedAt, e.UpdatedAt,
	)
	if uniqueViolation(err, "entitlements_one_active_idx") {
		return entity.ErrActiveEntitlementExists
	}
	if err != nil {
		return classify(err)
	}

	if _, err := tx.Exec(ctx, `UPDATE providers SET active_entitlement_id = $2 WHERE id = $1`, e.ProviderID, e.ID); err != nil {
		return classify(err)
	}
	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return commit(ctx, tx)
}

func (r *EntitlementRepository) Transition(ctx context.Context, id string, status entity.EntitlementStatus, at time.Time, events entity.EventsFor) (bool, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	e, err := scanEntitlement(tx.QueryRow(ctx, `
		UPDATE entitlements SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'
		RETURNING `+entitlementColumns, id, string(status), at))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entitlements WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, classify(err)
		}
		if !exists {
			return false, entity.ErrNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE providers SET active_entitlement_id = NULL
		WHERE id = $1 AND active_entitlement_id = $2`, e.ProviderID, e.ID); err != nil {
		return false, classify(err)
	}
	if events != nil {
		if err := insertEvents(ctx, tx, events(e)); err != nil {
			return false, err
		}
	}
	if err := commit(ctx, tx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *EntitlementRepository) UpdateEndAt(ctx context.Context, id string, prevEnd, newEnd time.Time, events []entity.Event) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE entitlements SET end_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND end_at = $2`, id, prevEnd, newEnd)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entitlements WHERE id = $1)`, id).Scan(&exists); err != nil {
			return classify(err)
		}
		if !exists {
			return entity.ErrNotFound
		}
		return entity.ErrVersionConflict
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return commit(ctx, tx)
}

func (r *EntitlementRepository) ListLapsed(ctx context.Context, now time.Time, limit int) ([]*entity.Entitlement, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+entitlementColumns+` FROM entitlements
		WHERE status = 'active' AND end_at IS NOT NULL AND end_at <= $1
		ORDER BY end_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*entity.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}

func scanEntitlement(row pgx.Row) (*entity.Entitlement, error) {
	var (
		e        entity.Entitlement
		kind     string
		status   string
		features []string
	)
	if err := row.Scan(&e.ID, &e.ProviderID, &kind, &status, &e.StartAt, &e.EndAt, &features, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Kind = entity.EntitlementKind(kind)
	e.Status = entity.EntitlementStatus(status)
	e.Features = make([]entity.Feature, 0, len(features))
	for _, f := range features {
		e.Features = append(e.Features, entity.Feature(f))
	}
	return &e, nil
}

func featureStrings(features []entity.Feature) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		out = append(out, string(f))
	}
	return out
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
