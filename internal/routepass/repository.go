package routepass

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// Repository handles route-pass persistence
type Repository struct{}

// NewRepository creates a new route-pass repository
func NewRepository() *Repository {
	return &Repository{}
}

// Create inserts a route pass
func (r *Repository) Create(ctx context.Context, q database.Querier, p *RoutePass) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO route_passes (id, user_id, company_id, tag, status, notes, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return q.QueryRow(ctx, query,
		p.ID, p.UserID, p.CompanyID, p.Tag, p.Status, p.Notes, p.ExpiresAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// Get loads a route pass by id, nil when absent
func (r *Repository) Get(ctx context.Context, q database.Querier, id uuid.UUID) (*RoutePass, error) {
	query := `
		SELECT id, user_id, company_id, tag, status, notes, expires_at, created_at, updated_at
		FROM route_passes
		WHERE id = $1
	`
	p := &RoutePass{}
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.CompanyID, &p.Tag, &p.Status, &p.Notes,
		&p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindRedeemable returns up to limit of the user's valid passes for
// the tag and company, oldest first, locked against concurrent
// redemption.
func (r *Repository) FindRedeemable(ctx context.Context, q database.Querier, userID, companyID uuid.UUID, tag string, limit int) ([]*RoutePass, error) {
	query := `
		SELECT id, user_id, company_id, tag, status, notes, expires_at, created_at, updated_at
		FROM route_passes
		WHERE user_id = $1 AND company_id = $2 AND tag = $3 AND status = 'valid'
		ORDER BY created_at ASC
		LIMIT $4
		FOR UPDATE
	`
	rows, err := q.Query(ctx, query, userID, companyID, tag, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RoutePass
	for rows.Next() {
		p := &RoutePass{}
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.CompanyID, &p.Tag, &p.Status, &p.Notes,
			&p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStatus updates the pass status unconditionally. Used by undo
// ops, which must be idempotent.
func (r *Repository) SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status string) error {
	query := `
		UPDATE route_passes
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, id, status)
	return err
}

// SetStatusIf transitions the pass only when its current status is one
// of from; reports whether a row changed.
func (r *Repository) SetStatusIf(ctx context.Context, q database.Querier, id uuid.UUID, from []string, to string) (bool, error) {
	query := `
		UPDATE route_passes
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`
	tag, err := q.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AddDiscountValue accumulates a purchase-time discount onto the
// pass's notes
func (r *Repository) AddDiscountValue(ctx context.Context, q database.Querier, id uuid.UUID, delta float64) error {
	query := `
		UPDATE route_passes
		SET notes = jsonb_set(
				COALESCE(notes, '{}'::jsonb),
				'{discountValue}',
				to_jsonb(ROUND((COALESCE((notes->>'discountValue')::numeric, 0) + $2::numeric), 2))
			),
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, id, delta)
	return err
}

// MarkRefunded transitions the pass to refunded and records the refund
// transaction on its notes. Reports whether the pass was refundable.
func (r *Repository) MarkRefunded(ctx context.Context, q database.Querier, id uuid.UUID, refundTransactionID uuid.UUID) (bool, error) {
	query := `
		UPDATE route_passes
		SET status = 'refunded',
			notes = jsonb_set(COALESCE(notes, '{}'::jsonb), '{refundedTransactionId}', to_jsonb($2::text)),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('valid', 'void', 'expired')
	`
	tag, err := q.Exec(ctx, query, id, refundTransactionID.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExpirePasses flips valid passes whose expiry has lapsed to expired,
// returning the number expired. Run by the ops sweep.
func (r *Repository) ExpirePasses(ctx context.Context, q database.Querier, asOf time.Time) (int64, error) {
	query := `
		UPDATE route_passes
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'valid' AND expires_at IS NOT NULL AND expires_at < $1
	`
	tag, err := q.Exec(ctx, query, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
