package promos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// Repository handles promo-code persistence
type Repository struct{}

// NewRepository creates a new promos repository
func NewRepository() *Repository {
	return &Repository{}
}

// GetByCodeForUpdate loads a promo code case-insensitively and locks
// the row so concurrent redemptions serialize on the usage counter.
// Nil when the code is unknown.
func (r *Repository) GetByCodeForUpdate(ctx context.Context, q database.Querier, code string) (*PromoCode, error) {
	query := `
		SELECT id, code, description, discount_type, discount_value, max_discount_amount,
			   applies_to, valid_from, valid_until, max_uses, uses_count, is_active,
			   created_at, updated_at
		FROM promo_codes
		WHERE UPPER(code) = $1
		FOR UPDATE
	`
	p := &PromoCode{}
	err := q.QueryRow(ctx, query, strings.ToUpper(code)).Scan(
		&p.ID, &p.Code, &p.Description, &p.DiscountType, &p.DiscountValue, &p.MaxDiscountAmount,
		&p.AppliesTo, &p.ValidFrom, &p.ValidUntil, &p.MaxUses, &p.UsesCount, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IncrementUses bumps the usage counter after a successful
// application
func (r *Repository) IncrementUses(ctx context.Context, q database.Querier, id uuid.UUID) error {
	query := `
		UPDATE promo_codes
		SET uses_count = uses_count + 1, updated_at = NOW()
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, id)
	return err
}
