package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// Repository handles payment-row persistence
type Repository struct{}

// NewRepository creates a new payments repository
func NewRepository() *Repository {
	return &Repository{}
}

// Get loads a payment row by id, nil when absent
func (r *Repository) Get(ctx context.Context, q database.Querier, id uuid.UUID) (*Payment, error) {
	query := `
		SELECT id, payment_resource, data, options, created_at, updated_at
		FROM payments
		WHERE id = $1
	`
	p := &Payment{}
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.PaymentResource, &p.Data, &p.Options, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetForTransaction resolves the payment row behind a transaction's
// payment line, nil when the transaction collected nothing
func (r *Repository) GetForTransaction(ctx context.Context, q database.Querier, transactionID uuid.UUID) (*Payment, error) {
	query := `
		SELECT p.id, p.payment_resource, p.data, p.options, p.created_at, p.updated_at
		FROM payments p
		INNER JOIN transaction_items ti ON ti.item_id = p.id
		WHERE ti.transaction_id = $1 AND ti.item_type = 'payment'
		LIMIT 1
	`
	p := &Payment{}
	err := q.QueryRow(ctx, query, transactionID).Scan(
		&p.ID, &p.PaymentResource, &p.Data, &p.Options, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RecordChargeSuccess stores the captured charge on the payment row
func (r *Repository) RecordChargeSuccess(ctx context.Context, q database.Querier, id uuid.UUID, chargeID string, data ledger.Notes, isMicro bool) error {
	query := `
		UPDATE payments
		SET payment_resource = $2,
			data = $3,
			options = jsonb_set(COALESCE(options, '{}'::jsonb), '{isMicro}', to_jsonb($4::boolean)),
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, id, chargeID, data, isMicro)
	return err
}

// RecordChargeFailure stores the gateway error payload on the payment
// row for operator triage
func (r *Repository) RecordChargeFailure(ctx context.Context, q database.Querier, id uuid.UUID, data ledger.Notes) error {
	query := `
		UPDATE payments
		SET data = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, id, data)
	return err
}
