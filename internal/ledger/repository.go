package ledger

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// Internal account names referenced by account items
const (
	AccountCOGS            = "Cost of Goods Sold"
	AccountUpstreamRefunds = "Upstream Refunds"
)

// Repository handles transaction and line-item persistence. Methods
// take a database.Querier so they run inside whichever transaction the
// calling workflow opened.
type Repository struct{}

// NewRepository creates a new ledger repository
func NewRepository() *Repository {
	return &Repository{}
}

// ========================================
// TRANSACTION PERSISTENCE
// ========================================

// CreateTransaction inserts the transaction row (items are inserted
// separately once their itemIds are resolved)
func (r *Repository) CreateTransaction(ctx context.Context, q database.Querier, t *Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	createdBy, _ := json.Marshal(t.CreatedBy)

	query := `
		INSERT INTO transactions (id, type, committed, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	return q.QueryRow(ctx, query, t.ID, t.Type, t.Committed, t.Description, createdBy).Scan(&t.CreatedAt)
}

// CreateItems inserts all line items for a transaction
func (r *Repository) CreateItems(ctx context.Context, q database.Querier, items []*Item) error {
	query := `
		INSERT INTO transaction_items (id, transaction_id, item_type, item_id, debit, credit, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		_, err := q.Exec(ctx, query,
			item.ID, item.TransactionID, item.ItemType, item.ItemID,
			nullIfZero(item.Debit), nullIfZero(item.Credit), item.Notes,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// SetCommitted flips the committed flag when it currently matches
// expect; reports whether a row changed.
func (r *Repository) SetCommitted(ctx context.Context, q database.Querier, id uuid.UUID, committed, expect bool) (bool, error) {
	query := `
		UPDATE transactions
		SET committed = $2
		WHERE id = $1 AND committed = $3
	`
	tag, err := q.Exec(ctx, query, id, committed, expect)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ========================================
// COUNTERPARTY ROWS
// ========================================

// CreatePayment inserts an empty gateway payment record; chargeSale
// fills it in after the gateway call.
func (r *Repository) CreatePayment(ctx context.Context, q database.Querier, options Notes) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO payments (id, payment_resource, data, options, created_at, updated_at)
		VALUES ($1, NULL, '{}'::jsonb, $2, NOW(), NOW())
	`
	if _, err := q.Exec(ctx, query, id, options); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// CreateTransfer inserts the company settlement record referenced by a
// transfer item
func (r *Repository) CreateTransfer(ctx context.Context, q database.Querier, companyID uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO transfers (id, transport_company_id, created_at)
		VALUES ($1, $2, NOW())
	`
	if _, err := q.Exec(ctx, query, id, companyID); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// EnsureAccount returns the id of the named internal account, creating
// it on first use.
func (r *Repository) EnsureAccount(ctx context.Context, q database.Querier, name string) (uuid.UUID, error) {
	query := `
		INSERT INTO accounts (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	var id uuid.UUID
	if err := q.QueryRow(ctx, query, uuid.New(), name).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ========================================
// LOOKUPS
// ========================================

// GetTransaction loads a transaction with its items, or nil when absent
func (r *Repository) GetTransaction(ctx context.Context, q database.Querier, id uuid.UUID) (*Transaction, error) {
	query := `
		SELECT id, type, committed, description, created_by, created_at
		FROM transactions
		WHERE id = $1
	`
	t := &Transaction{}
	var createdBy []byte
	err := q.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Type, &t.Committed, &t.Description, &createdBy, &t.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(createdBy, &t.CreatedBy)

	items, err := r.GetItems(ctx, q, t.ID)
	if err != nil {
		return nil, err
	}
	t.Items = items
	return t, nil
}

// GetItems loads the line items of a transaction in insertion order
func (r *Repository) GetItems(ctx context.Context, q database.Querier, transactionID uuid.UUID) ([]*Item, error) {
	query := `
		SELECT id, transaction_id, item_type, item_id,
			   COALESCE(debit, 0), COALESCE(credit, 0), notes
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := q.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item := &Item{}
		if err := rows.Scan(
			&item.ID, &item.TransactionID, &item.ItemType, &item.ItemID,
			&item.Debit, &item.Credit, &item.Notes,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetSaleItemForTicket returns the ticketSale item that sold the
// ticket, restricted to committed transactions. Nil when the ticket
// was never sold.
func (r *Repository) GetSaleItemForTicket(ctx context.Context, q database.Querier, ticketID uuid.UUID) (*Item, error) {
	query := `
		SELECT ti.id, ti.transaction_id, ti.item_type, ti.item_id,
			   COALESCE(ti.debit, 0), COALESCE(ti.credit, 0), ti.notes
		FROM transaction_items ti
		INNER JOIN transactions t ON t.id = ti.transaction_id
		WHERE ti.item_type = 'ticketSale'
		  AND ti.item_id = $1
		  AND t.committed = TRUE
		ORDER BY t.created_at DESC
		LIMIT 1
	`
	item := &Item{}
	err := q.QueryRow(ctx, query, ticketID).Scan(
		&item.ID, &item.TransactionID, &item.ItemType, &item.ItemID,
		&item.Debit, &item.Credit, &item.Notes,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetPurchaseItemForRoutePass returns the credit item that sold the
// pass, restricted to committed transactions.
func (r *Repository) GetPurchaseItemForRoutePass(ctx context.Context, q database.Querier, passID uuid.UUID) (*Item, error) {
	query := `
		SELECT ti.id, ti.transaction_id, ti.item_type, ti.item_id,
			   COALESCE(ti.debit, 0), COALESCE(ti.credit, 0), ti.notes
		FROM transaction_items ti
		INNER JOIN transactions t ON t.id = ti.transaction_id
		WHERE ti.item_type = 'routePass'
		  AND ti.item_id = $1
		  AND COALESCE(ti.credit, 0) > 0
		  AND t.committed = TRUE
		ORDER BY t.created_at DESC
		LIMIT 1
	`
	item := &Item{}
	err := q.QueryRow(ctx, query, passID).Scan(
		&item.ID, &item.TransactionID, &item.ItemType, &item.ItemID,
		&item.Debit, &item.Credit, &item.Notes,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// SumRefundsForTicket totals prior refund debits against a ticket in
// committed transactions
func (r *Repository) SumRefundsForTicket(ctx context.Context, q database.Querier, ticketID uuid.UUID) (float64, error) {
	query := `
		SELECT COALESCE(SUM(ti.debit), 0)
		FROM transaction_items ti
		INNER JOIN transactions t ON t.id = ti.transaction_id
		WHERE ti.item_type = 'ticketRefund'
		  AND ti.item_id = $1
		  AND t.committed = TRUE
	`
	var sum float64
	if err := q.QueryRow(ctx, query, ticketID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// HasRefundForRoutePass reports whether the pass already carries a
// refund debit in a committed transaction
func (r *Repository) HasRefundForRoutePass(ctx context.Context, q database.Querier, passID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM transaction_items ti
			INNER JOIN transactions t ON t.id = ti.transaction_id
			WHERE ti.item_type = 'routePass'
			  AND ti.item_id = $1
			  AND COALESCE(ti.debit, 0) > 0
			  AND t.committed = TRUE
		)
	`
	var exists bool
	if err := q.QueryRow(ctx, query, passID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// nullIfZero maps a zero amount to SQL NULL so the unused side of a
// line item stays null rather than 0.00
func nullIfZero(amount float64) any {
	if amount == 0 {
		return nil
	}
	return amount
}
