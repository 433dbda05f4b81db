package tickets

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// Repository handles ticket persistence
type Repository struct{}

// NewRepository creates a new tickets repository
func NewRepository() *Repository {
	return &Repository{}
}

// Create inserts a ticket row
func (r *Repository) Create(ctx context.Context, q database.Querier, t *Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	query := `
		INSERT INTO tickets (id, user_id, trip_id, board_stop_id, alight_stop_id, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return q.QueryRow(ctx, query,
		t.ID, t.UserID, t.TripID, t.BoardStopID, t.AlightStopID, t.Status, t.Notes,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// Get loads a ticket by id, nil when absent
func (r *Repository) Get(ctx context.Context, q database.Querier, id uuid.UUID) (*Ticket, error) {
	query := `
		SELECT id, user_id, trip_id, board_stop_id, alight_stop_id, status, notes, created_at, updated_at
		FROM tickets
		WHERE id = $1
	`
	t := &Ticket{}
	err := q.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.UserID, &t.TripID, &t.BoardStopID, &t.AlightStopID,
		&t.Status, &t.Notes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SetStatus updates the ticket status unconditionally. Used by undo
// ops, which must be idempotent.
func (r *Repository) SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status string) error {
	query := `
		UPDATE tickets
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, id, status)
	return err
}

// SetStatusIf transitions the ticket only when its current status is
// one of from; reports whether a row changed.
func (r *Repository) SetStatusIf(ctx context.Context, q database.Querier, id uuid.UUID, from []string, to string) (bool, error) {
	query := `
		UPDATE tickets
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`
	tag, err := q.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindActiveForTrip returns the user's valid or pending tickets on a
// trip, for the duplicate-booking check
func (r *Repository) FindActiveForTrip(ctx context.Context, q database.Querier, userID, tripID uuid.UUID) ([]*Ticket, error) {
	query := `
		SELECT id, user_id, trip_id, board_stop_id, alight_stop_id, status, notes, created_at, updated_at
		FROM tickets
		WHERE user_id = $1 AND trip_id = $2 AND status IN ('valid', 'pending')
	`
	rows, err := q.Query(ctx, query, userID, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t := &Ticket{}
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.TripID, &t.BoardStopID, &t.AlightStopID,
			&t.Status, &t.Notes, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddDiscountValue accumulates a sale-time discount onto the ticket's
// notes so refund math can subtract it later
func (r *Repository) AddDiscountValue(ctx context.Context, q database.Querier, id uuid.UUID, delta float64) error {
	query := `
		UPDATE tickets
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

// MarkRefunded transitions the ticket to refunded and records the
// refund transaction on its notes. Reports whether the ticket was in
// a refundable state.
func (r *Repository) MarkRefunded(ctx context.Context, q database.Querier, id uuid.UUID, refundTransactionID uuid.UUID) (bool, error) {
	query := `
		UPDATE tickets
		SET status = $3,
			notes = jsonb_set(COALESCE(notes, '{}'::jsonb), '{refundedTransactionId}', to_jsonb($2::text)),
			updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`
	tag, err := q.Exec(ctx, query, id, refundTransactionID.String(), StatusRefunded, StatusValid, StatusVoid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
