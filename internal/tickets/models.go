package tickets

import (
	"time"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
)

// Ticket lifecycle states
const (
	StatusPending  = "pending"
	StatusValid    = "valid"
	StatusVoid     = "void"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
)

// Ticket is one seat on one trip. Created pending during a sale,
// flipped to valid when the sale transaction commits, and to failed or
// refunded by the recovery and refund workflows.
type Ticket struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	UserID       uuid.UUID    `json:"user_id" db:"user_id"`
	TripID       uuid.UUID    `json:"trip_id" db:"trip_id"`
	BoardStopID  uuid.UUID    `json:"board_stop_id" db:"board_stop_id"`
	AlightStopID uuid.UUID    `json:"alight_stop_id" db:"alight_stop_id"`
	Status       string       `json:"status" db:"status"`
	Notes        ledger.Notes `json:"notes" db:"notes"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// DiscountValue reads the cumulative discount applied at sale time
func (t *Ticket) DiscountValue() float64 {
	return t.Notes.Float(ledger.NoteDiscountValue)
}

// Refundable reports whether the ticket is in a state a refund may
// start from
func (t *Ticket) Refundable() bool {
	return t.Status == StatusValid || t.Status == StatusVoid
}
