package routepass

import (
	"time"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
)

// Route pass lifecycle states
const (
	StatusValid    = "valid"
	StatusVoid     = "void"
	StatusExpired  = "expired"
	StatusRefunded = "refunded"
	StatusFailed   = "failed"
)

// RoutePass is a prepaid, tag-scoped credit redeemable for one ticket
// on any trip of a matching route. Redemption flips valid to void;
// the undo of a failed sale restores valid.
type RoutePass struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	UserID    uuid.UUID    `json:"user_id" db:"user_id"`
	CompanyID uuid.UUID    `json:"company_id" db:"company_id"`
	Tag       string       `json:"tag" db:"tag"`
	Status    string       `json:"status" db:"status"`
	Notes     ledger.Notes `json:"notes" db:"notes"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// Price reads the face value the pass was sold at
func (p *RoutePass) Price() float64 {
	return p.Notes.Float(ledger.NotePrice)
}

// DiscountValue reads the cumulative discount applied when the pass
// was purchased
func (p *RoutePass) DiscountValue() float64 {
	return p.Notes.Float(ledger.NoteDiscountValue)
}

// Refundable reports whether the pass is in a state a refund may
// start from
func (p *RoutePass) Refundable() bool {
	switch p.Status {
	case StatusValid, StatusVoid, StatusExpired:
		return true
	}
	return false
}
