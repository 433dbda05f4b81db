package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
)

// Payment is the platform-side record of one gateway charge, 1:1 with
// the payment line of a transaction. PaymentResource and Data are
// filled in by ChargeSale after the gateway call; a failed charge
// leaves the error payload in Data for operator triage.
type Payment struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	PaymentResource *string      `json:"payment_resource" db:"payment_resource"`
	Data            ledger.Notes `json:"data" db:"data"`
	Options         ledger.Notes `json:"options" db:"options"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// IsMicro reads the fee schedule the charge cleared under. Stored on
// the payment row at capture time; refunds read it from here rather
// than from line-item notes.
func (p *Payment) IsMicro() bool {
	return p.Options.Bool("isMicro")
}

// RefundInfo sizes a gateway refund: the amount, the charge it
// reverses, and the processing-fee delta the platform recovers.
type RefundInfo struct {
	ProcessingFee   float64 `json:"processingFee"`
	Charge          *Charge `json:"charge"`
	IsMicro         bool    `json:"isMicro"`
	BalanceAmtCents int64   `json:"balanceAmtCents"`
	Amount          float64 `json:"amount"`
	IdempotencyKey  string  `json:"idempotencyKey"`
}
