package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway thresholds in cents. Micro charges run on a different fee
// schedule; charges below the minimum are refused outright and must
// be absorbed by the platform instead.
const (
	MinChargeCents       int64 = 50
	MicroThresholdCents  int64 = 1000
	descriptorMaxLength        = 22
	descriptorPrefixLen        = 11
)

// Fee schedule rates. Local non-Amex cards clear at the domestic
// rate; everything else pays the cross-border rate. Micro charges pay
// a higher percentage with a smaller fixed part.
const (
	domesticRate     = 0.034
	crossBorderRate  = 0.039
	standardFixedFee = 50 // cents
	microRate        = 0.05
	microFixedFee    = 5 // cents
)

// HomeCountry is the issuing country treated as local by the fee
// schedule
const HomeCountry = "SG"

// CardSource describes the card behind a charge, as far as fee
// computation cares
type CardSource struct {
	Country string `json:"country"`
	Brand   string `json:"brand"`
}

// Charge is the gateway-side record of a captured payment
type Charge struct {
	ID                  string     `json:"id"`
	AmountCents         int64      `json:"amount"`
	AmountRefundedCents int64      `json:"amount_refunded"`
	Source              CardSource `json:"source"`
}

// BalanceCents returns the unrefunded remainder of the charge
func (c *Charge) BalanceCents() int64 {
	return c.AmountCents - c.AmountRefundedCents
}

// ChargeRequest is one attempt to capture a payment. Exactly one of
// Source or (CustomerID, SourceID) identifies the card.
type ChargeRequest struct {
	ValueCents          int64
	Description         string
	StatementDescriptor string
	DestinationAccount  string
	IdempotencyKey      string
	Source              string
	CustomerID          string
	SourceID            string
}

// RefundRequest reverses part or all of a captured charge
type RefundRequest struct {
	ChargeID       string
	AmountCents    int64
	IdempotencyKey string
}

// Gateway is the narrow card-payment surface the workflows depend on.
// The Stripe implementation talks HTTPS; the mock implementation
// serves property tests.
type Gateway interface {
	ChargeCard(ctx context.Context, req ChargeRequest) (*Charge, error)
	RefundCharge(ctx context.Context, req RefundRequest) (*Charge, error)
	RetrieveCharge(ctx context.Context, chargeID string) (*Charge, error)
	MinChargeCents() int64
	IsMicro(amountCents int64) bool
	IsLocalAndNonAmex(source CardSource) bool
	AdminFeeCents(amountCents int64, isMicro, isLocalAndNonAmex bool) int64
}

// FeeSchedule computes gateway admin fees. Shared by the real and
// mock gateways so fee math stays identical in tests.
type FeeSchedule struct{}

// MinChargeCents returns the smallest amount the gateway will capture
func (FeeSchedule) MinChargeCents() int64 { return MinChargeCents }

// IsMicro reports whether an amount falls under the micro fee
// schedule
func (FeeSchedule) IsMicro(amountCents int64) bool {
	return amountCents > 0 && amountCents < MicroThresholdCents
}

// IsLocalAndNonAmex reports whether the card clears at the domestic
// rate
func (FeeSchedule) IsLocalAndNonAmex(source CardSource) bool {
	if !strings.EqualFold(source.Country, HomeCountry) {
		return false
	}
	brand := strings.ToLower(source.Brand)
	return brand != "amex" && brand != "american express"
}

// AdminFeeCents computes the gateway fee on an amount. Zero for
// non-positive amounts, so fee deltas across refunds stay well
// defined.
func (FeeSchedule) AdminFeeCents(amountCents int64, isMicro, isLocalAndNonAmex bool) int64 {
	if amountCents <= 0 {
		return 0
	}
	var rate float64
	var fixed int64
	switch {
	case isMicro:
		rate, fixed = microRate, microFixedFee
	case isLocalAndNonAmex:
		rate, fixed = domesticRate, standardFixedFee
	default:
		rate, fixed = crossBorderRate, standardFixedFee
	}
	variable := decimal.NewFromInt(amountCents).Mul(decimal.NewFromFloat(rate)).Round(0).IntPart()
	return variable + fixed
}

// ChargeIdempotencyKey builds the key that makes repeated sale charges
// for one booking observationally equivalent to a single charge
func ChargeIdempotencyKey(instanceTag string, transactionID uuid.UUID, sessionIat int64) string {
	return fmt.Sprintf("instance=%s,bookingId=%s,session=%d", instanceTag, transactionID, sessionIat)
}

// TicketRefundIdempotencyKey builds the key for a ticket refund
func TicketRefundIdempotencyKey(instanceTag string, ticketID uuid.UUID) string {
	return fmt.Sprintf("Refund:instance=%s,ticketId=%s", instanceTag, ticketID)
}

// RoutePassRefundIdempotencyKey builds the key for a route-pass
// refund
func RoutePassRefundIdempotencyKey(instanceTag string, passID uuid.UUID) string {
	return fmt.Sprintf("Refund:instance=%s,routePassId=%s", instanceTag, passID)
}

// StatementDescriptor renders the card-statement line for a sale:
// the company descriptor truncated to eleven characters, a comma, and
// the transaction reference, all capped at twenty-two characters with
// the characters the gateway rejects stripped out.
func StatementDescriptor(companyDescriptor string, transactionID uuid.UUID) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'':
			return -1
		}
		return r
	}, companyDescriptor)

	if len(cleaned) > descriptorPrefixLen {
		cleaned = cleaned[:descriptorPrefixLen]
	}
	descriptor := fmt.Sprintf("%s,Ref#%s", cleaned, transactionID)
	if len(descriptor) > descriptorMaxLength {
		descriptor = descriptor[:descriptorMaxLength]
	}
	return descriptor
}
