package promos

import (
	"time"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/pkg/money"
)

// Discount shapes
const (
	DiscountPercentage  = "percentage"
	DiscountFixedAmount = "fixed_amount"
)

// Scopes a promo code may apply to
const (
	AppliesToTickets     = "tickets"
	AppliesToRoutePasses = "route_passes"
	AppliesToBoth        = "both"
)

// PromoCode is a redeemable discount rule
type PromoCode struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Code              string     `json:"code" db:"code"`
	Description       string     `json:"description" db:"description"`
	DiscountType      string     `json:"discount_type" db:"discount_type"`
	DiscountValue     float64    `json:"discount_value" db:"discount_value"`
	MaxDiscountAmount *float64   `json:"max_discount_amount,omitempty" db:"max_discount_amount"`
	AppliesTo         string     `json:"applies_to" db:"applies_to"`
	ValidFrom         time.Time  `json:"valid_from" db:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until,omitempty" db:"valid_until"`
	MaxUses           *int       `json:"max_uses,omitempty" db:"max_uses"`
	UsesCount         int        `json:"uses_count" db:"uses_count"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// ExpiredAt reports whether the code is outside its validity window
func (p *PromoCode) ExpiredAt(now time.Time) bool {
	if now.Before(p.ValidFrom) {
		return true
	}
	return p.ValidUntil != nil && now.After(*p.ValidUntil)
}

// Exhausted reports whether the code has no uses left
func (p *PromoCode) Exhausted() bool {
	return p.MaxUses != nil && p.UsesCount >= *p.MaxUses
}

// DiscountFor computes the cent-rounded discount against a base
// amount, zero when the rule yields nothing
func (p *PromoCode) DiscountFor(base float64) float64 {
	if base <= 0 {
		return 0
	}
	var discount float64
	switch p.DiscountType {
	case DiscountPercentage:
		discount = base * p.DiscountValue / 100
		if p.MaxDiscountAmount != nil && discount > *p.MaxDiscountAmount {
			discount = *p.MaxDiscountAmount
		}
	case DiscountFixedAmount:
		discount = p.DiscountValue
	default:
		return 0
	}
	if discount > base {
		discount = base
	}
	return money.RoundToCent(discount)
}
