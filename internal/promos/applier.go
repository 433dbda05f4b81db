package promos

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/pkg/money"
)

// Scope selects which builder targets a promo evaluates against
type Scope string

const (
	ScopePromotion Scope = "Promotion"
	ScopeRoutePass Scope = "RoutePass"
)

// Promo failure reasons carried on the returned AppError
const (
	ReasonPromoNotFound     = "promoNotFound"
	ReasonPromoExpired      = "promoExpired"
	ReasonPromoExhausted    = "promoExhausted"
	ReasonPromoInapplicable = "promoInapplicable"
)

// newPromoError builds the transaction-kind error promo failures
// surface as
func newPromoError(reason, message string) *common.AppError {
	return &common.AppError{
		Kind:    common.KindTransaction,
		Code:    http.StatusBadRequest,
		Reason:  reason,
		Message: message,
	}
}

// Store is the persistence surface the applier needs
type Store interface {
	GetByCodeForUpdate(ctx context.Context, q database.Querier, code string) (*PromoCode, error)
	IncrementUses(ctx context.Context, q database.Querier, id uuid.UUID) error
}

// Applier evaluates promo codes against a builder's sale targets
type Applier struct {
	repo Store
	now  func() time.Time
}

// NewApplier creates a promotion applier
func NewApplier(repo Store) *Applier {
	return &Applier{repo: repo, now: time.Now}
}

// Apply redeems a promo code against the builder's targets in scope,
// distributing the discount in proportion to each target's
// outstanding amount with the last target absorbing cent rounding.
// Unknown, expired, exhausted and inapplicable codes fail with a
// promo-reason transaction error.
func (a *Applier) Apply(ctx context.Context, b *ledger.Builder, code string, scope Scope) error {
	promo, err := a.repo.GetByCodeForUpdate(ctx, b.Querier(), code)
	if err != nil {
		return fmt.Errorf("load promo code: %w", err)
	}
	if promo == nil || !promo.IsActive {
		return newPromoError(ReasonPromoNotFound, fmt.Sprintf("promo code %q is not recognized", code))
	}
	if promo.ExpiredAt(a.now()) {
		return newPromoError(ReasonPromoExpired, fmt.Sprintf("promo code %q is outside its validity window", code))
	}
	if promo.Exhausted() {
		return newPromoError(ReasonPromoExhausted, fmt.Sprintf("promo code %q has no uses left", code))
	}
	if !a.scopeApplies(promo, scope) {
		return newPromoError(ReasonPromoInapplicable,
			fmt.Sprintf("promo code %q does not apply to this purchase", code))
	}

	targets := b.TargetsOfType(scopeItemType(scope))
	var eligible []*ledger.Target
	var weights []float64
	var base float64
	for _, t := range targets {
		if t.Outstanding > 0 {
			eligible = append(eligible, t)
			weights = append(weights, t.Outstanding)
			base += t.Outstanding
		}
	}

	discount := promo.DiscountFor(money.RoundToCent(base))
	if len(eligible) == 0 || discount <= 0 {
		return newPromoError(ReasonPromoInapplicable,
			fmt.Sprintf("promo code %q yields no discount on this purchase", code))
	}

	allocations := money.Allocate(discount, weights)
	if _, err := b.ApplyDiscount(eligible, allocations, ledger.Notes{
		ledger.NoteCode:        promo.Code,
		ledger.NotePromoID:     promo.ID.String(),
		ledger.NoteDescription: promo.Description,
	}); err != nil {
		return err
	}

	if !b.DryRun() {
		if err := a.repo.IncrementUses(ctx, b.Querier(), promo.ID); err != nil {
			return fmt.Errorf("increment promo uses: %w", err)
		}
	}
	return nil
}

func (a *Applier) scopeApplies(promo *PromoCode, scope Scope) bool {
	switch scope {
	case ScopePromotion:
		return promo.AppliesTo == AppliesToTickets || promo.AppliesTo == AppliesToBoth
	case ScopeRoutePass:
		return promo.AppliesTo == AppliesToRoutePasses || promo.AppliesTo == AppliesToBoth
	}
	return false
}

func scopeItemType(scope Scope) ledger.ItemType {
	if scope == ScopeRoutePass {
		return ledger.ItemRoutePass
	}
	return ledger.ItemTicketSale
}
