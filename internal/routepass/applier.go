package routepass

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"github.com/skylinetransit/ticketing/pkg/money"
	"go.uber.org/zap"
)

// RedemptionStore is the persistence surface the applier needs
type RedemptionStore interface {
	FindRedeemable(ctx context.Context, q database.Querier, userID, companyID uuid.UUID, tag string, limit int) ([]*RoutePass, error)
	SetStatusIf(ctx context.Context, q database.Querier, id uuid.UUID, from []string, to string) (bool, error)
	SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status string) error
}

// Applier redeems valid route passes against a builder's ticket-sale
// targets
type Applier struct {
	repo RedemptionStore
}

// NewApplier creates a route-pass applier
func NewApplier(repo RedemptionStore) *Applier {
	return &Applier{repo: repo}
}

// Apply consumes up to one valid pass per eligible target, emitting a
// discount line per consumed pass equal to the pass's face value
// capped by the target's outstanding amount. Redeemed passes go
// valid to void atomically with the sale; the recorded undo restores
// valid. Targets must already be filtered to trips whose route
// carries the tag.
func (a *Applier) Apply(ctx context.Context, b *ledger.Builder, companyID uuid.UUID, tag string, targets []*ledger.Target) error {
	byUser := make(map[uuid.UUID][]*ledger.Target)
	var users []uuid.UUID
	for _, target := range targets {
		if target.Outstanding <= 0 {
			continue
		}
		if _, seen := byUser[target.UserID]; !seen {
			users = append(users, target.UserID)
		}
		byUser[target.UserID] = append(byUser[target.UserID], target)
	}

	for _, userID := range users {
		if err := a.applyForUser(ctx, b, userID, companyID, tag, byUser[userID]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) applyForUser(ctx context.Context, b *ledger.Builder, userID, companyID uuid.UUID, tag string, targets []*ledger.Target) error {
	passes, err := a.repo.FindRedeemable(ctx, b.Querier(), userID, companyID, tag, len(targets))
	if err != nil {
		return fmt.Errorf("find redeemable passes: %w", err)
	}

	next := 0
	for _, pass := range passes {
		for next < len(targets) && targets[next].Outstanding <= 0 {
			next++
		}
		if next >= len(targets) {
			break
		}
		target := targets[next]

		discount := money.RoundToCent(pass.Price())
		if discount > target.Outstanding {
			discount = target.Outstanding
		}
		if discount <= 0 {
			continue
		}

		passID := pass.ID
		if !b.DryRun() {
			voided, err := a.repo.SetStatusIf(ctx, b.Querier(), passID, []string{StatusValid}, StatusVoid)
			if err != nil {
				return fmt.Errorf("void route pass: %w", err)
			}
			if !voided {
				// Lost the pass to a concurrent redemption despite
				// the row lock; treat as no longer redeemable.
				logger.Warn("route pass no longer valid at redemption",
					zap.String("route_pass_id", passID.String()))
				continue
			}
			b.RecordUndo(ledger.UndoOp{
				Kind:        ledger.UndoRestoreRoutePassStatus,
				EntityID:    passID,
				PriorStatus: StatusValid,
				Run: func(ctx context.Context, q database.Querier) error {
					return a.repo.SetStatus(ctx, q, passID, StatusValid)
				},
			})
		}

		if _, err := b.ApplyDiscount([]*ledger.Target{target}, []float64{discount}, ledger.Notes{
			ledger.NoteDescription: fmt.Sprintf("route pass redemption (%s)", tag),
			"routePassId":          passID.String(),
		}); err != nil {
			return err
		}
		next++
	}
	return nil
}
