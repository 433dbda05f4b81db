package routepass

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/pkg/eventbus"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"github.com/skylinetransit/ticketing/pkg/metrics"
	"github.com/skylinetransit/ticketing/pkg/money"
	"github.com/skylinetransit/ticketing/pkg/validation"
	"go.uber.org/zap"
)

// PriceSource resolves the face value of a pass from upcoming trips
type PriceSource interface {
	NextTripPriceForTag(ctx context.Context, q database.Querier, companyID uuid.UUID, tag string) (float64, error)
}

// PromoApplier redeems a promo code against the builder
type PromoApplier interface {
	Apply(ctx context.Context, b *ledger.Builder, code string, scope promos.Scope) error
}

// PurchaseRequest is the validated input of the route-pass purchase
// workflow. Exactly one of Quantity and Value sizes the purchase.
type PurchaseRequest struct {
	UserID          uuid.UUID    `json:"user_id" validate:"required"`
	CompanyID       uuid.UUID    `json:"company_id" validate:"required"`
	Tag             string       `json:"tag" validate:"required"`
	Quantity        *int         `json:"quantity" validate:"required_without=Value,excluded_with=Value,omitempty,gt=0"`
	Value           *float64     `json:"value" validate:"required_without=Quantity,omitempty,gt=0"`
	PromoCode       string       `json:"promo_code"`
	DryRun          bool         `json:"dry_run"`
	TransactionType ledger.TransactionType `json:"transaction_type"`
	ExpectedPrice   *float64     `json:"expected_price" validate:"omitempty,gte=0"`
	Creator         ledger.Actor `json:"creator"`
	Committed       bool         `json:"committed"`
	ValidityDays    int          `json:"validity_days" validate:"omitempty,gte=0"`

	// PostTransactionHook runs inside the database transaction after
	// the journal entry persists, before commit.
	PostTransactionHook func(ctx context.Context, q database.Querier) error `json:"-"`
}

// Service orchestrates route-pass purchase and expiry
type Service struct {
	db          database.TxRunner
	ledgerStore ledger.Store
	repo        *Repository
	prices      PriceSource
	promoApply  PromoApplier
	bus         *eventbus.Bus
}

// NewService creates a route-pass service
func NewService(db database.TxRunner, ledgerStore ledger.Store, repo *Repository, prices PriceSource, promoApply PromoApplier, bus *eventbus.Bus) *Service {
	return &Service{
		db:          db,
		ledgerStore: ledgerStore,
		repo:        repo,
		prices:      prices,
		promoApply:  promoApply,
		bus:         bus,
	}
}

// Purchase sells route passes at the price of the next upcoming trip
// carrying the tag, under SERIALIZABLE isolation. Passes are created
// valid with their face value on their notes; the returned UndoFunc
// fails them under a fresh transaction.
func (s *Service) Purchase(ctx context.Context, req *PurchaseRequest) (txn *ledger.Transaction, undo ledger.UndoFunc, err error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflow("purchaseRoutePass", start, err) }()

	if err = validation.Struct(req); err != nil {
		return nil, nil, common.NewValidationError("invalid route pass purchase request", err)
	}
	if req.Quantity != nil && req.Value != nil {
		return nil, nil, common.NewValidationError("quantity and value are mutually exclusive", nil)
	}
	txType := req.TransactionType
	if txType == "" {
		txType = ledger.TypeRoutePassPurchase
	}

	err = s.db.WithinTx(ctx, pgx.Serializable, func(ctx context.Context, q database.Querier) error {
		price, err := s.prices.NextTripPriceForTag(ctx, q, req.CompanyID, req.Tag)
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NewTransactionError("noUpcomingTrips",
				fmt.Sprintf("no upcoming trips carry tag %q for this company", req.Tag))
		}
		if err != nil {
			return fmt.Errorf("resolve pass price: %w", err)
		}
		price = money.RoundToCent(price)
		if price <= 0 {
			return common.NewTransactionError("noUpcomingTrips",
				fmt.Sprintf("trips carrying tag %q have no positive price", req.Tag))
		}

		quantity := 0
		if req.Quantity != nil {
			quantity = *req.Quantity
		} else {
			quantity = int(math.Round(*req.Value / price))
		}
		if quantity <= 0 {
			return common.NewValidationError(
				fmt.Sprintf("requested value %.2f buys no passes at %.2f each", value(req), price), nil)
		}

		b := ledger.NewBuilder(s.ledgerStore, q, s.db, ledger.Options{
			Creator:     req.Creator,
			Description: fmt.Sprintf("Purchase of %d route pass(es) [%s]", quantity, req.Tag),
			Committed:   req.Committed,
			DryRun:      req.DryRun,
		})

		var expiresAt *time.Time
		if req.ValidityDays > 0 {
			t := time.Now().AddDate(0, 0, req.ValidityDays)
			expiresAt = &t
		}

		for i := 0; i < quantity; i++ {
			pass := &RoutePass{
				ID:        uuid.New(),
				UserID:    req.UserID,
				CompanyID: req.CompanyID,
				Tag:       req.Tag,
				Status:    StatusValid,
				Notes:     ledger.Notes{ledger.NotePrice: price},
				ExpiresAt: expiresAt,
			}
			if !req.DryRun {
				if err := s.repo.Create(ctx, q, pass); err != nil {
					return fmt.Errorf("create route pass: %w", err)
				}
				passID := pass.ID
				b.RecordUndo(ledger.UndoOp{
					Kind:        ledger.UndoRestoreRoutePassStatus,
					EntityID:    passID,
					PriorStatus: StatusFailed,
					Run: func(ctx context.Context, q database.Querier) error {
						return s.repo.SetStatus(ctx, q, passID, StatusFailed)
					},
				})
			}
			if _, err := b.AddSale(ledger.ItemRoutePass, pass.ID, req.UserID, req.CompanyID, price,
				ledger.Notes{ledger.NotePrice: price}); err != nil {
				return err
			}
		}

		if req.PromoCode != "" {
			if err := s.promoApply.Apply(ctx, b, req.PromoCode, promos.ScopeRoutePass); err != nil {
				return err
			}
		}

		if !req.DryRun {
			for _, target := range b.TargetsOfType(ledger.ItemRoutePass) {
				if target.DiscountValue > 0 {
					if err := s.repo.AddDiscountValue(ctx, q, target.EntityID, target.DiscountValue); err != nil {
						return fmt.Errorf("record pass discount: %w", err)
					}
				}
			}
		}

		if err := b.FinalizeForPayment(ctx, req.CompanyID); err != nil {
			return err
		}

		if req.ExpectedPrice != nil && math.Abs(*req.ExpectedPrice-b.PaymentDebit()) >= 1e-3 {
			return common.NewTransactionError(common.ReasonPriceChanged,
				fmt.Sprintf("the price has changed: expected %.2f, computed %.2f",
					*req.ExpectedPrice, b.PaymentDebit()))
		}

		if req.PostTransactionHook != nil {
			b.PostBuildHook(req.PostTransactionHook)
		}

		txn, undo, err = b.Build(ctx, txType)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if !req.DryRun && s.bus != nil {
		data := eventbus.TransactionCommittedData{
			TransactionID: txn.ID,
			Type:          string(txn.Type),
			CompanyID:     req.CompanyID,
		}
		if item := txn.PaymentItem(); item != nil {
			data.PaymentDebit = item.Debit
		}
		if pubErr := s.bus.Publish(ctx, eventbus.SubjectTransactionCommitted, "transaction.committed", data); pubErr != nil {
			logger.Warn("publish committed event failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(pubErr))
		}
	}
	return txn, undo, nil
}

// ExpirePasses flips lapsed valid passes to expired, for the ops
// sweep. Returns the number of passes expired.
func (s *Service) ExpirePasses(ctx context.Context, asOf time.Time) (int64, error) {
	var expired int64
	err := s.db.WithinTx(ctx, pgx.ReadCommitted, func(ctx context.Context, q database.Querier) error {
		n, err := s.repo.ExpirePasses(ctx, q, asOf)
		expired = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		logger.Info("expired route passes", zap.Int64("count", expired))
	}
	return expired, nil
}

func value(req *PurchaseRequest) float64 {
	if req.Value != nil {
		return *req.Value
	}
	return 0
}
