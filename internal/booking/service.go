package booking

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/payments"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/internal/tickets"
	"github.com/skylinetransit/ticketing/internal/trips"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/pkg/eventbus"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"github.com/skylinetransit/ticketing/pkg/metrics"
	"github.com/skylinetransit/ticketing/pkg/validation"
	"go.uber.org/zap"
)

// ExpectedPriceTolerance bounds the difference between the caller's
// quoted price and the computed payment
const ExpectedPriceTolerance = 1e-3

// TripRequest asks for one seat on one trip
type TripRequest struct {
	TripID       uuid.UUID `json:"trip_id" validate:"required"`
	BoardStopID  uuid.UUID `json:"board_stop_id" validate:"required"`
	AlightStopID uuid.UUID `json:"alight_stop_id" validate:"required"`
	UserID       uuid.UUID `json:"user_id" validate:"required"`
}

// PrepareTicketSaleRequest is the validated input of the sale
// workflow
type PrepareTicketSaleRequest struct {
	Trips          []TripRequest `json:"trips" validate:"required,min=1,dive"`
	PromoCode      string        `json:"promo_code"`
	DryRun         bool          `json:"dry_run"`
	ApplyRoutePass bool          `json:"apply_route_pass"`
	Checks         *Checks       `json:"checks"`
	ExpectedPrice  *float64      `json:"expected_price" validate:"omitempty,gte=0"`
	Creator        ledger.Actor  `json:"creator"`
	Committed      bool          `json:"committed"`
	Type           ledger.TransactionType `json:"type"`
	Description    string        `json:"description"`
}

// Service orchestrates ticket sales and gateway-decline recovery
type Service struct {
	db          database.TxRunner
	ledgerStore LedgerStore
	tripStore   TripStore
	ticketStore TicketStore
	promoApply  PromoApplier
	passApply   PassApplier
	gateway     payments.Gateway
	bus         *eventbus.Bus
	now         func() time.Time
}

// NewService creates a booking service
func NewService(db database.TxRunner, ledgerStore LedgerStore, tripStore TripStore, ticketStore TicketStore, promoApply PromoApplier, passApply PassApplier, gateway payments.Gateway, bus *eventbus.Bus) *Service {
	return &Service{
		db:          db,
		ledgerStore: ledgerStore,
		tripStore:   tripStore,
		ticketStore: ticketStore,
		promoApply:  promoApply,
		passApply:   passApply,
		gateway:     gateway,
		bus:         bus,
		now:         time.Now,
	}
}

// PrepareTicketSale assembles and persists a balanced ticket-sale
// transaction inside one REPEATABLE READ database transaction:
// pending tickets, booking checks, route-pass redemptions, promo
// discount, small-residual absorption, and the payment finalization
// against the single counterparty company. The returned UndoFunc
// reverses the entity effects under a fresh transaction; charging the
// card happens separately in payments.ChargeSale.
func (s *Service) PrepareTicketSale(ctx context.Context, req *PrepareTicketSaleRequest) (txn *ledger.Transaction, undo ledger.UndoFunc, err error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflow("prepareTicketSale", start, err) }()

	if err = validation.Struct(req); err != nil {
		return nil, nil, common.NewValidationError("invalid ticket sale request", err)
	}
	checks := AllChecks()
	if req.Checks != nil {
		checks = *req.Checks
	}
	txType := req.Type
	if txType == "" {
		txType = ledger.TypeTicketPurchase
	}

	var companyID uuid.UUID
	err = s.db.WithinTx(ctx, pgx.RepeatableRead, func(ctx context.Context, q database.Querier) error {
		tripIDs := uniqueTripIDs(req.Trips)
		tripsByID, err := s.tripStore.GetTripsByIDs(ctx, q, tripIDs, true)
		if err != nil {
			return fmt.Errorf("load trips: %w", err)
		}
		requested := make([]*trips.Trip, 0, len(tripIDs))
		for _, id := range tripIDs {
			trip, ok := tripsByID[id]
			if !ok {
				return common.NewNotFoundError(fmt.Sprintf("trip %s does not exist", id))
			}
			requested = append(requested, trip)
		}

		companyID, err = singleCompanyID(requested)
		if err != nil {
			return err
		}
		if checks.EnsureAvailability {
			for _, trip := range requested {
				if err := checkRunning(trip); err != nil {
					return err
				}
			}
		}

		b := ledger.NewBuilder(s.ledgerStore, q, s.db, ledger.Options{
			Creator:     req.Creator,
			Description: req.Description,
			Committed:   req.Committed,
			DryRun:      req.DryRun,
		})

		tripByTicket := make(map[uuid.UUID]*trips.Trip)
		perTripRequested := make(map[uuid.UUID]int)
		for _, tr := range req.Trips {
			trip := tripsByID[tr.TripID]
			board, alight, err := resolveStops(trip, tr.BoardStopID, tr.AlightStopID)
			if err != nil {
				return err
			}
			if checks.BookingWindow {
				if err := checkBookingWindow(trip, board, alight, s.now()); err != nil {
					return err
				}
			}
			if checks.NoDuplicates {
				if err := checkNoDuplicates(ctx, q, s.ticketStore, tr.UserID, tr.TripID); err != nil {
					return err
				}
			}

			ticket := &tickets.Ticket{
				ID:           uuid.New(),
				UserID:       tr.UserID,
				TripID:       tr.TripID,
				BoardStopID:  tr.BoardStopID,
				AlightStopID: tr.AlightStopID,
				Status:       tickets.StatusPending,
				Notes:        ledger.Notes{},
			}
			if !req.DryRun {
				if err := s.ticketStore.Create(ctx, q, ticket); err != nil {
					return fmt.Errorf("create pending ticket: %w", err)
				}
				ticketID := ticket.ID
				b.RecordUndo(ledger.UndoOp{
					Kind:        ledger.UndoRestoreTicketStatus,
					EntityID:    ticketID,
					PriorStatus: tickets.StatusFailed,
					Run: func(ctx context.Context, q database.Querier) error {
						return s.ticketStore.SetStatus(ctx, q, ticketID, tickets.StatusFailed)
					},
				})
			} else {
				// Dry runs insert nothing, so the re-read below has
				// to count the would-be tickets itself.
				perTripRequested[tr.TripID]++
			}

			if _, err := b.AddSale(ledger.ItemTicketSale, ticket.ID, tr.UserID, companyID, trip.Price, nil); err != nil {
				return err
			}
			tripByTicket[ticket.ID] = trip
		}

		if checks.EnsureAvailability {
			for _, trip := range requested {
				if err := checkSeats(ctx, q, s.tripStore, trip, perTripRequested[trip.ID]); err != nil {
					return err
				}
			}
		}

		if req.ApplyRoutePass {
			for _, tag := range trips.SortedTags(requested) {
				var eligible []*ledger.Target
				for _, target := range b.TargetsOfType(ledger.ItemTicketSale) {
					trip := tripByTicket[target.EntityID]
					if trip != nil && trip.HasTag(tag) && target.Outstanding > 0 {
						eligible = append(eligible, target)
					}
				}
				if len(eligible) == 0 {
					continue
				}
				if err := s.passApply.Apply(ctx, b, companyID, tag, eligible); err != nil {
					return err
				}
			}
		}

		if req.PromoCode != "" {
			if err := s.promoApply.Apply(ctx, b, req.PromoCode, promos.ScopePromotion); err != nil {
				return err
			}
		}

		if _, err := b.AbsorbSmallResidual(s.gateway.MinChargeCents()); err != nil {
			return err
		}

		if !req.DryRun {
			for _, target := range b.TargetsOfType(ledger.ItemTicketSale) {
				if target.DiscountValue > 0 {
					if err := s.ticketStore.AddDiscountValue(ctx, q, target.EntityID, target.DiscountValue); err != nil {
						return fmt.Errorf("record ticket discount: %w", err)
					}
				}
			}
		}

		if err := b.FinalizeForPayment(ctx, companyID); err != nil {
			return err
		}

		if req.ExpectedPrice != nil && math.Abs(*req.ExpectedPrice-b.PaymentDebit()) >= ExpectedPriceTolerance {
			return common.NewTransactionError(common.ReasonPriceChanged,
				fmt.Sprintf("the price has changed: expected %.2f, computed %.2f",
					*req.ExpectedPrice, b.PaymentDebit()))
		}

		if req.Committed && !req.DryRun {
			for ticketID := range tripByTicket {
				id := ticketID
				b.PostBuildHook(func(ctx context.Context, q database.Querier) error {
					_, err := s.ticketStore.SetStatusIf(ctx, q, id,
						[]string{tickets.StatusPending}, tickets.StatusValid)
					return err
				})
			}
		}

		txn, undo, err = b.Build(ctx, txType)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if !req.DryRun {
		s.publishCommitted(ctx, txn, companyID)
	}
	return txn, undo, nil
}

// CancelSale recovers from a gateway decline after a committed sale:
// it un-commits the transaction and fails every sold ticket. Fails
// when any associated ticket is not currently valid.
func (s *Service) CancelSale(ctx context.Context, transactionID uuid.UUID) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflow("cancelSale", start, err) }()

	err = s.db.WithinTx(ctx, pgx.Serializable, func(ctx context.Context, q database.Querier) error {
		txn, err := s.ledgerStore.GetTransaction(ctx, q, transactionID)
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if txn == nil {
			return common.NewNotFoundError(fmt.Sprintf("transaction %s does not exist", transactionID))
		}
		if !txn.Committed {
			return common.NewTransactionError("notCommitted",
				fmt.Sprintf("transaction %s is not committed", transactionID))
		}

		flipped, err := s.ledgerStore.SetCommitted(ctx, q, transactionID, false, true)
		if err != nil {
			return fmt.Errorf("un-commit transaction: %w", err)
		}
		if !flipped {
			return common.NewTransactionError("notCommitted",
				fmt.Sprintf("transaction %s was already un-committed", transactionID))
		}

		for _, item := range txn.ItemsOfType(ledger.ItemTicketSale) {
			if item.ItemID == nil {
				return common.NewInternalError("ticketSale item has no ticket reference", nil)
			}
			failed, err := s.ticketStore.SetStatusIf(ctx, q, *item.ItemID,
				[]string{tickets.StatusValid}, tickets.StatusFailed)
			if err != nil {
				return fmt.Errorf("fail ticket: %w", err)
			}
			if !failed {
				return common.NewTransactionError("ticketNotValid",
					fmt.Sprintf("ticket %s is not valid", *item.ItemID))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.bus != nil {
		if pubErr := s.bus.Publish(ctx, eventbus.SubjectTransactionCancelled, "transaction.cancelled",
			eventbus.TransactionCancelledData{TransactionID: transactionID}); pubErr != nil {
			logger.Warn("publish cancelled event failed",
				zap.String("transaction_id", transactionID.String()),
				zap.Error(pubErr))
		}
	}
	return nil
}

func (s *Service) publishCommitted(ctx context.Context, txn *ledger.Transaction, companyID uuid.UUID) {
	if s.bus == nil {
		return
	}
	data := eventbus.TransactionCommittedData{
		TransactionID: txn.ID,
		Type:          string(txn.Type),
		CompanyID:     companyID,
	}
	if item := txn.PaymentItem(); item != nil {
		data.PaymentDebit = item.Debit
	}
	if err := s.bus.Publish(ctx, eventbus.SubjectTransactionCommitted, "transaction.committed", data); err != nil {
		logger.Warn("publish committed event failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err))
	}
}

func uniqueTripIDs(reqs []TripRequest) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, r := range reqs {
		if !seen[r.TripID] {
			seen[r.TripID] = true
			ids = append(ids, r.TripID)
		}
	}
	return ids
}
