package refunds

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/internal/auth"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/payments"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/internal/tickets"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/pkg/eventbus"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"github.com/skylinetransit/ticketing/pkg/metrics"
	"github.com/skylinetransit/ticketing/pkg/money"
	"github.com/skylinetransit/ticketing/pkg/validation"
	"go.uber.org/zap"
)

// AllOrNothingTolerance bounds how far a requested ticket refund may
// sit from the ticket's price after discounts
const AllOrNothingTolerance = 1e-4

// TicketRefundRequest asks for a full refund of one ticket
type TicketRefundRequest struct {
	TicketID     uuid.UUID        `json:"ticket_id" validate:"required"`
	TargetAmount float64          `json:"target_amount" validate:"gte=0"`
	Credentials  auth.Credentials `json:"credentials"`
}

// RoutePassRefundRequest asks for a full refund of one route pass
type RoutePassRefundRequest struct {
	RoutePassID uuid.UUID        `json:"route_pass_id" validate:"required"`
	Credentials auth.Credentials `json:"credentials"`
}

// Service orchestrates ticket and route-pass refunds: a balanced
// refundPayment transaction, the entity status flip, and the gateway
// refund, all atomic with each other.
type Service struct {
	db          database.TxRunner
	ledgerStore LedgerStore
	ticketStore TicketStore
	passStore   PassStore
	tripStore   TripStore
	payments    PaymentService
	guard       auth.Guard
	bus         *eventbus.Bus
}

// NewService creates a refunds service
func NewService(db database.TxRunner, ledgerStore LedgerStore, ticketStore TicketStore, passStore PassStore, tripStore TripStore, paymentService PaymentService, guard auth.Guard, bus *eventbus.Bus) *Service {
	return &Service{
		db:          db,
		ledgerStore: ledgerStore,
		ticketStore: ticketStore,
		passStore:   passStore,
		tripStore:   tripStore,
		payments:    paymentService,
		guard:       guard,
		bus:         bus,
	}
}

// RefundTicket refunds one ticket in full. Policy is all-or-nothing:
// the requested amount must equal the ticket's sale price minus the
// discounts applied to it. Runs at the default isolation level; the
// equality check and the committed-origin reads make concurrent
// double refunds lose.
func (s *Service) RefundTicket(ctx context.Context, req *TicketRefundRequest) (txn *ledger.Transaction, undo ledger.UndoFunc, info *payments.RefundInfo, err error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflow("refundTicket", start, err) }()

	if err = validation.Struct(req); err != nil {
		return nil, nil, nil, common.NewValidationError("invalid ticket refund request", err)
	}

	var originTxID uuid.UUID
	err = s.db.WithinTx(ctx, pgx.ReadCommitted, func(ctx context.Context, q database.Querier) error {
		ticket, err := s.ticketStore.Get(ctx, q, req.TicketID)
		if err != nil {
			return fmt.Errorf("load ticket: %w", err)
		}
		if ticket == nil {
			return common.NewNotFoundError(fmt.Sprintf("ticket %s does not exist", req.TicketID))
		}
		if !ticket.Refundable() {
			return common.NewTransactionError("notRefundable",
				fmt.Sprintf("ticket %s is %s and cannot be refunded", ticket.ID, ticket.Status))
		}

		company, err := s.tripStore.GetCompanyForTrip(ctx, q, ticket.TripID)
		if err != nil {
			return fmt.Errorf("resolve ticket company: %w", err)
		}
		if company == nil {
			return common.NewNotFoundError(fmt.Sprintf("trip %s has no transport company", ticket.TripID))
		}
		if err := s.guard.AssertAdminRole(ctx, q, req.Credentials, "refund", company.ID); err != nil {
			return err
		}

		saleItem, err := s.ledgerStore.GetSaleItemForTicket(ctx, q, req.TicketID)
		if err != nil {
			return fmt.Errorf("load sale item: %w", err)
		}
		if saleItem == nil {
			return common.NewNotFoundError(
				fmt.Sprintf("ticket %s has no committed sale transaction", req.TicketID))
		}
		originTxID = saleItem.TransactionID

		priceAfterDiscount := money.RoundToCent(saleItem.Credit - ticket.DiscountValue())
		if math.Abs(req.TargetAmount-priceAfterDiscount) >= AllOrNothingTolerance {
			return common.NewTransactionError("partialRefund",
				"requires requested refund to equal ticket value after discounts")
		}

		previouslyRefunded, err := s.ledgerStore.SumRefundsForTicket(ctx, q, req.TicketID)
		if err != nil {
			return fmt.Errorf("sum prior refunds: %w", err)
		}
		if previouslyRefunded+req.TargetAmount > priceAfterDiscount+AllOrNothingTolerance {
			return common.NewTransactionError("refundExceedsRemaining",
				fmt.Sprintf("refund of %.2f exceeds the %.2f remaining on ticket %s",
					req.TargetAmount, priceAfterDiscount-previouslyRefunded, req.TicketID))
		}

		payment, err := s.payments.GetPaymentForTransaction(ctx, q, originTxID)
		if err != nil {
			return fmt.Errorf("load origin payment: %w", err)
		}
		if payment == nil {
			return common.NewTransactionError("neverCharged",
				fmt.Sprintf("transaction %s collected no payment", originTxID))
		}

		info, err = s.payments.GenerateRefundInfo(ctx, payment, req.TargetAmount,
			s.payments.TicketRefundKey(req.TicketID))
		if err != nil {
			return err
		}

		b := ledger.NewBuilder(s.ledgerStore, q, s.db, ledger.Options{
			Creator:     req.Credentials.Actor(),
			Description: fmt.Sprintf("Refund of ticket %s", req.TicketID),
			Committed:   true,
		})
		refundPaymentID, err := s.appendRefundItems(ctx, b, refundItemsSpec{
			itemType:   ledger.ItemTicketRefund,
			entityID:   req.TicketID,
			amount:     req.TargetAmount,
			fee:        info.ProcessingFee,
			companyID:  company.ID,
			originTxID: originTxID,
			isMicro:    info.IsMicro,
		})
		if err != nil {
			return err
		}

		ticketID := req.TicketID
		priorStatus := ticket.Status
		b.RecordUndo(ledger.UndoOp{
			Kind:        ledger.UndoRestoreTicketStatus,
			EntityID:    ticketID,
			PriorStatus: priorStatus,
			Run: func(ctx context.Context, q database.Querier) error {
				return s.ticketStore.SetStatus(ctx, q, ticketID, priorStatus)
			},
		})

		txn, undo, err = b.Build(ctx, ledger.TypeRefundPayment)
		if err != nil {
			return err
		}

		refunded, err := s.ticketStore.MarkRefunded(ctx, q, req.TicketID, txn.ID)
		if err != nil {
			return fmt.Errorf("mark ticket refunded: %w", err)
		}
		if !refunded {
			return common.NewTransactionError("notRefundable",
				fmt.Sprintf("ticket %s changed state during the refund", req.TicketID))
		}

		ch, err := s.payments.Refund(ctx, info)
		if err != nil {
			return err
		}
		return s.payments.RecordRefundResult(ctx, q, refundPaymentID, ch, info.IsMicro)
	})
	if err != nil {
		return nil, nil, nil, err
	}

	s.publishRefund(ctx, txn, originTxID, req.TargetAmount)
	return txn, undo, info, nil
}

// RefundRoutePass refunds one route pass in full. Valid, void and
// expired passes qualify; a pass already carrying a refund does not.
func (s *Service) RefundRoutePass(ctx context.Context, req *RoutePassRefundRequest) (txn *ledger.Transaction, undo ledger.UndoFunc, info *payments.RefundInfo, err error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflow("refundRoutePass", start, err) }()

	if err = validation.Struct(req); err != nil {
		return nil, nil, nil, common.NewValidationError("invalid route pass refund request", err)
	}

	var originTxID uuid.UUID
	var amount float64
	err = s.db.WithinTx(ctx, pgx.ReadCommitted, func(ctx context.Context, q database.Querier) error {
		pass, err := s.passStore.Get(ctx, q, req.RoutePassID)
		if err != nil {
			return fmt.Errorf("load route pass: %w", err)
		}
		if pass == nil {
			return common.NewNotFoundError(fmt.Sprintf("route pass %s does not exist", req.RoutePassID))
		}
		if !pass.Refundable() {
			return common.NewTransactionError("notRefundable",
				fmt.Sprintf("route pass %s is %s and cannot be refunded", pass.ID, pass.Status))
		}
		if err := s.guard.AssertAdminRole(ctx, q, req.Credentials, "refund", pass.CompanyID); err != nil {
			return err
		}

		alreadyRefunded, err := s.ledgerStore.HasRefundForRoutePass(ctx, q, req.RoutePassID)
		if err != nil {
			return fmt.Errorf("check prior refunds: %w", err)
		}
		if alreadyRefunded {
			return common.NewTransactionError("refundExceedsRemaining",
				fmt.Sprintf("route pass %s was already refunded", req.RoutePassID))
		}

		purchaseItem, err := s.ledgerStore.GetPurchaseItemForRoutePass(ctx, q, req.RoutePassID)
		if err != nil {
			return fmt.Errorf("load purchase item: %w", err)
		}
		if purchaseItem == nil {
			return common.NewNotFoundError(
				fmt.Sprintf("route pass %s has no committed purchase transaction", req.RoutePassID))
		}
		originTxID = purchaseItem.TransactionID
		amount = money.RoundToCent(purchaseItem.Credit - pass.DiscountValue())
		if amount <= 0 {
			return common.NewTransactionError("refundExceedsRemaining",
				fmt.Sprintf("route pass %s has nothing left to refund", req.RoutePassID))
		}

		payment, err := s.payments.GetPaymentForTransaction(ctx, q, originTxID)
		if err != nil {
			return fmt.Errorf("load origin payment: %w", err)
		}
		if payment == nil {
			return common.NewTransactionError("neverCharged",
				fmt.Sprintf("transaction %s collected no payment", originTxID))
		}

		info, err = s.payments.GenerateRefundInfo(ctx, payment, amount,
			s.payments.RoutePassRefundKey(req.RoutePassID))
		if err != nil {
			return err
		}

		b := ledger.NewBuilder(s.ledgerStore, q, s.db, ledger.Options{
			Creator:     req.Credentials.Actor(),
			Description: fmt.Sprintf("Refund of route pass %s", req.RoutePassID),
			Committed:   true,
		})
		refundPaymentID, err := s.appendRefundItems(ctx, b, refundItemsSpec{
			itemType:   ledger.ItemRoutePass,
			entityID:   req.RoutePassID,
			amount:     amount,
			fee:        info.ProcessingFee,
			companyID:  pass.CompanyID,
			originTxID: originTxID,
			isMicro:    info.IsMicro,
		})
		if err != nil {
			return err
		}

		passID := req.RoutePassID
		priorStatus := pass.Status
		b.RecordUndo(ledger.UndoOp{
			Kind:        ledger.UndoRestoreRoutePassStatus,
			EntityID:    passID,
			PriorStatus: priorStatus,
			Run: func(ctx context.Context, q database.Querier) error {
				return s.passStore.SetStatus(ctx, q, passID, priorStatus)
			},
		})

		txn, undo, err = b.Build(ctx, ledger.TypeRefundPayment)
		if err != nil {
			return err
		}

		refunded, err := s.passStore.MarkRefunded(ctx, q, req.RoutePassID, txn.ID)
		if err != nil {
			return fmt.Errorf("mark route pass refunded: %w", err)
		}
		if !refunded {
			return common.NewTransactionError("notRefundable",
				fmt.Sprintf("route pass %s changed state during the refund", req.RoutePassID))
		}

		ch, err := s.payments.Refund(ctx, info)
		if err != nil {
			return err
		}
		return s.payments.RecordRefundResult(ctx, q, refundPaymentID, ch, info.IsMicro)
	})
	if err != nil {
		return nil, nil, nil, err
	}

	s.publishRefund(ctx, txn, originTxID, amount)
	return txn, undo, info, nil
}

// refundItemsSpec describes the four lines of a refund transaction
type refundItemsSpec struct {
	itemType   ledger.ItemType
	entityID   uuid.UUID
	amount     float64
	fee        float64
	companyID  uuid.UUID
	originTxID uuid.UUID
	isMicro    bool
}

// appendRefundItems pushes the refund's journal lines: the entity
// refund debit and gateway payment credit at the full amount, and the
// fee-adjusted transfer reversal against the company mirrored by the
// upstream-refunds account. The fee recovered from the gateway stays
// with the platform, so both sides stay balanced for any fee value.
func (s *Service) appendRefundItems(ctx context.Context, b *ledger.Builder, spec refundItemsSpec) (uuid.UUID, error) {
	if err := b.SetCompany(spec.companyID); err != nil {
		return uuid.Nil, err
	}

	refundPaymentID, err := s.ledgerStore.CreatePayment(ctx, b.Querier(), ledger.Notes{"isMicro": spec.isMicro})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create refund payment row: %w", err)
	}
	transferID, err := s.ledgerStore.CreateTransfer(ctx, b.Querier(), spec.companyID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create refund transfer row: %w", err)
	}
	accountID, err := s.ledgerStore.EnsureAccount(ctx, b.Querier(), ledger.AccountUpstreamRefunds)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure refund account row: %w", err)
	}

	netTransfer := money.RoundToCent(spec.amount - spec.fee)
	if netTransfer < 0 {
		netTransfer = 0
	}

	entityID := spec.entityID
	items := []*ledger.Item{
		{ItemType: spec.itemType, ItemID: &entityID, Debit: spec.amount,
			Notes: ledger.Notes{ledger.NoteRefundedTransactionID: spec.originTxID.String()}},
		{ItemType: ledger.ItemPayment, ItemID: &refundPaymentID, Credit: spec.amount},
		{ItemType: ledger.ItemTransfer, ItemID: &transferID, Debit: netTransfer,
			Notes: ledger.Notes{"companyId": spec.companyID.String()}},
		{ItemType: ledger.ItemAccount, ItemID: &accountID, Credit: netTransfer,
			Notes: ledger.Notes{ledger.NoteDescription: ledger.AccountUpstreamRefunds}},
	}
	for _, item := range items {
		if err := b.AddItem(item); err != nil {
			return uuid.Nil, err
		}
	}
	return refundPaymentID, nil
}

func (s *Service) publishRefund(ctx context.Context, txn *ledger.Transaction, originTxID uuid.UUID, amount float64) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventbus.SubjectRefundIssued, "transaction.refunded",
		eventbus.RefundIssuedData{
			TransactionID:       txn.ID,
			OriginTransactionID: originTxID,
			Amount:              amount,
		}); err != nil {
		logger.Warn("publish refund event failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err))
	}
}
