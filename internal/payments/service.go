package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/trips"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/config"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"github.com/skylinetransit/ticketing/pkg/metrics"
	"github.com/skylinetransit/ticketing/pkg/money"
	"go.uber.org/zap"
)

// RepositoryInterface is the payment-row persistence the service
// depends on
type RepositoryInterface interface {
	Get(ctx context.Context, q database.Querier, id uuid.UUID) (*Payment, error)
	GetForTransaction(ctx context.Context, q database.Querier, transactionID uuid.UUID) (*Payment, error)
	RecordChargeSuccess(ctx context.Context, q database.Querier, id uuid.UUID, chargeID string, data ledger.Notes, isMicro bool) error
	RecordChargeFailure(ctx context.Context, q database.Querier, id uuid.UUID, data ledger.Notes) error
}

// CardDetails identifies the card to charge: either a one-time token
// or a stored customer source
type CardDetails struct {
	Source     string
	CustomerID string
	SourceID   string
}

// Service captures and reverses card payments for committed
// transactions
type Service struct {
	db      database.TxRunner
	repo    RepositoryInterface
	gateway Gateway
	idemTag string
	live    bool
}

// NewService creates a payments service
func NewService(db database.TxRunner, repo RepositoryInterface, gateway Gateway, cfg *config.StripeConfig) *Service {
	return &Service{
		db:      db,
		repo:    repo,
		gateway: gateway,
		idemTag: cfg.IdempotencyTag,
		live:    cfg.IsLive(),
	}
}

// Gateway exposes the underlying gateway to workflows that need fee
// thresholds
func (s *Service) Gateway() Gateway { return s.gateway }

// ChargeSale captures the payment line of a committed sale
// transaction. Runs after the sale's database transaction commits;
// repeating the call with the same sessionIat reuses the idempotency
// key, so the gateway sees one charge. A zero payment line skips the
// gateway entirely.
func (s *Service) ChargeSale(ctx context.Context, txn *ledger.Transaction, company *trips.TransportCompany, card CardDetails, sessionIat int64) (*Charge, error) {
	payItem := txn.PaymentItem()
	if payItem == nil || payItem.Debit < ledger.ZeroSumTolerance {
		metrics.ChargeAttempt("skipped")
		return nil, nil
	}
	if payItem.ItemID == nil {
		return nil, common.NewInternalError("payment line has no payment row", nil)
	}
	paymentID := *payItem.ItemID

	req := ChargeRequest{
		ValueCents:          money.ToCents(payItem.Debit),
		Description:         txn.Description,
		StatementDescriptor: StatementDescriptor(company.Descriptor(), txn.ID),
		DestinationAccount:  company.MerchantID(s.live),
		IdempotencyKey:      ChargeIdempotencyKey(s.idemTag, txn.ID, sessionIat),
		Source:              card.Source,
		CustomerID:          card.CustomerID,
		SourceID:            card.SourceID,
	}

	ch, err := s.gateway.ChargeCard(ctx, req)
	if err != nil {
		metrics.ChargeAttempt("failed")
		logger.Error("gateway charge failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err))
		if recordErr := s.recordFailure(ctx, paymentID, err); recordErr != nil {
			logger.Error("recording charge failure failed",
				zap.String("payment_id", paymentID.String()),
				zap.Error(recordErr))
		}
		return nil, common.NewChargeError("card charge was declined or failed", err)
	}

	metrics.ChargeAttempt("succeeded")
	if err := s.recordSuccess(ctx, paymentID, ch); err != nil {
		// The charge exists at the gateway; a retry with the same
		// idempotency key reconciles the row.
		return ch, fmt.Errorf("persist charge outcome: %w", err)
	}
	return ch, nil
}

func (s *Service) recordSuccess(ctx context.Context, paymentID uuid.UUID, ch *Charge) error {
	data := ledger.Notes{}
	if raw, err := json.Marshal(ch); err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	return s.db.WithinTx(ctx, pgx.ReadCommitted, func(ctx context.Context, q database.Querier) error {
		return s.repo.RecordChargeSuccess(ctx, q, paymentID, ch.ID, data, s.gateway.IsMicro(ch.AmountCents))
	})
}

func (s *Service) recordFailure(ctx context.Context, paymentID uuid.UUID, chargeErr error) error {
	return s.db.WithinTx(ctx, pgx.ReadCommitted, func(ctx context.Context, q database.Querier) error {
		return s.repo.RecordChargeFailure(ctx, q, paymentID, ledger.Notes{
			"error": chargeErr.Error(),
		})
	})
}

// GenerateRefundInfo sizes a refund against the payment's charge. It
// verifies the unrefunded balance covers the amount and computes the
// processing fee the platform recovers as the fee delta between the
// balance before and after the refund.
func (s *Service) GenerateRefundInfo(ctx context.Context, payment *Payment, amount float64, idempotencyKey string) (*RefundInfo, error) {
	if payment.PaymentResource == nil || *payment.PaymentResource == "" {
		return nil, common.NewTransactionError("neverCharged",
			"the original payment was never captured by the gateway")
	}

	ch, err := s.gateway.RetrieveCharge(ctx, *payment.PaymentResource)
	if err != nil {
		return nil, common.NewChargeError("could not retrieve the original charge", err)
	}

	balanceCents := ch.BalanceCents()
	amountCents := money.ToCents(amount)
	if float64(balanceCents) < amount*100-0.1 {
		return nil, common.NewTransactionError("refundExceedsBalance",
			fmt.Sprintf("refund of %.2f exceeds the charge's unrefunded balance of %.2f",
				amount, money.FromCents(balanceCents)))
	}

	isMicro := payment.IsMicro()
	local := s.gateway.IsLocalAndNonAmex(ch.Source)
	feeBefore := s.gateway.AdminFeeCents(balanceCents, isMicro, local)
	feeAfter := s.gateway.AdminFeeCents(balanceCents-amountCents, isMicro, local)

	return &RefundInfo{
		ProcessingFee:   money.FromCents(feeBefore - feeAfter),
		Charge:          ch,
		IsMicro:         isMicro,
		BalanceAmtCents: balanceCents,
		Amount:          amount,
		IdempotencyKey:  idempotencyKey,
	}, nil
}

// Refund executes the gateway refund described by info
func (s *Service) Refund(ctx context.Context, info *RefundInfo) (*Charge, error) {
	ch, err := s.gateway.RefundCharge(ctx, RefundRequest{
		ChargeID:       info.Charge.ID,
		AmountCents:    money.ToCents(info.Amount),
		IdempotencyKey: info.IdempotencyKey,
	})
	if err != nil {
		metrics.RefundAttempt("failed")
		return nil, common.NewChargeError("gateway refund failed", err)
	}
	metrics.RefundAttempt("succeeded")
	return ch, nil
}

// GetPaymentForTransaction loads the payment row behind a
// transaction's payment line
func (s *Service) GetPaymentForTransaction(ctx context.Context, q database.Querier, transactionID uuid.UUID) (*Payment, error) {
	return s.repo.GetForTransaction(ctx, q, transactionID)
}

// RecordRefundResult stores the post-refund charge state on the
// refund transaction's payment row, inside the caller's transaction
func (s *Service) RecordRefundResult(ctx context.Context, q database.Querier, paymentID uuid.UUID, ch *Charge, isMicro bool) error {
	data := ledger.Notes{}
	if raw, err := json.Marshal(ch); err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	return s.repo.RecordChargeSuccess(ctx, q, paymentID, ch.ID, data, isMicro)
}

// TicketRefundKey builds the idempotency key for refunding a ticket
func (s *Service) TicketRefundKey(ticketID uuid.UUID) string {
	return TicketRefundIdempotencyKey(s.idemTag, ticketID)
}

// RoutePassRefundKey builds the idempotency key for refunding a
// route pass
func (s *Service) RoutePassRefundKey(passID uuid.UUID) string {
	return RoutePassRefundIdempotencyKey(s.idemTag, passID)
}
