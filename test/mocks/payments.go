package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/payments"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/stretchr/testify/mock"
)

// MockGateway mocks the card-gateway network calls while keeping the
// real fee schedule, so fee assertions exercise production math.
type MockGateway struct {
	mock.Mock
	payments.FeeSchedule
}

func (m *MockGateway) ChargeCard(ctx context.Context, req payments.ChargeRequest) (*payments.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Charge), args.Error(1)
}

func (m *MockGateway) RefundCharge(ctx context.Context, req payments.RefundRequest) (*payments.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Charge), args.Error(1)
}

func (m *MockGateway) RetrieveCharge(ctx context.Context, chargeID string) (*payments.Charge, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Charge), args.Error(1)
}

// MockPaymentRepository mocks payment-row persistence
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Get(ctx context.Context, q database.Querier, id uuid.UUID) (*payments.Payment, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetForTransaction(ctx context.Context, q database.Querier, transactionID uuid.UUID) (*payments.Payment, error) {
	args := m.Called(ctx, q, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Payment), args.Error(1)
}

func (m *MockPaymentRepository) RecordChargeSuccess(ctx context.Context, q database.Querier, id uuid.UUID, chargeID string, data ledger.Notes, isMicro bool) error {
	args := m.Called(ctx, q, id, chargeID, data, isMicro)
	return args.Error(0)
}

func (m *MockPaymentRepository) RecordChargeFailure(ctx context.Context, q database.Querier, id uuid.UUID, data ledger.Notes) error {
	args := m.Called(ctx, q, id, data)
	return args.Error(0)
}

// MockPaymentService mocks the gateway-facing surface the refund
// workflow depends on
type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) GetPaymentForTransaction(ctx context.Context, q database.Querier, transactionID uuid.UUID) (*payments.Payment, error) {
	args := m.Called(ctx, q, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Payment), args.Error(1)
}

func (m *MockPaymentService) GenerateRefundInfo(ctx context.Context, payment *payments.Payment, amount float64, idempotencyKey string) (*payments.RefundInfo, error) {
	args := m.Called(ctx, payment, amount, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.RefundInfo), args.Error(1)
}

func (m *MockPaymentService) Refund(ctx context.Context, info *payments.RefundInfo) (*payments.Charge, error) {
	args := m.Called(ctx, info)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Charge), args.Error(1)
}

func (m *MockPaymentService) RecordRefundResult(ctx context.Context, q database.Querier, paymentID uuid.UUID, ch *payments.Charge, isMicro bool) error {
	args := m.Called(ctx, q, paymentID, ch, isMicro)
	return args.Error(0)
}

func (m *MockPaymentService) TicketRefundKey(ticketID uuid.UUID) string {
	args := m.Called(ticketID)
	return args.String(0)
}

func (m *MockPaymentService) RoutePassRefundKey(passID uuid.UUID) string {
	args := m.Called(passID)
	return args.String(0)
}
