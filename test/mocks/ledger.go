package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/stretchr/testify/mock"
)

// MockLedgerStore is a mock implementation of the ledger persistence
// surface, covering the builder store and the workflow lookups
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) CreateTransaction(ctx context.Context, q database.Querier, t *ledger.Transaction) error {
	args := m.Called(ctx, q, t)
	return args.Error(0)
}

func (m *MockLedgerStore) CreateItems(ctx context.Context, q database.Querier, items []*ledger.Item) error {
	args := m.Called(ctx, q, items)
	return args.Error(0)
}

func (m *MockLedgerStore) CreatePayment(ctx context.Context, q database.Querier, options ledger.Notes) (uuid.UUID, error) {
	args := m.Called(ctx, q, options)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockLedgerStore) CreateTransfer(ctx context.Context, q database.Querier, companyID uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, q, companyID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockLedgerStore) EnsureAccount(ctx context.Context, q database.Querier, name string) (uuid.UUID, error) {
	args := m.Called(ctx, q, name)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockLedgerStore) GetTransaction(ctx context.Context, q database.Querier, id uuid.UUID) (*ledger.Transaction, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Transaction), args.Error(1)
}

func (m *MockLedgerStore) SetCommitted(ctx context.Context, q database.Querier, id uuid.UUID, committed, expect bool) (bool, error) {
	args := m.Called(ctx, q, id, committed, expect)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerStore) GetSaleItemForTicket(ctx context.Context, q database.Querier, ticketID uuid.UUID) (*ledger.Item, error) {
	args := m.Called(ctx, q, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Item), args.Error(1)
}

func (m *MockLedgerStore) GetPurchaseItemForRoutePass(ctx context.Context, q database.Querier, passID uuid.UUID) (*ledger.Item, error) {
	args := m.Called(ctx, q, passID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Item), args.Error(1)
}

func (m *MockLedgerStore) SumRefundsForTicket(ctx context.Context, q database.Querier, ticketID uuid.UUID) (float64, error) {
	args := m.Called(ctx, q, ticketID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockLedgerStore) HasRefundForRoutePass(ctx context.Context, q database.Querier, passID uuid.UUID) (bool, error) {
	args := m.Called(ctx, q, passID)
	return args.Bool(0), args.Error(1)
}
