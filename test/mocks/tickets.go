package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/tickets"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/stretchr/testify/mock"
)

// MockTicketStore is a mock implementation of ticket persistence
type MockTicketStore struct {
	mock.Mock
}

func (m *MockTicketStore) Create(ctx context.Context, q database.Querier, t *tickets.Ticket) error {
	args := m.Called(ctx, q, t)
	return args.Error(0)
}

func (m *MockTicketStore) Get(ctx context.Context, q database.Querier, id uuid.UUID) (*tickets.Ticket, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tickets.Ticket), args.Error(1)
}

func (m *MockTicketStore) FindActiveForTrip(ctx context.Context, q database.Querier, userID, tripID uuid.UUID) ([]*tickets.Ticket, error) {
	args := m.Called(ctx, q, userID, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*tickets.Ticket), args.Error(1)
}

func (m *MockTicketStore) SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status string) error {
	args := m.Called(ctx, q, id, status)
	return args.Error(0)
}

func (m *MockTicketStore) SetStatusIf(ctx context.Context, q database.Querier, id uuid.UUID, from []string, to string) (bool, error) {
	args := m.Called(ctx, q, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockTicketStore) AddDiscountValue(ctx context.Context, q database.Querier, id uuid.UUID, delta float64) error {
	args := m.Called(ctx, q, id, delta)
	return args.Error(0)
}

func (m *MockTicketStore) MarkRefunded(ctx context.Context, q database.Querier, id uuid.UUID, refundTransactionID uuid.UUID) (bool, error) {
	args := m.Called(ctx, q, id, refundTransactionID)
	return args.Bool(0), args.Error(1)
}
