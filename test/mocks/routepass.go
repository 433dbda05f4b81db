package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/stretchr/testify/mock"
)

// MockPassStore is a mock implementation of route-pass persistence
type MockPassStore struct {
	mock.Mock
}

func (m *MockPassStore) Get(ctx context.Context, q database.Querier, id uuid.UUID) (*routepass.RoutePass, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*routepass.RoutePass), args.Error(1)
}

func (m *MockPassStore) FindRedeemable(ctx context.Context, q database.Querier, userID, companyID uuid.UUID, tag string, limit int) ([]*routepass.RoutePass, error) {
	args := m.Called(ctx, q, userID, companyID, tag, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*routepass.RoutePass), args.Error(1)
}

func (m *MockPassStore) SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status string) error {
	args := m.Called(ctx, q, id, status)
	return args.Error(0)
}

func (m *MockPassStore) SetStatusIf(ctx context.Context, q database.Querier, id uuid.UUID, from []string, to string) (bool, error) {
	args := m.Called(ctx, q, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockPassStore) MarkRefunded(ctx context.Context, q database.Querier, id uuid.UUID, refundTransactionID uuid.UUID) (bool, error) {
	args := m.Called(ctx, q, id, refundTransactionID)
	return args.Bool(0), args.Error(1)
}
