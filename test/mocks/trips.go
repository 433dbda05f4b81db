package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/trips"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/stretchr/testify/mock"
)

// MockTripStore is a mock implementation of the trip read surface
type MockTripStore struct {
	mock.Mock
}

func (m *MockTripStore) GetTripsByIDs(ctx context.Context, q database.Querier, ids []uuid.UUID, forUpdate bool) (map[uuid.UUID]*trips.Trip, error) {
	args := m.Called(ctx, q, ids, forUpdate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]*trips.Trip), args.Error(1)
}

func (m *MockTripStore) SeatsTaken(ctx context.Context, q database.Querier, tripID uuid.UUID) (int, error) {
	args := m.Called(ctx, q, tripID)
	return args.Int(0), args.Error(1)
}

func (m *MockTripStore) GetCompanyForTrip(ctx context.Context, q database.Querier, tripID uuid.UUID) (*trips.TransportCompany, error) {
	args := m.Called(ctx, q, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trips.TransportCompany), args.Error(1)
}

func (m *MockTripStore) NextTripPriceForTag(ctx context.Context, q database.Querier, companyID uuid.UUID, tag string) (float64, error) {
	args := m.Called(ctx, q, companyID, tag)
	return args.Get(0).(float64), args.Error(1)
}
