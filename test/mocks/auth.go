package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/auth"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/stretchr/testify/mock"
)

// MockGuard is a mock implementation of the admin-policy guard
type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) AssertAdminRole(ctx context.Context, q database.Querier, creds auth.Credentials, action string, companyID uuid.UUID) error {
	args := m.Called(ctx, q, creds, action, companyID)
	return args.Error(0)
}

// MockAdminStore is a mock implementation of company-admin membership
type MockAdminStore struct {
	mock.Mock
}

func (m *MockAdminStore) IsCompanyAdmin(ctx context.Context, q database.Querier, adminID, companyID uuid.UUID) (bool, error) {
	args := m.Called(ctx, q, adminID, companyID)
	return args.Bool(0), args.Error(1)
}
