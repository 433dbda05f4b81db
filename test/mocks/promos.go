package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/stretchr/testify/mock"
)

// MockPromoStore is a mock implementation of promo-code persistence
type MockPromoStore struct {
	mock.Mock
}

func (m *MockPromoStore) GetByCodeForUpdate(ctx context.Context, q database.Querier, code string) (*promos.PromoCode, error) {
	args := m.Called(ctx, q, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*promos.PromoCode), args.Error(1)
}

func (m *MockPromoStore) IncrementUses(ctx context.Context, q database.Querier, id uuid.UUID) error {
	args := m.Called(ctx, q, id)
	return args.Error(0)
}

// MockPromoApplier is a mock of the promo applier used by workflows
type MockPromoApplier struct {
	mock.Mock
}

func (m *MockPromoApplier) Apply(ctx context.Context, b *ledger.Builder, code string, scope promos.Scope) error {
	args := m.Called(ctx, b, code, scope)
	return args.Error(0)
}

// MockPassApplier is a mock of the route-pass applier used by the sale
// workflow
type MockPassApplier struct {
	mock.Mock
}

func (m *MockPassApplier) Apply(ctx context.Context, b *ledger.Builder, companyID uuid.UUID, tag string, targets []*ledger.Target) error {
	args := m.Called(ctx, b, companyID, tag, targets)
	return args.Error(0)
}
