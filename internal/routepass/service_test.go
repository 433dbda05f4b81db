package routepass_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/test/helpers"
	"github.com/skylinetransit/ticketing/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func newPurchaseService(prices *mocks.MockTripStore, promoApply *mocks.MockPromoApplier) (*routepass.Service, *mocks.StubTxRunner) {
	runner := &mocks.StubTxRunner{}
	svc := routepass.NewService(runner, nil, routepass.NewRepository(), prices, promoApply, nil)
	return svc, runner
}

func TestPurchase(t *testing.T) {
	ctx := context.Background()
	companyID := uuid.New()
	userID := uuid.New()

	t.Run("sells quantity passes at the next trip's price", func(t *testing.T) {
		prices := new(mocks.MockTripStore)
		prices.On("NextTripPriceForTag", mock.Anything, mock.Anything, companyID, "shuttle").Return(12.0, nil)

		svc, runner := newPurchaseService(prices, nil)
		txn, undo, err := svc.Purchase(ctx, &routepass.PurchaseRequest{
			UserID:    userID,
			CompanyID: companyID,
			Tag:       "shuttle",
			Quantity:  intPtr(3),
			DryRun:    true,
			Committed: true,
		})
		require.NoError(t, err)
		require.NotNil(t, undo)

		helpers.AssertBalanced(t, txn)
		assert.Equal(t, ledger.TypeRoutePassPurchase, txn.Type)
		assert.Len(t, txn.ItemsOfType(ledger.ItemRoutePass), 3)
		assert.InDelta(t, 36.0, txn.PaymentItem().Debit, 1e-9)
		require.Len(t, runner.Isolations, 1)
		assert.Equal(t, pgx.Serializable, runner.Isolations[0])
	})

	t.Run("derives quantity from a target value", func(t *testing.T) {
		prices := new(mocks.MockTripStore)
		prices.On("NextTripPriceForTag", mock.Anything, mock.Anything, companyID, "shuttle").Return(12.0, nil)

		svc, _ := newPurchaseService(prices, nil)
		txn, _, err := svc.Purchase(ctx, &routepass.PurchaseRequest{
			UserID:    userID,
			CompanyID: companyID,
			Tag:       "shuttle",
			Value:     floatPtr(25),
			DryRun:    true,
		})
		require.NoError(t, err)
		// 25 / 12 rounds to 2 passes
		assert.Len(t, txn.ItemsOfType(ledger.ItemRoutePass), 2)
		assert.InDelta(t, 24.0, txn.PaymentItem().Debit, 1e-9)
	})

	t.Run("fails when no upcoming trip carries the tag", func(t *testing.T) {
		prices := new(mocks.MockTripStore)
		prices.On("NextTripPriceForTag", mock.Anything, mock.Anything, companyID, "ghost").Return(0.0, pgx.ErrNoRows)

		svc, _ := newPurchaseService(prices, nil)
		_, _, err := svc.Purchase(ctx, &routepass.PurchaseRequest{
			UserID:    userID,
			CompanyID: companyID,
			Tag:       "ghost",
			Quantity:  intPtr(1),
			DryRun:    true,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, "noUpcomingTrips"))
	})

	t.Run("fails when the computed price moved off the quote", func(t *testing.T) {
		prices := new(mocks.MockTripStore)
		prices.On("NextTripPriceForTag", mock.Anything, mock.Anything, companyID, "shuttle").Return(12.0, nil)

		svc, _ := newPurchaseService(prices, nil)
		_, _, err := svc.Purchase(ctx, &routepass.PurchaseRequest{
			UserID:        userID,
			CompanyID:     companyID,
			Tag:           "shuttle",
			Quantity:      intPtr(1),
			ExpectedPrice: floatPtr(10),
			DryRun:        true,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, common.ReasonPriceChanged))
	})

	t.Run("applies a promo against route pass targets", func(t *testing.T) {
		prices := new(mocks.MockTripStore)
		prices.On("NextTripPriceForTag", mock.Anything, mock.Anything, companyID, "shuttle").Return(12.0, nil)
		promoApply := new(mocks.MockPromoApplier)
		promoApply.On("Apply", mock.Anything, mock.Anything, "SAVE10", promos.ScopeRoutePass).Return(nil)

		svc, _ := newPurchaseService(prices, promoApply)
		_, _, err := svc.Purchase(ctx, &routepass.PurchaseRequest{
			UserID:    userID,
			CompanyID: companyID,
			Tag:       "shuttle",
			Quantity:  intPtr(1),
			PromoCode: "SAVE10",
			DryRun:    true,
		})
		require.NoError(t, err)
		promoApply.AssertExpectations(t)
	})

	t.Run("rejects quantity and value together", func(t *testing.T) {
		svc, _ := newPurchaseService(new(mocks.MockTripStore), nil)
		_, _, err := svc.Purchase(ctx, &routepass.PurchaseRequest{
			UserID:    userID,
			CompanyID: companyID,
			Tag:       "shuttle",
			Quantity:  intPtr(1),
			Value:     floatPtr(12),
			DryRun:    true,
		})
		require.Error(t, err)
		assert.Equal(t, common.KindValidation, common.KindOf(err))
	})
}
