package routepass_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/test/helpers"
	"github.com/skylinetransit/ticketing/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func saleTargets(t *testing.T, b *ledger.Builder, companyID, userID uuid.UUID, prices ...float64) []*ledger.Target {
	t.Helper()
	targets := make([]*ledger.Target, 0, len(prices))
	for _, price := range prices {
		target, err := b.AddSale(ledger.ItemTicketSale, uuid.New(), userID, companyID, price, nil)
		require.NoError(t, err)
		targets = append(targets, target)
	}
	return targets
}

func TestRoutePassApply(t *testing.T) {
	ctx := context.Background()
	companyID := uuid.New()
	userID := uuid.New()

	t.Run("voids one pass per target and discounts the face value", func(t *testing.T) {
		passes := []*routepass.RoutePass{
			helpers.NewRoutePass(userID, companyID, "shuttle", 10, routepass.StatusValid),
			helpers.NewRoutePass(userID, companyID, "shuttle", 10, routepass.StatusValid),
		}
		repo := new(mocks.MockPassStore)
		repo.On("FindRedeemable", mock.Anything, mock.Anything, userID, companyID, "shuttle", 2).Return(passes, nil)
		repo.On("SetStatusIf", mock.Anything, mock.Anything, passes[0].ID,
			[]string{routepass.StatusValid}, routepass.StatusVoid).Return(true, nil)
		repo.On("SetStatusIf", mock.Anything, mock.Anything, passes[1].ID,
			[]string{routepass.StatusValid}, routepass.StatusVoid).Return(true, nil)

		b := ledger.NewBuilder(nil, nil, nil, ledger.Options{})
		targets := saleTargets(t, b, companyID, userID, 10, 10)

		require.NoError(t, routepass.NewApplier(repo).Apply(ctx, b, companyID, "shuttle", targets))

		assert.Equal(t, 0.0, targets[0].Outstanding)
		assert.Equal(t, 0.0, targets[1].Outstanding)
		assert.Len(t, b.ItemsOfType(ledger.ItemDiscount), 2)
		assert.Len(t, b.UndoOps(), 2)
		repo.AssertExpectations(t)
	})

	t.Run("caps the discount at the target's outstanding amount", func(t *testing.T) {
		pass := helpers.NewRoutePass(userID, companyID, "shuttle", 15, routepass.StatusValid)
		repo := new(mocks.MockPassStore)
		repo.On("FindRedeemable", mock.Anything, mock.Anything, userID, companyID, "shuttle", 1).
			Return([]*routepass.RoutePass{pass}, nil)
		repo.On("SetStatusIf", mock.Anything, mock.Anything, pass.ID,
			[]string{routepass.StatusValid}, routepass.StatusVoid).Return(true, nil)

		b := ledger.NewBuilder(nil, nil, nil, ledger.Options{})
		targets := saleTargets(t, b, companyID, userID, 10)

		require.NoError(t, routepass.NewApplier(repo).Apply(ctx, b, companyID, "shuttle", targets))
		assert.Equal(t, 0.0, targets[0].Outstanding)
		assert.Equal(t, 10.0, targets[0].DiscountValue)
	})

	t.Run("skips a pass lost to a concurrent redemption", func(t *testing.T) {
		pass := helpers.NewRoutePass(userID, companyID, "shuttle", 10, routepass.StatusValid)
		repo := new(mocks.MockPassStore)
		repo.On("FindRedeemable", mock.Anything, mock.Anything, userID, companyID, "shuttle", 1).
			Return([]*routepass.RoutePass{pass}, nil)
		repo.On("SetStatusIf", mock.Anything, mock.Anything, pass.ID,
			[]string{routepass.StatusValid}, routepass.StatusVoid).Return(false, nil)

		b := ledger.NewBuilder(nil, nil, nil, ledger.Options{})
		targets := saleTargets(t, b, companyID, userID, 10)

		require.NoError(t, routepass.NewApplier(repo).Apply(ctx, b, companyID, "shuttle", targets))
		assert.Equal(t, 10.0, targets[0].Outstanding)
		assert.Empty(t, b.ItemsOfType(ledger.ItemDiscount))
		assert.Empty(t, b.UndoOps())
	})

	t.Run("dry run discounts without touching pass rows", func(t *testing.T) {
		pass := helpers.NewRoutePass(userID, companyID, "shuttle", 10, routepass.StatusValid)
		repo := new(mocks.MockPassStore)
		repo.On("FindRedeemable", mock.Anything, mock.Anything, userID, companyID, "shuttle", 1).
			Return([]*routepass.RoutePass{pass}, nil)

		b := ledger.NewBuilder(nil, nil, nil, ledger.Options{DryRun: true})
		targets := saleTargets(t, b, companyID, userID, 10)

		require.NoError(t, routepass.NewApplier(repo).Apply(ctx, b, companyID, "shuttle", targets))
		assert.Equal(t, 0.0, targets[0].Outstanding)
		repo.AssertNotCalled(t, "SetStatusIf",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("queries per user when targets span users", func(t *testing.T) {
		otherUser := uuid.New()
		repo := new(mocks.MockPassStore)
		repo.On("FindRedeemable", mock.Anything, mock.Anything, userID, companyID, "shuttle", 1).
			Return([]*routepass.RoutePass{}, nil)
		repo.On("FindRedeemable", mock.Anything, mock.Anything, otherUser, companyID, "shuttle", 1).
			Return([]*routepass.RoutePass{}, nil)

		b := ledger.NewBuilder(nil, nil, nil, ledger.Options{})
		_ = saleTargets(t, b, companyID, userID, 10)
		_, err := b.AddSale(ledger.ItemTicketSale, uuid.New(), otherUser, companyID, 10, nil)
		require.NoError(t, err)

		require.NoError(t, routepass.NewApplier(repo).Apply(ctx, b, companyID, "shuttle", b.Targets()))
		repo.AssertExpectations(t)
	})
}
