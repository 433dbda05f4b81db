package promos_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/test/helpers"
	"github.com/skylinetransit/ticketing/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSaleBuilder(t *testing.T, dryRun bool, prices ...float64) (*ledger.Builder, []*ledger.Target) {
	t.Helper()
	b := ledger.NewBuilder(nil, nil, nil, ledger.Options{DryRun: dryRun})
	companyID := uuid.New()
	targets := make([]*ledger.Target, 0, len(prices))
	for _, price := range prices {
		target, err := b.AddSale(ledger.ItemTicketSale, uuid.New(), uuid.New(), companyID, price, nil)
		require.NoError(t, err)
		targets = append(targets, target)
	}
	return b, targets
}

func TestPromoApply(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown code", func(t *testing.T) {
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "NOPE").Return(nil, nil)

		b, _ := newSaleBuilder(t, true, 10)
		err := promos.NewApplier(repo).Apply(ctx, b, "NOPE", promos.ScopePromotion)
		require.Error(t, err)
		assert.True(t, common.IsReason(err, promos.ReasonPromoNotFound))
	})

	t.Run("inactive code", func(t *testing.T) {
		promo := helpers.NewPercentagePromo("SAVE10", 10, promos.AppliesToTickets)
		promo.IsActive = false
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "SAVE10").Return(promo, nil)

		b, _ := newSaleBuilder(t, true, 10)
		err := promos.NewApplier(repo).Apply(ctx, b, "SAVE10", promos.ScopePromotion)
		assert.True(t, common.IsReason(err, promos.ReasonPromoNotFound))
	})

	t.Run("expired code", func(t *testing.T) {
		promo := helpers.NewPercentagePromo("OLD", 10, promos.AppliesToTickets)
		until := time.Now().Add(-time.Minute)
		promo.ValidUntil = &until
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "OLD").Return(promo, nil)

		b, _ := newSaleBuilder(t, true, 10)
		err := promos.NewApplier(repo).Apply(ctx, b, "OLD", promos.ScopePromotion)
		assert.True(t, common.IsReason(err, promos.ReasonPromoExpired))
	})

	t.Run("exhausted code", func(t *testing.T) {
		promo := helpers.NewPercentagePromo("GONE", 10, promos.AppliesToTickets)
		maxUses := 5
		promo.MaxUses = &maxUses
		promo.UsesCount = 5
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "GONE").Return(promo, nil)

		b, _ := newSaleBuilder(t, true, 10)
		err := promos.NewApplier(repo).Apply(ctx, b, "GONE", promos.ScopePromotion)
		assert.True(t, common.IsReason(err, promos.ReasonPromoExhausted))
	})

	t.Run("scope mismatch", func(t *testing.T) {
		promo := helpers.NewPercentagePromo("TICKETSONLY", 10, promos.AppliesToTickets)
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "TICKETSONLY").Return(promo, nil)

		b := ledger.NewBuilder(nil, nil, nil, ledger.Options{DryRun: true})
		_, err := b.AddSale(ledger.ItemRoutePass, uuid.New(), uuid.New(), uuid.New(), 10, nil)
		require.NoError(t, err)

		err = promos.NewApplier(repo).Apply(ctx, b, "TICKETSONLY", promos.ScopeRoutePass)
		assert.True(t, common.IsReason(err, promos.ReasonPromoInapplicable))
	})

	t.Run("percentage discount split across targets", func(t *testing.T) {
		promo := helpers.NewPercentagePromo("SAVE10", 10, promos.AppliesToBoth)
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "SAVE10").Return(promo, nil)
		repo.On("IncrementUses", mock.Anything, mock.Anything, promo.ID).Return(nil)

		b, targets := newSaleBuilder(t, false, 10, 20)
		err := promos.NewApplier(repo).Apply(ctx, b, "SAVE10", promos.ScopePromotion)
		require.NoError(t, err)

		assert.InDelta(t, 1.00, targets[0].DiscountValue, 1e-9)
		assert.InDelta(t, 2.00, targets[1].DiscountValue, 1e-9)
		discounts := b.ItemsOfType(ledger.ItemDiscount)
		require.Len(t, discounts, 1)
		assert.InDelta(t, 3.00, discounts[0].Debit, 1e-9)
		assert.Equal(t, promo.Code, discounts[0].Notes.String(ledger.NoteCode))
		repo.AssertExpectations(t)
	})

	t.Run("fixed discount clamps to the outstanding base", func(t *testing.T) {
		promo := helpers.NewFixedPromo("BIG", 100, promos.AppliesToTickets)
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "BIG").Return(promo, nil)
		repo.On("IncrementUses", mock.Anything, mock.Anything, promo.ID).Return(nil)

		b, targets := newSaleBuilder(t, false, 8)
		err := promos.NewApplier(repo).Apply(ctx, b, "BIG", promos.ScopePromotion)
		require.NoError(t, err)
		assert.Equal(t, 0.0, targets[0].Outstanding)
		assert.Equal(t, 8.0, targets[0].DiscountValue)
	})

	t.Run("max discount amount caps a percentage", func(t *testing.T) {
		promo := helpers.NewPercentagePromo("CAPPED", 50, promos.AppliesToTickets)
		cap := 2.0
		promo.MaxDiscountAmount = &cap
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "CAPPED").Return(promo, nil)
		repo.On("IncrementUses", mock.Anything, mock.Anything, promo.ID).Return(nil)

		b, targets := newSaleBuilder(t, false, 10)
		err := promos.NewApplier(repo).Apply(ctx, b, "CAPPED", promos.ScopePromotion)
		require.NoError(t, err)
		assert.Equal(t, 2.0, targets[0].DiscountValue)
	})

	t.Run("dry run skips the usage increment", func(t *testing.T) {
		promo := helpers.NewPercentagePromo("SAVE10", 10, promos.AppliesToTickets)
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "SAVE10").Return(promo, nil)

		b, _ := newSaleBuilder(t, true, 10)
		require.NoError(t, promos.NewApplier(repo).Apply(ctx, b, "SAVE10", promos.ScopePromotion))
		repo.AssertNotCalled(t, "IncrementUses", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no target with outstanding value", func(t *testing.T) {
		promo := helpers.NewPercentagePromo("SAVE10", 10, promos.AppliesToTickets)
		repo := new(mocks.MockPromoStore)
		repo.On("GetByCodeForUpdate", mock.Anything, mock.Anything, "SAVE10").Return(promo, nil)

		b, targets := newSaleBuilder(t, true, 10)
		_, err := b.ApplyDiscount(targets, []float64{10}, nil)
		require.NoError(t, err)

		err = promos.NewApplier(repo).Apply(ctx, b, "SAVE10", promos.ScopePromotion)
		assert.True(t, common.IsReason(err, promos.ReasonPromoInapplicable))
	})
}
