package refunds_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/payments"
	"github.com/skylinetransit/ticketing/internal/refunds"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/internal/tickets"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/test/helpers"
	"github.com/skylinetransit/ticketing/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type refundFixture struct {
	svc         *refunds.Service
	runner      *mocks.StubTxRunner
	ledgerStore *mocks.MockLedgerStore
	ticketStore *mocks.MockTicketStore
	passStore   *mocks.MockPassStore
	tripStore   *mocks.MockTripStore
	payments    *mocks.MockPaymentService
	guard       *mocks.MockGuard
}

func newRefundFixture() *refundFixture {
	f := &refundFixture{
		runner:      &mocks.StubTxRunner{},
		ledgerStore: new(mocks.MockLedgerStore),
		ticketStore: new(mocks.MockTicketStore),
		passStore:   new(mocks.MockPassStore),
		tripStore:   new(mocks.MockTripStore),
		payments:    new(mocks.MockPaymentService),
		guard:       new(mocks.MockGuard),
	}
	f.svc = refunds.NewService(f.runner, f.ledgerStore, f.ticketStore, f.passStore,
		f.tripStore, f.payments, f.guard, nil)
	return f
}

func (f *refundFixture) allowAdmin() {
	f.guard.On("AssertAdminRole", mock.Anything, mock.Anything, mock.Anything, "refund", mock.Anything).
		Return(nil)
}

func (f *refundFixture) expectGatewayRefund(amount, fee float64) {
	f.payments.On("GetPaymentForTransaction", mock.Anything, mock.Anything, mock.Anything).
		Return(&payments.Payment{ID: uuid.New()}, nil)
	f.payments.On("GenerateRefundInfo", mock.Anything, mock.Anything, amount, mock.Anything).
		Return(&payments.RefundInfo{Amount: amount, ProcessingFee: fee}, nil)
	f.payments.On("Refund", mock.Anything, mock.Anything).
		Return(&payments.Charge{ID: "ch_1"}, nil)
	f.payments.On("RecordRefundResult", mock.Anything, mock.Anything, mock.Anything, mock.Anything, false).
		Return(nil)
}

func (f *refundFixture) expectPersistence() {
	f.ledgerStore.On("CreatePayment", mock.Anything, mock.Anything, mock.Anything).Return(uuid.New(), nil)
	f.ledgerStore.On("CreateTransfer", mock.Anything, mock.Anything, mock.Anything).Return(uuid.New(), nil)
	f.ledgerStore.On("EnsureAccount", mock.Anything, mock.Anything, ledger.AccountUpstreamRefunds).
		Return(uuid.New(), nil)
	f.ledgerStore.On("CreateTransaction", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.ledgerStore.On("CreateItems", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func TestRefundTicket(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tripID := uuid.New()
	company := helpers.NewCompany("alpha")
	originTxID := uuid.New()
	creds := helpers.SuperadminCredentials()

	t.Run("refunds a valid ticket in full", func(t *testing.T) {
		ticket := helpers.NewTicket(userID, tripID, tickets.StatusValid)
		f := newRefundFixture()
		f.ticketStore.On("Get", mock.Anything, mock.Anything, ticket.ID).Return(ticket, nil)
		f.tripStore.On("GetCompanyForTrip", mock.Anything, mock.Anything, tripID).Return(company, nil)
		f.allowAdmin()
		f.ledgerStore.On("GetSaleItemForTicket", mock.Anything, mock.Anything, ticket.ID).
			Return(&ledger.Item{TransactionID: originTxID, Credit: 10}, nil)
		f.ledgerStore.On("SumRefundsForTicket", mock.Anything, mock.Anything, ticket.ID).Return(0.0, nil)
		f.payments.On("TicketRefundKey", ticket.ID).Return("Refund:ticket")
		f.expectGatewayRefund(10.0, 0.84)
		f.expectPersistence()
		f.ticketStore.On("MarkRefunded", mock.Anything, mock.Anything, ticket.ID, mock.Anything).
			Return(true, nil)

		txn, undo, info, err := f.svc.RefundTicket(ctx, &refunds.TicketRefundRequest{
			TicketID:     ticket.ID,
			TargetAmount: 10,
			Credentials:  creds,
		})
		require.NoError(t, err)
		require.NotNil(t, undo)
		require.NotNil(t, info)

		helpers.AssertBalanced(t, txn)
		assert.Equal(t, ledger.TypeRefundPayment, txn.Type)
		assert.True(t, txn.Committed)
		helpers.AssertTypeTotal(t, txn, ledger.ItemTicketRefund, 10, 0)
		helpers.AssertTypeTotal(t, txn, ledger.ItemPayment, 0, 10)
		helpers.AssertTypeTotal(t, txn, ledger.ItemTransfer, 9.16, 0)
		helpers.AssertTypeTotal(t, txn, ledger.ItemAccount, 0, 9.16)

		refundItems := txn.ItemsOfType(ledger.ItemTicketRefund)
		require.Len(t, refundItems, 1)
		assert.Equal(t, originTxID.String(), refundItems[0].Notes.String(ledger.NoteRefundedTransactionID))

		require.Len(t, f.runner.Isolations, 1)
		assert.Equal(t, pgx.ReadCommitted, f.runner.Isolations[0])
		f.ticketStore.AssertCalled(t, "MarkRefunded", mock.Anything, mock.Anything, ticket.ID, txn.ID)
		f.payments.AssertExpectations(t)
	})

	t.Run("rejects anything but the full remaining value", func(t *testing.T) {
		ticket := helpers.NewTicket(userID, tripID, tickets.StatusValid)
		f := newRefundFixture()
		f.ticketStore.On("Get", mock.Anything, mock.Anything, ticket.ID).Return(ticket, nil)
		f.tripStore.On("GetCompanyForTrip", mock.Anything, mock.Anything, tripID).Return(company, nil)
		f.allowAdmin()
		f.ledgerStore.On("GetSaleItemForTicket", mock.Anything, mock.Anything, ticket.ID).
			Return(&ledger.Item{TransactionID: originTxID, Credit: 10}, nil)

		_, _, _, err := f.svc.RefundTicket(ctx, &refunds.TicketRefundRequest{
			TicketID:     ticket.ID,
			TargetAmount: 5,
			Credentials:  creds,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, "partialRefund"))
		assert.Contains(t, err.Error(), "requires requested refund to equal ticket value after discounts")
	})

	t.Run("refunds against the price after discounts", func(t *testing.T) {
		ticket := helpers.NewTicket(userID, tripID, tickets.StatusValid)
		ticket.Notes[ledger.NoteDiscountValue] = 4.0
		f := newRefundFixture()
		f.ticketStore.On("Get", mock.Anything, mock.Anything, ticket.ID).Return(ticket, nil)
		f.tripStore.On("GetCompanyForTrip", mock.Anything, mock.Anything, tripID).Return(company, nil)
		f.allowAdmin()
		f.ledgerStore.On("GetSaleItemForTicket", mock.Anything, mock.Anything, ticket.ID).
			Return(&ledger.Item{TransactionID: originTxID, Credit: 10}, nil)
		f.ledgerStore.On("SumRefundsForTicket", mock.Anything, mock.Anything, ticket.ID).Return(0.0, nil)
		f.payments.On("TicketRefundKey", ticket.ID).Return("Refund:ticket")
		f.expectGatewayRefund(6.0, 0.35)
		f.expectPersistence()
		f.ticketStore.On("MarkRefunded", mock.Anything, mock.Anything, ticket.ID, mock.Anything).
			Return(true, nil)

		txn, _, _, err := f.svc.RefundTicket(ctx, &refunds.TicketRefundRequest{
			TicketID:     ticket.ID,
			TargetAmount: 6,
			Credentials:  creds,
		})
		require.NoError(t, err)
		helpers.AssertBalanced(t, txn)
		helpers.AssertTypeTotal(t, txn, ledger.ItemTicketRefund, 6, 0)
		helpers.AssertTypeTotal(t, txn, ledger.ItemTransfer, 5.65, 0)
	})

	t.Run("a refunded ticket is not refundable", func(t *testing.T) {
		ticket := helpers.NewTicket(userID, tripID, tickets.StatusRefunded)
		f := newRefundFixture()
		f.ticketStore.On("Get", mock.Anything, mock.Anything, ticket.ID).Return(ticket, nil)

		_, _, _, err := f.svc.RefundTicket(ctx, &refunds.TicketRefundRequest{
			TicketID:     ticket.ID,
			TargetAmount: 10,
			Credentials:  creds,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, "notRefundable"))
	})

	t.Run("prior refunds bound the refundable remainder", func(t *testing.T) {
		ticket := helpers.NewTicket(userID, tripID, tickets.StatusValid)
		f := newRefundFixture()
		f.ticketStore.On("Get", mock.Anything, mock.Anything, ticket.ID).Return(ticket, nil)
		f.tripStore.On("GetCompanyForTrip", mock.Anything, mock.Anything, tripID).Return(company, nil)
		f.allowAdmin()
		f.ledgerStore.On("GetSaleItemForTicket", mock.Anything, mock.Anything, ticket.ID).
			Return(&ledger.Item{TransactionID: originTxID, Credit: 10}, nil)
		f.ledgerStore.On("SumRefundsForTicket", mock.Anything, mock.Anything, ticket.ID).Return(10.0, nil)

		_, _, _, err := f.svc.RefundTicket(ctx, &refunds.TicketRefundRequest{
			TicketID:     ticket.ID,
			TargetAmount: 10,
			Credentials:  creds,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, "refundExceedsRemaining"))
	})

	t.Run("a denied admin stops the refund", func(t *testing.T) {
		ticket := helpers.NewTicket(userID, tripID, tickets.StatusValid)
		f := newRefundFixture()
		f.ticketStore.On("Get", mock.Anything, mock.Anything, ticket.ID).Return(ticket, nil)
		f.tripStore.On("GetCompanyForTrip", mock.Anything, mock.Anything, tripID).Return(company, nil)
		f.guard.On("AssertAdminRole", mock.Anything, mock.Anything, mock.Anything, "refund", company.ID).
			Return(common.NewTransactionError("forbidden", "not your company"))

		_, _, _, err := f.svc.RefundTicket(ctx, &refunds.TicketRefundRequest{
			TicketID:     ticket.ID,
			TargetAmount: 10,
			Credentials:  creds,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, "forbidden"))
		f.ledgerStore.AssertNotCalled(t, "GetSaleItemForTicket",
			mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("an origin that never charged cannot be refunded", func(t *testing.T) {
		ticket := helpers.NewTicket(userID, tripID, tickets.StatusValid)
		f := newRefundFixture()
		f.ticketStore.On("Get", mock.Anything, mock.Anything, ticket.ID).Return(ticket, nil)
		f.tripStore.On("GetCompanyForTrip", mock.Anything, mock.Anything, tripID).Return(company, nil)
		f.allowAdmin()
		f.ledgerStore.On("GetSaleItemForTicket", mock.Anything, mock.Anything, ticket.ID).
			Return(&ledger.Item{TransactionID: originTxID, Credit: 10}, nil)
		f.ledgerStore.On("SumRefundsForTicket", mock.Anything, mock.Anything, ticket.ID).Return(0.0, nil)
		f.payments.On("GetPaymentForTransaction", mock.Anything, mock.Anything, originTxID).
			Return(nil, nil)

		_, _, _, err := f.svc.RefundTicket(ctx, &refunds.TicketRefundRequest{
			TicketID:     ticket.ID,
			TargetAmount: 10,
			Credentials:  creds,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, "neverCharged"))
	})
}

func TestRefundRoutePass(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	companyID := uuid.New()
	originTxID := uuid.New()
	creds := helpers.SuperadminCredentials()

	t.Run("refunds the purchase price net of discounts", func(t *testing.T) {
		pass := helpers.NewRoutePass(userID, companyID, "shuttle", 12, routepass.StatusValid)
		pass.Notes[ledger.NoteDiscountValue] = 2.0
		f := newRefundFixture()
		f.passStore.On("Get", mock.Anything, mock.Anything, pass.ID).Return(pass, nil)
		f.allowAdmin()
		f.ledgerStore.On("HasRefundForRoutePass", mock.Anything, mock.Anything, pass.ID).Return(false, nil)
		f.ledgerStore.On("GetPurchaseItemForRoutePass", mock.Anything, mock.Anything, pass.ID).
			Return(&ledger.Item{TransactionID: originTxID, Credit: 12}, nil)
		f.payments.On("RoutePassRefundKey", pass.ID).Return("Refund:routePass")
		f.expectGatewayRefund(10.0, 0.84)
		f.expectPersistence()
		f.passStore.On("MarkRefunded", mock.Anything, mock.Anything, pass.ID, mock.Anything).
			Return(true, nil)

		txn, undo, info, err := f.svc.RefundRoutePass(ctx, &refunds.RoutePassRefundRequest{
			RoutePassID: pass.ID,
			Credentials: creds,
		})
		require.NoError(t, err)
		require.NotNil(t, undo)
		require.NotNil(t, info)

		helpers.AssertBalanced(t, txn)
		helpers.AssertTypeTotal(t, txn, ledger.ItemRoutePass, 10, 0)
		helpers.AssertTypeTotal(t, txn, ledger.ItemPayment, 0, 10)
		helpers.AssertTypeTotal(t, txn, ledger.ItemTransfer, 9.16, 0)
		f.passStore.AssertCalled(t, "MarkRefunded", mock.Anything, mock.Anything, pass.ID, txn.ID)
	})

	t.Run("a pass already refunded fails", func(t *testing.T) {
		pass := helpers.NewRoutePass(userID, companyID, "shuttle", 12, routepass.StatusVoid)
		f := newRefundFixture()
		f.passStore.On("Get", mock.Anything, mock.Anything, pass.ID).Return(pass, nil)
		f.allowAdmin()
		f.ledgerStore.On("HasRefundForRoutePass", mock.Anything, mock.Anything, pass.ID).Return(true, nil)

		_, _, _, err := f.svc.RefundRoutePass(ctx, &refunds.RoutePassRefundRequest{
			RoutePassID: pass.ID,
			Credentials: creds,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, "refundExceedsRemaining"))
	})

	t.Run("a failed pass is not refundable", func(t *testing.T) {
		pass := helpers.NewRoutePass(userID, companyID, "shuttle", 12, routepass.StatusFailed)
		f := newRefundFixture()
		f.passStore.On("Get", mock.Anything, mock.Anything, pass.ID).Return(pass, nil)

		_, _, _, err := f.svc.RefundRoutePass(ctx, &refunds.RoutePassRefundRequest{
			RoutePassID: pass.ID,
			Credentials: creds,
		})
		require.Error(t, err)
		assert.True(t, common.IsReason(err, "notRefundable"))
	})
}
