//go:build integration

// Package integration exercises the sale, purchase, cancellation and
// refund workflows against a real PostgreSQL instance. Point
// TEST_DATABASE_URL at a disposable database and run with
// -tags integration; the gateway stays mocked so no network calls
// leave the test.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skylinetransit/ticketing/internal/auth"
	"github.com/skylinetransit/ticketing/internal/booking"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/payments"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/internal/refunds"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/internal/tickets"
	"github.com/skylinetransit/ticketing/internal/trips"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/test/helpers"
	"github.com/skylinetransit/ticketing/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, database.RunMigrations(url, "../../migrations"))

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `
		TRUNCATE transaction_items, transactions, payments, transfers, accounts,
			tickets, route_passes, promo_codes, company_admins,
			trip_stops, trips, routes, transport_companies
	`)
	require.NoError(t, err)

	return database.NewDB(pool)
}

type fixtures struct {
	companyID uuid.UUID
	tripID    uuid.UUID
	boardID   uuid.UUID
	alightID  uuid.UUID
}

func seedTrip(t *testing.T, db *database.DB, price float64, capacity int, tags []string) fixtures {
	t.Helper()
	ctx := context.Background()
	f := fixtures{
		companyID: uuid.New(),
		tripID:    uuid.New(),
		boardID:   uuid.New(),
		alightID:  uuid.New(),
	}
	routeID := uuid.New()
	departure := time.Now().Add(time.Hour)

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO transport_companies (id, name, client_id, sandbox_id)
		VALUES ($1, 'Skyline Shuttles', 'acct_live_sky', 'acct_test_sky')
	`, f.companyID)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO routes (id, transport_company_id, label, tags)
		VALUES ($1, $2, 'City Loop', $3)
	`, routeID, f.companyID, tags)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO trips (id, route_id, price, capacity, is_running, booking_info)
		VALUES ($1, $2, $3, $4, TRUE, '{"windowType":"stop"}')
	`, f.tripID, routeID, price, capacity)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO trip_stops (id, trip_id, stop_id, time) VALUES
			($1, $2, $3, $4),
			($5, $2, $6, $7)
	`, uuid.New(), f.tripID, f.boardID, departure,
		uuid.New(), f.alightID, departure.Add(time.Hour))
	require.NoError(t, err)
	return f
}

func newBookingService(db *database.DB) *booking.Service {
	return booking.NewService(db, ledger.NewRepository(), trips.NewRepository(),
		tickets.NewRepository(), promos.NewApplier(promos.NewRepository()),
		routepass.NewApplier(routepass.NewRepository()), new(mocks.MockGateway), nil)
}

func assertEntryBalances(t *testing.T, db *database.DB, txID uuid.UUID) {
	t.Helper()
	var signed float64
	err := db.Pool.QueryRow(context.Background(), `
		SELECT COALESCE(SUM(COALESCE(debit, 0) - COALESCE(credit, 0)), 0)
		FROM transaction_items WHERE transaction_id = $1
	`, txID).Scan(&signed)
	require.NoError(t, err)
	assert.InDelta(t, 0, signed, ledger.ZeroSumTolerance)
}

func TestTicketSaleFlow(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	f := seedTrip(t, db, 12.0, 2, []string{"shuttle"})
	svc := newBookingService(db)
	userID := uuid.New()

	req := &booking.PrepareTicketSaleRequest{
		Trips: []booking.TripRequest{{
			TripID:       f.tripID,
			BoardStopID:  f.boardID,
			AlightStopID: f.alightID,
			UserID:       userID,
		}},
		Committed: true,
	}
	txn, _, err := svc.PrepareTicketSale(ctx, req)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, txn.PaymentItem().Debit, 1e-9)
	assertEntryBalances(t, db, txn.ID)

	saleItems := txn.ItemsOfType(ledger.ItemTicketSale)
	require.Len(t, saleItems, 1)
	ticketID := *saleItems[0].ItemID

	var status string
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT status FROM tickets WHERE id = $1`, ticketID).Scan(&status))
	assert.Equal(t, tickets.StatusValid, status)

	// A second booking of the same trip by the same user is refused.
	_, _, err = svc.PrepareTicketSale(ctx, req)
	require.Error(t, err)
	assert.True(t, common.IsReason(err, booking.ReasonDuplicateBooking))

	// A gateway decline cancels the sale and frees the seat.
	require.NoError(t, svc.CancelSale(ctx, txn.ID))

	var committed bool
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT committed FROM transactions WHERE id = $1`, txn.ID).Scan(&committed))
	assert.False(t, committed)
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT status FROM tickets WHERE id = $1`, ticketID).Scan(&status))
	assert.Equal(t, tickets.StatusFailed, status)

	taken, err := trips.NewRepository().SeatsTaken(ctx, db.Pool, f.tripID)
	require.NoError(t, err)
	assert.Zero(t, taken)
}

func TestRoutePassPurchaseAndRedemption(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	f := seedTrip(t, db, 12.0, 10, []string{"shuttle"})
	userID := uuid.New()

	quantity := 2
	passSvc := routepass.NewService(db, ledger.NewRepository(), routepass.NewRepository(),
		trips.NewRepository(), promos.NewApplier(promos.NewRepository()), nil)
	txn, _, err := passSvc.Purchase(ctx, &routepass.PurchaseRequest{
		UserID:    userID,
		CompanyID: f.companyID,
		Tag:       "shuttle",
		Quantity:  &quantity,
		Committed: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 24.0, txn.PaymentItem().Debit, 1e-9)
	assertEntryBalances(t, db, txn.ID)

	var validPasses int
	require.NoError(t, db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM route_passes
		WHERE user_id = $1 AND status = $2
	`, userID, routepass.StatusValid).Scan(&validPasses))
	assert.Equal(t, 2, validPasses)

	// Booking with a pass redeems one of them and collects nothing.
	saleTxn, _, err := newBookingService(db).PrepareTicketSale(ctx, &booking.PrepareTicketSaleRequest{
		Trips: []booking.TripRequest{{
			TripID:       f.tripID,
			BoardStopID:  f.boardID,
			AlightStopID: f.alightID,
			UserID:       userID,
		}},
		ApplyRoutePass: true,
		Committed:      true,
	})
	require.NoError(t, err)
	assert.Nil(t, saleTxn.PaymentItem())
	assertEntryBalances(t, db, saleTxn.ID)

	var voided int
	require.NoError(t, db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM route_passes
		WHERE user_id = $1 AND status = $2
	`, userID, routepass.StatusVoid).Scan(&voided))
	assert.Equal(t, 1, voided)
}

func TestTicketRefundFlow(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	f := seedTrip(t, db, 12.0, 10, []string{"shuttle"})
	userID := uuid.New()

	txn, _, err := newBookingService(db).PrepareTicketSale(ctx, &booking.PrepareTicketSaleRequest{
		Trips: []booking.TripRequest{{
			TripID:       f.tripID,
			BoardStopID:  f.boardID,
			AlightStopID: f.alightID,
			UserID:       userID,
		}},
		Committed: true,
	})
	require.NoError(t, err)
	ticketID := *txn.ItemsOfType(ledger.ItemTicketSale)[0].ItemID

	paymentSvc := new(mocks.MockPaymentService)
	paymentSvc.On("TicketRefundKey", ticketID).Return("Refund:ticket")
	paymentSvc.On("GetPaymentForTransaction", mock.Anything, mock.Anything, txn.ID).
		Return(&payments.Payment{ID: uuid.New()}, nil)
	paymentSvc.On("GenerateRefundInfo", mock.Anything, mock.Anything, 12.0, mock.Anything).
		Return(&payments.RefundInfo{Amount: 12, ProcessingFee: 0.91}, nil)
	paymentSvc.On("Refund", mock.Anything, mock.Anything).
		Return(&payments.Charge{ID: "ch_1", AmountCents: 1200, AmountRefundedCents: 1200}, nil)
	paymentSvc.On("RecordRefundResult", mock.Anything, mock.Anything, mock.Anything, mock.Anything, false).
		Return(nil)

	refundSvc := refunds.NewService(db, ledger.NewRepository(), tickets.NewRepository(),
		routepass.NewRepository(), trips.NewRepository(), paymentSvc,
		auth.NewPolicyGuard(auth.NewRepository()), nil)

	refundTxn, _, info, err := refundSvc.RefundTicket(ctx, &refunds.TicketRefundRequest{
		TicketID:     ticketID,
		TargetAmount: 12,
		Credentials:  helpers.SuperadminCredentials(),
	})
	require.NoError(t, err)
	require.NotNil(t, info)
	assertEntryBalances(t, db, refundTxn.ID)
	helpers.AssertTypeTotal(t, refundTxn, ledger.ItemTicketRefund, 12, 0)
	helpers.AssertTypeTotal(t, refundTxn, ledger.ItemTransfer, 11.09, 0)

	var status string
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT status FROM tickets WHERE id = $1`, ticketID).Scan(&status))
	assert.Equal(t, tickets.StatusRefunded, status)

	// The all-or-nothing check refuses a second full refund.
	_, _, _, err = refundSvc.RefundTicket(ctx, &refunds.TicketRefundRequest{
		TicketID:     ticketID,
		TargetAmount: 12,
		Credentials:  helpers.SuperadminCredentials(),
	})
	require.Error(t, err)
	assert.True(t, common.IsReason(err, "notRefundable"))
}
