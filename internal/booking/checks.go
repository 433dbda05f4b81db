package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/trips"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// Checks toggles the booking gates. All gates default on; callers
// disable individual gates only for operator-driven flows.
type Checks struct {
	EnsureAvailability bool `json:"ensure_availability"`
	NoDuplicates       bool `json:"no_duplicates"`
	BookingWindow      bool `json:"booking_window"`
}

// AllChecks returns the default configuration with every gate enabled
func AllChecks() Checks {
	return Checks{EnsureAvailability: true, NoDuplicates: true, BookingWindow: true}
}

// Booking-rule failure reasons
const (
	ReasonTripNotRunning   = "tripNotRunning"
	ReasonInvalidStop      = "invalidStop"
	ReasonWindowClosed     = "bookingWindowClosed"
	ReasonDuplicateBooking = "duplicateBooking"
	ReasonSeatsExhausted   = "seatsExhausted"
	ReasonMultiCompany     = "multiCompany"
)

// singleCompanyID enforces exactly one distinct transport company
// across the requested trips
func singleCompanyID(requested []*trips.Trip) (uuid.UUID, error) {
	var companyID uuid.UUID
	for _, trip := range requested {
		id := trip.CompanyID()
		if id == uuid.Nil {
			return uuid.Nil, common.NewInternalError(
				fmt.Sprintf("trip %s has no transport company", trip.ID), nil)
		}
		if companyID == uuid.Nil {
			companyID = id
			continue
		}
		if companyID != id {
			return uuid.Nil, common.NewTransactionError(ReasonMultiCompany,
				"all trips in a booking must belong to one transport company")
		}
	}
	return companyID, nil
}

// checkRunning rejects cancelled trips
func checkRunning(trip *trips.Trip) error {
	if !trip.IsRunning {
		return common.NewTransactionError(ReasonTripNotRunning,
			fmt.Sprintf("trip %s is not running", trip.ID))
	}
	return nil
}

// resolveStops verifies the board and alight stops exist on the trip
func resolveStops(trip *trips.Trip, boardStopID, alightStopID uuid.UUID) (board, alight *trips.TripStop, err error) {
	board = trip.StopByID(boardStopID)
	if board == nil {
		return nil, nil, common.NewTransactionError(ReasonInvalidStop,
			fmt.Sprintf("stop %s is not on trip %s", boardStopID, trip.ID))
	}
	alight = trip.StopByID(alightStopID)
	if alight == nil {
		return nil, nil, common.NewTransactionError(ReasonInvalidStop,
			fmt.Sprintf("stop %s is not on trip %s", alightStopID, trip.ID))
	}
	return board, alight, nil
}

// checkBookingWindow rejects bookings past the trip's cutoff
func checkBookingWindow(trip *trips.Trip, board, alight *trips.TripStop, now time.Time) error {
	cutoff := trip.BookingCutoff(board, alight)
	if now.After(cutoff) {
		return common.NewTransactionError(ReasonWindowClosed,
			fmt.Sprintf("the booking window for trip %s closed at %s", trip.ID, cutoff.Format(time.RFC3339)))
	}
	return nil
}

// checkNoDuplicates rejects a booking when the user already holds a
// valid or pending ticket on the trip. The error names the existing
// ticket.
func checkNoDuplicates(ctx context.Context, q database.Querier, store TicketStore, userID, tripID uuid.UUID) error {
	existing, err := store.FindActiveForTrip(ctx, q, userID, tripID)
	if err != nil {
		return fmt.Errorf("look up existing tickets: %w", err)
	}
	if len(existing) > 0 {
		return common.NewTransactionError(ReasonDuplicateBooking,
			fmt.Sprintf("user %s already holds ticket %s for trip %s", userID, existing[0].ID, tripID))
	}
	return nil
}

// checkSeats re-reads seat usage after pending tickets are inserted.
// Relies on the workflow's isolation level (plus the trip row lock) to
// prevent lost updates. extraPending covers dry runs, which insert
// nothing.
func checkSeats(ctx context.Context, q database.Querier, store TripStore, trip *trips.Trip, extraPending int) error {
	taken, err := store.SeatsTaken(ctx, q, trip.ID)
	if err != nil {
		return fmt.Errorf("count seats taken: %w", err)
	}
	if trip.Capacity-taken-extraPending < 0 {
		return common.NewTransactionError(ReasonSeatsExhausted,
			fmt.Sprintf("trip %s has no seats available", trip.ID))
	}
	return nil
}
