package trips

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func twoStopTrip(first, second time.Time) *Trip {
	tripID := uuid.New()
	return &Trip{
		ID: tripID,
		Stops: []*TripStop{
			{ID: uuid.New(), TripID: tripID, StopID: uuid.New(), Time: first},
			{ID: uuid.New(), TripID: tripID, StopID: uuid.New(), Time: second},
		},
	}
}

func TestBookingCutoff(t *testing.T) {
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	t.Run("stop window anchors on the board stop", func(t *testing.T) {
		trip := twoStopTrip(first, second)
		trip.BookingInfo = BookingInfo{WindowType: WindowStop}
		assert.Equal(t, second, trip.BookingCutoff(trip.Stops[1], trip.Stops[1]))
	})

	t.Run("the earlier of board and alight wins", func(t *testing.T) {
		trip := twoStopTrip(first, second)
		trip.BookingInfo = BookingInfo{WindowType: WindowStop}
		assert.Equal(t, first, trip.BookingCutoff(trip.Stops[1], trip.Stops[0]))
	})

	t.Run("firstStop window anchors on the earliest stop", func(t *testing.T) {
		trip := twoStopTrip(first, second)
		trip.BookingInfo = BookingInfo{WindowType: WindowFirstStop}
		assert.Equal(t, first, trip.BookingCutoff(trip.Stops[1], trip.Stops[1]))
	})

	t.Run("window size shifts the cutoff", func(t *testing.T) {
		trip := twoStopTrip(first, second)
		trip.BookingInfo = BookingInfo{
			WindowType: WindowStop,
			WindowSize: -(10 * time.Minute).Milliseconds(),
		}
		assert.Equal(t, first.Add(-10*time.Minute), trip.BookingCutoff(trip.Stops[0], trip.Stops[1]))
	})

	t.Run("a malformed window falls back to the default", func(t *testing.T) {
		trip := twoStopTrip(first, second)
		trip.BookingInfo = BookingInfo{WindowType: "bogus", WindowSize: 99999}
		assert.Equal(t, first, trip.BookingCutoff(trip.Stops[0], trip.Stops[1]))
	})
}

func TestParseBookingInfo(t *testing.T) {
	assert.Equal(t, BookingInfo{WindowType: WindowStop}, ParseBookingInfo(nil))
	assert.Equal(t, BookingInfo{WindowType: WindowStop}, ParseBookingInfo([]byte(`not json`)))
	assert.Equal(t,
		BookingInfo{WindowType: WindowFirstStop, WindowSize: 5000},
		ParseBookingInfo([]byte(`{"windowType":"firstStop","windowSize":5000}`)))
}

func TestSortedTags(t *testing.T) {
	trips := []*Trip{
		{Route: &Route{Tags: []string{"express", "airport"}}},
		{Route: &Route{Tags: []string{"airport", "night"}}},
		{Route: nil},
	}
	assert.Equal(t, []string{"airport", "express", "night"}, SortedTags(trips))
}

func TestCompanyDescriptorAndMerchant(t *testing.T) {
	op := "SKYBUS"
	company := &TransportCompany{
		Name:      "Skyline Shuttles",
		SMSOpCode: &op,
		ClientID:  "acct_live",
		SandboxID: "acct_test",
	}
	assert.Equal(t, "SKYBUS", company.Descriptor())
	assert.Equal(t, "acct_live", company.MerchantID(true))
	assert.Equal(t, "acct_test", company.MerchantID(false))

	company.SMSOpCode = nil
	assert.Equal(t, "Skyline Shuttles", company.Descriptor())
}
