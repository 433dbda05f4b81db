package trips

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Booking window anchor types
const (
	WindowStop      = "stop"
	WindowFirstStop = "firstStop"
)

// BookingInfo controls how long a trip stays bookable. WindowSize is
// milliseconds added to the anchor stop time; it may be negative to
// close bookings before departure.
type BookingInfo struct {
	WindowType string `json:"windowType"`
	WindowSize int64  `json:"windowSize"`
}

// Sanitize replaces a malformed window spec with the documented
// default {stop, 0}
func (b BookingInfo) Sanitize() BookingInfo {
	if b.WindowType != WindowStop && b.WindowType != WindowFirstStop {
		return BookingInfo{WindowType: WindowStop, WindowSize: 0}
	}
	return b
}

// Window returns the window size as a duration
func (b BookingInfo) Window() time.Duration {
	return time.Duration(b.WindowSize) * time.Millisecond
}

// ParseBookingInfo decodes the jsonb column, falling back to the
// default window on undecodable input
func ParseBookingInfo(raw []byte) BookingInfo {
	var info BookingInfo
	if len(raw) == 0 || json.Unmarshal(raw, &info) != nil {
		return BookingInfo{WindowType: WindowStop}
	}
	return info.Sanitize()
}

// Trip is a scheduled run of a route. Read-only during workflows;
// SeatsTaken is recomputed from tickets, never stored.
type Trip struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	RouteID     uuid.UUID   `json:"route_id" db:"route_id"`
	Price       float64     `json:"price" db:"price"`
	Capacity    int         `json:"capacity" db:"capacity"`
	IsRunning   bool        `json:"is_running" db:"is_running"`
	BookingInfo BookingInfo `json:"booking_info" db:"booking_info"`
	Stops       []*TripStop `json:"stops"`
	Route       *Route      `json:"route"`
}

// TripStop is one scheduled stop on a trip
type TripStop struct {
	ID     uuid.UUID `json:"id" db:"id"`
	TripID uuid.UUID `json:"trip_id" db:"trip_id"`
	StopID uuid.UUID `json:"stop_id" db:"stop_id"`
	Time   time.Time `json:"time" db:"time"`
}

// Route groups trips under one transport company. Tags scope route
// passes to the routes they can be redeemed on.
type Route struct {
	ID                 uuid.UUID         `json:"id" db:"id"`
	TransportCompanyID uuid.UUID         `json:"transport_company_id" db:"transport_company_id"`
	Label              string            `json:"label" db:"label"`
	Tags               []string          `json:"tags" db:"tags"`
	Company            *TransportCompany `json:"company"`
}

// TransportCompany is the settlement counterparty of a transaction
type TransportCompany struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	SMSOpCode *string   `json:"sms_op_code" db:"sms_op_code"`
	ClientID  string    `json:"client_id" db:"client_id"`
	SandboxID string    `json:"sandbox_id" db:"sandbox_id"`
}

// Descriptor returns the short name shown on card statements, the SMS
// operator code when one is set
func (c *TransportCompany) Descriptor() string {
	if c.SMSOpCode != nil && *c.SMSOpCode != "" {
		return *c.SMSOpCode
	}
	return c.Name
}

// MerchantID returns the gateway account destination charges route to
func (c *TransportCompany) MerchantID(live bool) string {
	if live {
		return c.ClientID
	}
	return c.SandboxID
}

// StopByID finds a trip stop by its id, nil when the stop is not on
// this trip
func (t *Trip) StopByID(stopID uuid.UUID) *TripStop {
	for _, stop := range t.Stops {
		if stop.StopID == stopID || stop.ID == stopID {
			return stop
		}
	}
	return nil
}

// FirstStopTime returns the earliest scheduled stop time
func (t *Trip) FirstStopTime() time.Time {
	var first time.Time
	for _, stop := range t.Stops {
		if first.IsZero() || stop.Time.Before(first) {
			first = stop.Time
		}
	}
	return first
}

// BookingCutoff computes the instant after which the trip may no
// longer be booked for the given board and alight stops
func (t *Trip) BookingCutoff(board, alight *TripStop) time.Time {
	info := t.BookingInfo.Sanitize()
	var anchor time.Time
	if info.WindowType == WindowFirstStop {
		anchor = t.FirstStopTime()
	} else {
		anchor = board.Time
		if alight.Time.Before(anchor) {
			anchor = alight.Time
		}
	}
	return anchor.Add(info.Window())
}

// CompanyID returns the trip's transport company id, uuid.Nil when the
// route was not loaded
func (t *Trip) CompanyID() uuid.UUID {
	if t.Route == nil {
		return uuid.Nil
	}
	return t.Route.TransportCompanyID
}

// SortedTags returns the union of route-pass tags across trips in
// alphabetical order, the documented tie-break for redemption.
func SortedTags(trips []*Trip) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, t := range trips {
		if t.Route == nil {
			continue
		}
		for _, tag := range t.Route.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// HasTag reports whether the trip's route carries the tag
func (t *Trip) HasTag(tag string) bool {
	if t.Route == nil {
		return false
	}
	for _, candidate := range t.Route.Tags {
		if candidate == tag {
			return true
		}
	}
	return false
}
