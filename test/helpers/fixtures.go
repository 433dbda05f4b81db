package helpers

import (
	"time"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/auth"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/internal/tickets"
	"github.com/skylinetransit/ticketing/internal/trips"
)

// NewCompany builds a transport company fixture
func NewCompany(name string) *trips.TransportCompany {
	return &trips.TransportCompany{
		ID:        uuid.New(),
		Name:      name,
		ClientID:  "acct_live_" + name,
		SandboxID: "acct_test_" + name,
	}
}

// NewTrip builds a running trip with two stops an hour apart starting
// at departure, priced and tagged as given
func NewTrip(company *trips.TransportCompany, price float64, capacity int, departure time.Time, tags ...string) *trips.Trip {
	tripID := uuid.New()
	routeID := uuid.New()
	return &trips.Trip{
		ID:        tripID,
		RouteID:   routeID,
		Price:     price,
		Capacity:  capacity,
		IsRunning: true,
		BookingInfo: trips.BookingInfo{
			WindowType: trips.WindowStop,
		},
		Stops: []*trips.TripStop{
			{ID: uuid.New(), TripID: tripID, StopID: uuid.New(), Time: departure},
			{ID: uuid.New(), TripID: tripID, StopID: uuid.New(), Time: departure.Add(time.Hour)},
		},
		Route: &trips.Route{
			ID:                 routeID,
			TransportCompanyID: company.ID,
			Tags:               tags,
			Company:            company,
		},
	}
}

// SuperadminCredentials builds caller credentials in the superadmin
// scope
func SuperadminCredentials() auth.Credentials {
	id := uuid.New()
	return auth.Credentials{Scope: ledger.ScopeSuperadmin, ID: &id}
}

// AdminCredentials builds caller credentials for a company admin
func AdminCredentials(adminID uuid.UUID) auth.Credentials {
	return auth.Credentials{Scope: ledger.ScopeAdmin, AdminID: &adminID}
}

// NewTicket builds a ticket fixture in the given status
func NewTicket(userID, tripID uuid.UUID, status string) *tickets.Ticket {
	return &tickets.Ticket{
		ID:           uuid.New(),
		UserID:       userID,
		TripID:       tripID,
		BoardStopID:  uuid.New(),
		AlightStopID: uuid.New(),
		Status:       status,
		Notes:        ledger.Notes{},
	}
}

// NewRoutePass builds a route-pass fixture holding the given face
// value
func NewRoutePass(userID, companyID uuid.UUID, tag string, price float64, status string) *routepass.RoutePass {
	return &routepass.RoutePass{
		ID:        uuid.New(),
		UserID:    userID,
		CompanyID: companyID,
		Tag:       tag,
		Status:    status,
		Notes:     ledger.Notes{ledger.NotePrice: price},
	}
}

// NewPercentagePromo builds an active percentage promo code
func NewPercentagePromo(code string, percent float64, appliesTo string) *promos.PromoCode {
	return &promos.PromoCode{
		ID:            uuid.New(),
		Code:          code,
		DiscountType:  promos.DiscountPercentage,
		DiscountValue: percent,
		AppliesTo:     appliesTo,
		ValidFrom:     time.Now().Add(-time.Hour),
		IsActive:      true,
	}
}

// NewFixedPromo builds an active fixed-amount promo code
func NewFixedPromo(code string, amount float64, appliesTo string) *promos.PromoCode {
	return &promos.PromoCode{
		ID:            uuid.New(),
		Code:          code,
		DiscountType:  promos.DiscountFixedAmount,
		DiscountValue: amount,
		AppliesTo:     appliesTo,
		ValidFrom:     time.Now().Add(-time.Hour),
		IsActive:      true,
	}
}
