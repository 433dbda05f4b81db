package trips

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// Repository handles trip, route and company reads. Methods take a
// database.Querier so they observe the calling workflow's isolation
// level.
type Repository struct{}

// NewRepository creates a new trips repository
func NewRepository() *Repository {
	return &Repository{}
}

// GetTripsByIDs loads trips with their stops, route and company.
// forUpdate takes row locks on the trip rows, which the seat
// availability check relies on under REPEATABLE READ.
func (r *Repository) GetTripsByIDs(ctx context.Context, q database.Querier, ids []uuid.UUID, forUpdate bool) (map[uuid.UUID]*Trip, error) {
	query := `
		SELECT t.id, t.route_id, t.price, t.capacity, t.is_running, t.booking_info,
			   r.transport_company_id, r.label, r.tags,
			   c.name, c.sms_op_code, c.client_id, c.sandbox_id
		FROM trips t
		INNER JOIN routes r ON r.id = t.route_id
		INNER JOIN transport_companies c ON c.id = r.transport_company_id
		WHERE t.id = ANY($1)
	`
	if forUpdate {
		query += ` FOR UPDATE OF t`
	}

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trips := make(map[uuid.UUID]*Trip)
	for rows.Next() {
		trip := &Trip{Route: &Route{Company: &TransportCompany{}}}
		var bookingInfo []byte
		if err := rows.Scan(
			&trip.ID, &trip.RouteID, &trip.Price, &trip.Capacity, &trip.IsRunning, &bookingInfo,
			&trip.Route.TransportCompanyID, &trip.Route.Label, &trip.Route.Tags,
			&trip.Route.Company.Name, &trip.Route.Company.SMSOpCode,
			&trip.Route.Company.ClientID, &trip.Route.Company.SandboxID,
		); err != nil {
			return nil, err
		}
		trip.BookingInfo = ParseBookingInfo(bookingInfo)
		trip.Route.ID = trip.RouteID
		trip.Route.Company.ID = trip.Route.TransportCompanyID
		trips[trip.ID] = trip
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for id, trip := range trips {
		stops, err := r.getTripStops(ctx, q, id)
		if err != nil {
			return nil, err
		}
		trip.Stops = stops
	}
	return trips, nil
}

func (r *Repository) getTripStops(ctx context.Context, q database.Querier, tripID uuid.UUID) ([]*TripStop, error) {
	query := `
		SELECT id, trip_id, stop_id, time
		FROM trip_stops
		WHERE trip_id = $1
		ORDER BY time ASC
	`
	rows, err := q.Query(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []*TripStop
	for rows.Next() {
		stop := &TripStop{}
		if err := rows.Scan(&stop.ID, &stop.TripID, &stop.StopID, &stop.Time); err != nil {
			return nil, err
		}
		stops = append(stops, stop)
	}
	return stops, rows.Err()
}

// SeatsTaken counts tickets currently holding a seat on the trip
func (r *Repository) SeatsTaken(ctx context.Context, q database.Querier, tripID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM tickets
		WHERE trip_id = $1 AND status IN ('valid', 'pending')
	`
	var taken int
	if err := q.QueryRow(ctx, query, tripID).Scan(&taken); err != nil {
		return 0, err
	}
	return taken, nil
}

// GetCompany loads a transport company by id, nil when absent
func (r *Repository) GetCompany(ctx context.Context, q database.Querier, id uuid.UUID) (*TransportCompany, error) {
	query := `
		SELECT id, name, sms_op_code, client_id, sandbox_id
		FROM transport_companies
		WHERE id = $1
	`
	company := &TransportCompany{}
	err := q.QueryRow(ctx, query, id).Scan(
		&company.ID, &company.Name, &company.SMSOpCode, &company.ClientID, &company.SandboxID,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return company, nil
}

// GetCompanyForTrip resolves the transport company a trip settles to
func (r *Repository) GetCompanyForTrip(ctx context.Context, q database.Querier, tripID uuid.UUID) (*TransportCompany, error) {
	query := `
		SELECT c.id, c.name, c.sms_op_code, c.client_id, c.sandbox_id
		FROM trips t
		INNER JOIN routes r ON r.id = t.route_id
		INNER JOIN transport_companies c ON c.id = r.transport_company_id
		WHERE t.id = $1
	`
	company := &TransportCompany{}
	err := q.QueryRow(ctx, query, tripID).Scan(
		&company.ID, &company.Name, &company.SMSOpCode, &company.ClientID, &company.SandboxID,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return company, nil
}

// NextTripPriceForTag returns the price of the next upcoming trip on
// any of the company's routes carrying tag. Route-pass purchases take
// this as the per-pass face value. pgx.ErrNoRows when no trip is
// scheduled.
func (r *Repository) NextTripPriceForTag(ctx context.Context, q database.Querier, companyID uuid.UUID, tag string) (float64, error) {
	query := `
		SELECT t.price
		FROM trips t
		INNER JOIN routes r ON r.id = t.route_id
		WHERE r.transport_company_id = $1
		  AND $2 = ANY(r.tags)
		  AND t.is_running = TRUE
		  AND EXISTS (
			SELECT 1 FROM trip_stops ts
			WHERE ts.trip_id = t.id AND ts.time > NOW()
		  )
		ORDER BY (SELECT MIN(ts.time) FROM trip_stops ts WHERE ts.trip_id = t.id) ASC
		LIMIT 1
	`
	var price float64
	if err := q.QueryRow(ctx, query, companyID, tag).Scan(&price); err != nil {
		return 0, err
	}
	return price, nil
}
