package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/internal/tickets"
	"github.com/skylinetransit/ticketing/internal/trips"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// TripStore is the trip read surface the sale workflow needs
type TripStore interface {
	GetTripsByIDs(ctx context.Context, q database.Querier, ids []uuid.UUID, forUpdate bool) (map[uuid.UUID]*trips.Trip, error)
	SeatsTaken(ctx context.Context, q database.Querier, tripID uuid.UUID) (int, error)
}

// TicketStore is the ticket persistence the workflows need
type TicketStore interface {
	Create(ctx context.Context, q database.Querier, t *tickets.Ticket) error
	FindActiveForTrip(ctx context.Context, q database.Querier, userID, tripID uuid.UUID) ([]*tickets.Ticket, error)
	SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status string) error
	SetStatusIf(ctx context.Context, q database.Querier, id uuid.UUID, from []string, to string) (bool, error)
	AddDiscountValue(ctx context.Context, q database.Querier, id uuid.UUID, delta float64) error
}

// LedgerStore extends the builder's store with the lookups
// cancellation needs
type LedgerStore interface {
	ledger.Store
	GetTransaction(ctx context.Context, q database.Querier, id uuid.UUID) (*ledger.Transaction, error)
	SetCommitted(ctx context.Context, q database.Querier, id uuid.UUID, committed, expect bool) (bool, error)
}

// PromoApplier redeems a promo code against the builder
type PromoApplier interface {
	Apply(ctx context.Context, b *ledger.Builder, code string, scope promos.Scope) error
}

// PassApplier redeems route passes against ticket-sale targets
type PassApplier interface {
	Apply(ctx context.Context, b *ledger.Builder, companyID uuid.UUID, tag string, targets []*ledger.Target) error
}
