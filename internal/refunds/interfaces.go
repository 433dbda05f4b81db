package refunds

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/payments"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/internal/tickets"
	"github.com/skylinetransit/ticketing/internal/trips"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// LedgerStore extends the builder's store with the origin-transaction
// lookups refunds need
type LedgerStore interface {
	ledger.Store
	GetSaleItemForTicket(ctx context.Context, q database.Querier, ticketID uuid.UUID) (*ledger.Item, error)
	GetPurchaseItemForRoutePass(ctx context.Context, q database.Querier, passID uuid.UUID) (*ledger.Item, error)
	SumRefundsForTicket(ctx context.Context, q database.Querier, ticketID uuid.UUID) (float64, error)
	HasRefundForRoutePass(ctx context.Context, q database.Querier, passID uuid.UUID) (bool, error)
}

// TicketStore is the ticket surface the refund workflow needs
type TicketStore interface {
	Get(ctx context.Context, q database.Querier, id uuid.UUID) (*tickets.Ticket, error)
	SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status string) error
	MarkRefunded(ctx context.Context, q database.Querier, id uuid.UUID, refundTransactionID uuid.UUID) (bool, error)
}

// PassStore is the route-pass surface the refund workflow needs
type PassStore interface {
	Get(ctx context.Context, q database.Querier, id uuid.UUID) (*routepass.RoutePass, error)
	SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status string) error
	MarkRefunded(ctx context.Context, q database.Querier, id uuid.UUID, refundTransactionID uuid.UUID) (bool, error)
}

// TripStore resolves the company a refund settles against
type TripStore interface {
	GetCompanyForTrip(ctx context.Context, q database.Querier, tripID uuid.UUID) (*trips.TransportCompany, error)
}

// PaymentService is the gateway-facing surface the refund workflow
// needs
type PaymentService interface {
	GetPaymentForTransaction(ctx context.Context, q database.Querier, transactionID uuid.UUID) (*payments.Payment, error)
	GenerateRefundInfo(ctx context.Context, payment *payments.Payment, amount float64, idempotencyKey string) (*payments.RefundInfo, error)
	Refund(ctx context.Context, info *payments.RefundInfo) (*payments.Charge, error)
	RecordRefundResult(ctx context.Context, q database.Querier, paymentID uuid.UUID, ch *payments.Charge, isMicro bool) error
	TicketRefundKey(ticketID uuid.UUID) string
	RoutePassRefundKey(passID uuid.UUID) string
}
