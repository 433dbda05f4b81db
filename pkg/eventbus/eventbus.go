package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"go.uber.org/zap"
)

// Subjects published by the ledger workflows
const (
	SubjectTransactionCommitted = "transactions.committed"
	SubjectTransactionCancelled = "transactions.cancelled"
	SubjectRefundIssued         = "transactions.refunded"
)

// Event is the envelope for every message on the bus
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// TransactionCommittedData announces a persisted ledger transaction
type TransactionCommittedData struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Type          string    `json:"type"`
	PaymentDebit  float64   `json:"payment_debit"`
	CompanyID     uuid.UUID `json:"company_id"`
}

// TransactionCancelledData announces a cancelled sale
type TransactionCancelledData struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

// RefundIssuedData announces a completed refund
type RefundIssuedData struct {
	TransactionID       uuid.UUID `json:"transaction_id"`
	OriginTransactionID uuid.UUID `json:"origin_transaction_id"`
	Amount              float64   `json:"amount"`
}

// Handler consumes one event; a returned error is logged, the message
// is not redelivered.
type Handler func(ctx context.Context, event *Event) error

// Bus is a thin wrapper over a NATS connection. A nil *Bus is a
// disabled bus: publishes become no-ops, so workflows carry no feature
// flag of their own.
type Bus struct {
	conn *nats.Conn
}

// Connect dials NATS with unlimited reconnects
func Connect(url string) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// Publish wraps data in an Event envelope and sends it on subject
func (b *Bus) Publish(ctx context.Context, subject, eventType string, data any) error {
	if b == nil || b.conn == nil {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a queue subscription on subject. Instances
// sharing the same queue name split the stream between them.
func (b *Bus) Subscribe(ctx context.Context, subject, queue string, handler Handler) error {
	if b == nil || b.conn == nil {
		return errors.New("eventbus: not connected")
	}

	_, err := b.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("eventbus: dropping undecodable event",
				zap.String("subject", subject),
				zap.Error(err))
			return
		}
		if err := handler(ctx, &event); err != nil {
			logger.Error("eventbus: handler failed",
				zap.String("subject", subject),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return nil
}

// HealthCheck reports connectivity, for readiness probes
func (b *Bus) HealthCheck(ctx context.Context) error {
	if b == nil || b.conn == nil {
		return errors.New("eventbus: not connected")
	}
	if !b.conn.IsConnected() {
		return errors.New("eventbus: connection down")
	}
	return nil
}

// Close drains the connection
func (b *Bus) Close() {
	if b != nil && b.conn != nil {
		_ = b.conn.Drain()
	}
}
