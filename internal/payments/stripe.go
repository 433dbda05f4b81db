package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/charge"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/skylinetransit/ticketing/pkg/config"
)

// StripeGateway implements Gateway against the Stripe charges API
// with destination routing to the company's merchant account.
type StripeGateway struct {
	FeeSchedule
	currency string
}

// NewStripeGateway configures the Stripe client from the gateway
// config
func NewStripeGateway(cfg *config.StripeConfig) *StripeGateway {
	stripe.Key = cfg.SecretKey
	return &StripeGateway{currency: "sgd"}
}

// ChargeCard captures a destination charge. The gateway treats
// repeated calls with the same idempotency key as one operation.
func (g *StripeGateway) ChargeCard(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.ChargeParams{
		Amount:              stripe.Int64(req.ValueCents),
		Currency:            stripe.String(g.currency),
		Description:         stripe.String(req.Description),
		StatementDescriptor: stripe.String(req.StatementDescriptor),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	if req.DestinationAccount != "" {
		params.Destination = &stripe.ChargeDestinationParams{
			Account: stripe.String(req.DestinationAccount),
		}
	}
	if req.Source != "" {
		params.Source = &stripe.PaymentSourceSourceParams{Token: stripe.String(req.Source)}
	} else {
		params.Customer = stripe.String(req.CustomerID)
		if req.SourceID != "" {
			params.Source = &stripe.PaymentSourceSourceParams{Token: stripe.String(req.SourceID)}
		}
	}

	ch, err := charge.New(params)
	if err != nil {
		return nil, err
	}
	return fromStripeCharge(ch), nil
}

// RefundCharge issues a gateway refund and returns the charge's
// post-refund state. The transfer to the destination account is
// reversed proportionally.
func (g *StripeGateway) RefundCharge(ctx context.Context, req RefundRequest) (*Charge, error) {
	params := &stripe.RefundParams{
		Charge:          stripe.String(req.ChargeID),
		Amount:          stripe.Int64(req.AmountCents),
		ReverseTransfer: stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	if _, err := refund.New(params); err != nil {
		return nil, err
	}
	return g.RetrieveCharge(ctx, req.ChargeID)
}

// RetrieveCharge fetches a charge by its gateway id
func (g *StripeGateway) RetrieveCharge(ctx context.Context, chargeID string) (*Charge, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx
	ch, err := charge.Get(chargeID, params)
	if err != nil {
		return nil, err
	}
	return fromStripeCharge(ch), nil
}

func fromStripeCharge(ch *stripe.Charge) *Charge {
	out := &Charge{
		ID:                  ch.ID,
		AmountCents:         ch.Amount,
		AmountRefundedCents: ch.AmountRefunded,
	}
	if ch.PaymentMethodDetails != nil && ch.PaymentMethodDetails.Card != nil {
		out.Source.Country = ch.PaymentMethodDetails.Card.Country
		out.Source.Brand = string(ch.PaymentMethodDetails.Card.Brand)
	} else if ch.Source != nil && ch.Source.Card != nil {
		out.Source.Country = ch.Source.Card.Country
		out.Source.Brand = string(ch.Source.Card.Brand)
	}
	return out
}
