// Package payments wraps the external payment processor. The booking
// lifecycle invokes it around the ledger update; a charge failure aborts the
// enclosing unit of work.
package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
)

// Processor is the payment collaborator contract. Charge returns an opaque
// reference usable for a later Refund.
type Processor interface {
	Charge(ctx context.Context, studentID uuid.UUID, amountCents int64, description string) (chargeRef string, err error)
	Refund(ctx context.Context, chargeRef string, amountCents int64) error
}

// StripeProcessor charges through Stripe payment intents. stripe.Key must be
// set before use (done in main).
type StripeProcessor struct {
	Currency string
}

func NewStripeProcessor() *StripeProcessor {
	return &StripeProcessor{Currency: string(stripe.CurrencyUSD)}
}

var _ Processor = (*StripeProcessor)(nil)

func (p *StripeProcessor) Charge(ctx context.Context, studentID uuid.UUID, amountCents int64, description string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(p.Currency),
		Description: stripe.String(description),
		Confirm:     stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.AddMetadata("student_id", studentID.String())

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe charge: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("stripe charge: payment intent %s in status %s", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (p *StripeProcessor) Refund(ctx context.Context, chargeRef string, amountCents int64) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(chargeRef),
		Amount:        stripe.Int64(amountCents),
	}
	params.Context = ctx
	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("stripe refund: %w", err)
	}
	return nil
}
