package payments

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	pkgstripe "github.com/craftlinehq/craftline-backend/pkg/stripe"
)

// incompatibleIncrementCodes are Stripe decline codes that mean the hold can
// never be raised in place and a fresh authorization is required.
var incompatibleIncrementCodes = map[string]struct{}{
	"amount_too_large":                           {},
	"incremental_authorization_unsupported":      {},
	"payment_intent_incompatible_payment_method": {},
}

type stripeProcessor struct{}

// NewStripeProcessor wraps the shared Stripe client as a ProcessorClient.
func NewStripeProcessor(api *pkgstripe.Client) ProcessorClient {
	if api == nil {
		return nil
	}
	return &stripeProcessor{}
}

func (p *stripeProcessor) CreateAuthorization(ctx context.Context, amountCents int, metadata map[string]string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(amountCents)),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	intent, err := paymentintent.New(params)
	if err != nil {
		return "", mapStripeError(err, "create authorization")
	}
	return intent.ID, nil
}

func (p *stripeProcessor) IncrementAuthorization(ctx context.Context, intentID string, amountCents int) (IncrementOutcome, error) {
	params := &stripe.PaymentIntentIncrementAuthorizationParams{
		Amount: stripe.Int64(int64(amountCents)),
	}
	params.Context = ctx
	if _, err := paymentintent.IncrementAuthorization(intentID, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			if _, incompatible := incompatibleIncrementCodes[string(stripeErr.Code)]; incompatible {
				return IncrementOutcomeIncompatible, nil
			}
		}
		return "", mapStripeError(err, "increment authorization")
	}
	return IncrementOutcomeOK, nil
}

func (p *stripeProcessor) Capture(ctx context.Context, intentID string, amountCents int) error {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(int64(amountCents)),
	}
	params.Context = ctx
	if _, err := paymentintent.Capture(intentID, params); err != nil {
		return mapStripeError(err, "capture")
	}
	return nil
}

func (p *stripeProcessor) CancelAuthorization(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := paymentintent.Cancel(intentID, params); err != nil {
		return mapStripeError(err, "cancel authorization")
	}
	return nil
}

func (p *stripeProcessor) Refund(ctx context.Context, intentID string, amountCents int) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(int64(amountCents)),
	}
	params.Context = ctx
	created, err := refund.New(params)
	if err != nil {
		return "", mapStripeError(err, "refund")
	}
	return created.ID, nil
}

func mapStripeError(err error, op string) error {
	typed := pkgerrors.Wrap(pkgerrors.CodeProcessor, err, op+" rejected by processor")
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return typed.WithDetails(map[string]any{
			"code":         string(stripeErr.Code),
			"decline_code": stripeErr.DeclineCode,
		})
	}
	return typed
}
