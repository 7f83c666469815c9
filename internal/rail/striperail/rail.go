// Package striperail implements the escrow rail on Stripe PaymentIntents
// with manual capture: a hold is an authorized intent, capture takes part of
// it and Stripe releases the rest, a void cancels the intent.
package striperail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/escrow"
)

type paymentIntents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type Rail struct {
	intents       paymentIntents
	currency      string
	paymentMethod string
	logger        *zap.Logger
}

func New(secretKey, currency, paymentMethod string, logger *zap.Logger) *Rail {
	client := &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	return newRail(client, currency, paymentMethod, logger)
}

func newRail(intents paymentIntents, currency, paymentMethod string, logger *zap.Logger) *Rail {
	return &Rail{
		intents:       intents,
		currency:      currency,
		paymentMethod: paymentMethod,
		logger:        logger,
	}
}

func (r *Rail) Hold(ctx context.Context, req escrow.HoldRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(r.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethod: stripe.String(r.paymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("booking_id", req.BookingID.String())
	params.AddMetadata("payer_id", req.PayerID.String())
	params.AddMetadata("provider_id", req.ProviderID.String())

	pi, err := r.intents.New(params)
	if err != nil {
		return "", r.mapError("hold", err)
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		r.logger.Warn("payment intent not authorized",
			zap.String("payment_intent", pi.ID),
			zap.String("status", string(pi.Status)))
		return "", fmt.Errorf("%w: payment intent %s is %s", escrow.ErrInsufficientFunds, pi.ID, pi.Status)
	}
	return pi.ID, nil
}

// Capture takes Amount from the authorized intent; Stripe releases the
// uncaptured remainder. A zero capture cancels the intent instead.
func (r *Rail) Capture(ctx context.Context, req escrow.CaptureRequest) error {
	if req.Amount == 0 {
		return r.cancel(ctx, "capture", req.HoldID, req.IdempotencyKey)
	}

	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(req.Amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	if _, err := r.intents.Capture(req.HoldID, params); err != nil {
		return r.mapError("capture", err)
	}
	return nil
}

func (r *Rail) Release(ctx context.Context, req escrow.ReleaseRequest) error {
	return r.cancel(ctx, "release", req.HoldID, req.IdempotencyKey)
}

func (r *Rail) cancel(ctx context.Context, op, holdID, key string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)

	if _, err := r.intents.Cancel(holdID, params); err != nil {
		return r.mapError(op, err)
	}
	return nil
}

func (r *Rail) mapError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		r.logger.Warn("stripe call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %v", escrow.ErrRailUnavailable, err)
	}

	r.logger.Warn("stripe rejected call",
		zap.String("op", op),
		zap.String("type", string(se.Type)),
		zap.String("code", string(se.Code)),
		zap.String("decline_code", string(se.DeclineCode)),
		zap.Int("http_status", se.HTTPStatusCode),
		zap.String("request_id", se.RequestID))

	switch {
	case se.Type == stripe.ErrorTypeCard,
		se.Code == stripe.ErrorCodeCardDeclined,
		se.DeclineCode == stripe.DeclineCodeInsufficientFunds:
		return fmt.Errorf("%w: %s", escrow.ErrInsufficientFunds, se.Msg)
	case se.Type == stripe.ErrorTypeAPI,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", escrow.ErrRailUnavailable, se.Msg)
	default:
		return fmt.Errorf("stripe %s: %w", op, err)
	}
}
