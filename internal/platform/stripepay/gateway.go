// Package stripepay charges stored cards off-session through Stripe PaymentIntents.
package stripepay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/service/payment"
	"github.com/fatflowers/memberships/pkg/config"
)

// paymentIntents is the subset of the Stripe client used here.
type paymentIntents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type Gateway struct {
	intents paymentIntents
}

// New returns a Stripe backed gateway, or a gateway failing every charge when no key is set.
func New(cfg *config.Config, log *zap.SugaredLogger) payment.Gateway {
	if cfg.Stripe.SecretKey == "" {
		log.Warnw("stripe secret key not configured, charges will fail")
		return payment.UnconfiguredGateway{}
	}
	sc := &client.API{}
	sc.Init(cfg.Stripe.SecretKey, nil)
	return &Gateway{intents: sc.PaymentIntents}
}

// ChargeAttempt confirms an off-session PaymentIntent. Anything but "succeeded" is a failure,
// since the member is not present to complete extra authentication.
func (g *Gateway) ChargeAttempt(ctx context.Context, req payment.PaymentRequest) (*payment.PaymentResult, error) {
	if req.AmountCents <= 0 {
		return nil, payment.ErrInvalidAmount
	}
	if req.PaymentMethodID == "" || req.CustomerID == "" {
		return nil, payment.ErrNoPaymentMethod
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(req.Description),
	}
	if req.ReferenceID != "" {
		params.IdempotencyKey = stripe.String(req.ReferenceID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	result := &payment.PaymentResult{
		PaymentID: pi.ID,
		Status:    string(pi.Status),
		PaidAt:    time.Now(),
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return result, fmt.Errorf("%w: status is %s", payment.ErrPaymentFailed, pi.Status)
	}
	return result, nil
}

// mapStripeError keeps stripe types out of the payment service.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Code {
		case stripe.ErrorCodeCardDeclined:
			return fmt.Errorf("%w: card was declined (%s)", payment.ErrPaymentFailed, stripeErr.Msg)
		case stripe.ErrorCodeExpiredCard:
			return fmt.Errorf("%w: card has expired", payment.ErrPaymentFailed)
		case stripe.ErrorCodeBalanceInsufficient:
			return fmt.Errorf("%w: insufficient funds", payment.ErrPaymentFailed)
		case stripe.ErrorCodeAuthenticationRequired:
			return fmt.Errorf("%w: card requires authentication", payment.ErrPaymentFailed)
		case stripe.ErrorCodeRateLimit, stripe.ErrorCodeLockTimeout:
			return fmt.Errorf("%w: %s", payment.ErrProviderDown, stripeErr.Code)
		}
		if stripeErr.Type == stripe.ErrorTypeCard {
			return fmt.Errorf("%w: %s", payment.ErrPaymentFailed, stripeErr.Msg)
		}
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return payment.ErrProviderDown
		}
	}
	return fmt.Errorf("gateway internal error: %w", err)
}

var Module = fx.Options(
	fx.Provide(New),
)
