package payment

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

var (
	ErrPaymentFailed   = errors.New("payment failed")
	ErrNoPaymentMethod = errors.New("no stored payment method")
	ErrProviderDown    = errors.New("payment provider unavailable")
	ErrInvalidAmount   = errors.New("invalid charge amount")
)

// PaymentRequest is an off-session charge against a stored payment method.
type PaymentRequest struct {
	// ReferenceID doubles as the gateway idempotency key.
	ReferenceID     string
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Description     string
	Metadata        map[string]string
}

type PaymentResult struct {
	PaymentID string
	Status    string
	PaidAt    time.Time
}

// Gateway issues charges. Implementations translate provider errors into the errors of this package.
type Gateway interface {
	ChargeAttempt(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// UnconfiguredGateway fails every charge. It is used when no gateway credentials are set.
type UnconfiguredGateway struct{}

func (UnconfiguredGateway) ChargeAttempt(context.Context, PaymentRequest) (*PaymentResult, error) {
	return nil, ErrProviderDown
}

// IsRetryable reports whether a later attempt of the same charge may succeed.
// Declines are final for the period; outages and network blips are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderDown) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
