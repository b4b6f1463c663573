package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/types"
)

type stubGateway struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	lastReq PaymentRequest
	mu      sync.Mutex
}

func (g *stubGateway) ChargeAttempt(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	n := g.calls.Add(1)
	g.mu.Lock()
	g.lastReq = req
	g.mu.Unlock()
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return nil, g.err
	}
	return &PaymentResult{PaymentID: "pi_" + string(rune('0'+n)), Status: "succeeded", PaidAt: time.Now()}, nil
}

func newTestService(t *testing.T, gw Gateway) (*Service, *repository.Memory) {
	t.Helper()
	repo := repository.NewMemory()
	cfg := &config.Config{Billing: config.BillingConfig{Currency: "cad", ChargeTimeout: time.Second, TaxPercentage: 13}}
	require.NoError(t, repo.SavePaymentProfile(context.Background(), &models.PaymentProfile{UserID: "u1", StripeCustomerID: "cus_1", PaymentMethodID: "pm_1"}))
	return New(repo, gw, cfg, zap.NewNop().Sugar()), repo
}

func TestCharge_RoundsAndRecords(t *testing.T) {
	gw := &stubGateway{}
	svc, repo := newTestService(t, gw)

	charge, err := svc.Charge(context.Background(), ChargeRequest{
		UserID:         "u1",
		MembershipID:   "m1",
		Amount:         decimal.RequireFromString("23.225806"),
		IdempotencyKey: UpgradeKey("m1", "p2"),
		Reason:         types.MembershipChangeReasonUpgrade,
	})
	require.NoError(t, err)
	require.True(t, charge.Succeeded())
	require.Equal(t, int64(2323), gw.lastReq.AmountCents)
	require.Equal(t, "cus_1", gw.lastReq.CustomerID)
	require.Equal(t, "upgrade:m1:p2", gw.lastReq.ReferenceID)

	charges, err := repo.ListChargesByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, charges, 1)
	require.Equal(t, "cad", charges[0].Currency)
}

func TestCharge_NoPaymentMethod(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)

	_, err := svc.Charge(context.Background(), ChargeRequest{UserID: "u2", Amount: decimal.NewFromInt(10), IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrNoPaymentMethod)
	require.Equal(t, int32(0), gw.calls.Load())

	ok, err := svc.HasPaymentMethod(context.Background(), "u2")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = svc.HasPaymentMethod(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCharge_FailureRecordedAndReturned(t *testing.T) {
	gw := &stubGateway{err: ErrPaymentFailed}
	svc, repo := newTestService(t, gw)

	charge, err := svc.Charge(context.Background(), ChargeRequest{UserID: "u1", Amount: decimal.NewFromInt(10), IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrPaymentFailed)
	require.Equal(t, types.ChargeStatusFailed, charge.Status)
	require.NotNil(t, charge.FailureMessage)

	charges, err := repo.ListChargesByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, charges, 1)
}

func TestCharge_InvalidAmount(t *testing.T) {
	svc, _ := newTestService(t, &stubGateway{})
	_, err := svc.Charge(context.Background(), ChargeRequest{UserID: "u1", Amount: decimal.RequireFromString("0.001"), IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCharge_ConcurrentSameKeyChargesOnce(t *testing.T) {
	gw := &stubGateway{delay: 100 * time.Millisecond}
	svc, _ := newTestService(t, gw)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Charge(context.Background(), ChargeRequest{UserID: "u1", Amount: decimal.NewFromInt(10), IdempotencyKey: "renew:m1:2025-02-01"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), gw.calls.Load())
}

func TestCharge_AttemptKeyAfterDecline(t *testing.T) {
	gw := &stubGateway{err: ErrPaymentFailed}
	svc, _ := newTestService(t, gw)
	ctx := context.Background()
	req := ChargeRequest{UserID: "u1", MembershipID: "m1", Amount: decimal.NewFromInt(10), IdempotencyKey: "renew:m1:2025-02-01"}

	_, err := svc.Charge(ctx, req)
	require.ErrorIs(t, err, ErrPaymentFailed)
	require.Equal(t, "renew:m1:2025-02-01", gw.lastReq.ReferenceID)

	// a decline is final under its key, so the retry gets a fresh one
	_, err = svc.Charge(ctx, req)
	require.ErrorIs(t, err, ErrPaymentFailed)
	require.Equal(t, "renew:m1:2025-02-01#2", gw.lastReq.ReferenceID)

	// an outage leaves the outcome open and keeps the key
	gw.err = ErrProviderDown
	_, err = svc.Charge(ctx, req)
	require.ErrorIs(t, err, ErrProviderDown)
	require.Equal(t, "renew:m1:2025-02-01#3", gw.lastReq.ReferenceID)

	gw.err = nil
	charge, err := svc.Charge(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "renew:m1:2025-02-01#3", gw.lastReq.ReferenceID)
	require.Equal(t, "renew:m1:2025-02-01#3", charge.IdempotencyKey)

	// after a success the key is reused and the gateway replays the payment
	_, err = svc.Charge(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "renew:m1:2025-02-01#3", gw.lastReq.ReferenceID)

	// other keys are unaffected
	_, err = svc.Charge(ctx, ChargeRequest{UserID: "u1", Amount: decimal.NewFromInt(10), IdempotencyKey: "renew:m1:2025-03-01"})
	require.NoError(t, err)
	require.Equal(t, "renew:m1:2025-03-01", gw.lastReq.ReferenceID)
}

func TestTaxPercentage_SettingOverridesConfig(t *testing.T) {
	svc, repo := newTestService(t, &stubGateway{})
	ctx := context.Background()

	require.True(t, svc.TaxPercentage(ctx).Equal(decimal.NewFromInt(13)))
	require.Equal(t, "56.50", svc.WithTax(ctx, decimal.NewFromInt(50)).StringFixed(2))

	require.NoError(t, repo.SaveSetting(ctx, &models.AdminSetting{Key: models.SettingTaxPercentage, Value: "5"}))
	require.True(t, svc.TaxPercentage(ctx).Equal(decimal.NewFromInt(5)))

	require.NoError(t, repo.SaveSetting(ctx, &models.AdminSetting{Key: models.SettingTaxPercentage, Value: "abc"}))
	require.True(t, svc.TaxPercentage(ctx).Equal(decimal.NewFromInt(13)))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(ErrProviderDown))
	require.True(t, IsRetryable(context.DeadlineExceeded))
	require.False(t, IsRetryable(ErrPaymentFailed))
	require.False(t, IsRetryable(nil))
}
