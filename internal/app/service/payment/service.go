package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/logctx"
	"github.com/fatflowers/memberships/pkg/metrics"
	"github.com/fatflowers/memberships/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// ChargeRequest asks for an off-session charge of Amount, already tax inclusive.
type ChargeRequest struct {
	UserID         string
	MembershipID   string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
	Reason         types.MembershipChangeReason
}

// Service charges stored payment methods and keeps an audit row per attempt.
type Service struct {
	repo    repository.Repository
	gateway Gateway
	cfg     *config.Config
	log     *zap.SugaredLogger

	// concurrent charges sharing an idempotency key collapse into one gateway call
	sf singleflight.Group
}

func New(repo repository.Repository, gateway Gateway, cfg *config.Config, log *zap.SugaredLogger) *Service {
	return &Service{repo: repo, gateway: gateway, cfg: cfg, log: log}
}

// RenewalKey identifies the charge for the period starting at nextPaymentDate.
func RenewalKey(membershipID string, nextPaymentDate time.Time) string {
	return fmt.Sprintf("renew:%s:%s", membershipID, nextPaymentDate.Format(time.DateOnly))
}

// UpgradeKey identifies the prorated charge of moving a membership to a target plan.
func UpgradeKey(membershipID, targetPlanID string) string {
	return fmt.Sprintf("upgrade:%s:%s", membershipID, targetPlanID)
}

// SubscribeKey identifies the upfront charge of a new or resumed membership.
func SubscribeKey(userID, planID string, day time.Time) string {
	return fmt.Sprintf("subscribe:%s:%s:%s", userID, planID, day.Format(time.DateOnly))
}

// ResubscribeKey identifies the charge that reactivates a cancelled membership on day.
func ResubscribeKey(membershipID string, day time.Time) string {
	return fmt.Sprintf("resubscribe:%s:%s", membershipID, day.Format(time.DateOnly))
}

// GrossAmount adds taxPercent to net.
func GrossAmount(net, taxPercent decimal.Decimal) decimal.Decimal {
	return net.Add(net.Mul(taxPercent).Div(hundred))
}

// TaxPercentage reads the admin setting, falling back to billing.tax_percentage.
func (s *Service) TaxPercentage(ctx context.Context) decimal.Decimal {
	fallback := decimal.NewFromFloat(s.cfg.Billing.TaxPercentage)
	setting, err := s.repo.GetSetting(ctx, models.SettingTaxPercentage)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logctx.FromCtx(ctx, s.log).Warnw("read tax setting failed", "err", err)
		}
		return fallback
	}
	v, err := decimal.NewFromString(setting.Value)
	if err != nil || v.IsNegative() {
		logctx.FromCtx(ctx, s.log).Warnw("invalid tax setting", "value", setting.Value)
		return fallback
	}
	return v
}

// WithTax is GrossAmount at the current tax percentage.
func (s *Service) WithTax(ctx context.Context, net decimal.Decimal) decimal.Decimal {
	return GrossAmount(net, s.TaxPercentage(ctx))
}

// HasPaymentMethod reports whether the user has a stored method usable off-session.
func (s *Service) HasPaymentMethod(ctx context.Context, userID string) (bool, error) {
	profile, err := s.repo.GetPaymentProfile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return profile.Usable(), nil
}

// Charge rounds the amount to cents and charges the user's stored payment method.
// The returned Charge is the audit row; it is nil only when no attempt was made.
func (s *Service) Charge(ctx context.Context, req ChargeRequest) (*models.Charge, error) {
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("charge for membership %s: missing idempotency key", req.MembershipID)
	}
	profile, err := s.repo.GetPaymentProfile(ctx, req.UserID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !profile.Usable()) {
		return nil, ErrNoPaymentMethod
	}
	if err != nil {
		return nil, fmt.Errorf("load payment profile: %w", err)
	}

	req.IdempotencyKey, err = s.attemptKey(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	v, err, shared := s.sf.Do(req.IdempotencyKey, func() (interface{}, error) {
		return s.attempt(ctx, req, profile, amount)
	})
	if shared {
		logctx.FromCtx(ctx, s.log).Infow("charge deduplicated", "idempotency_key", req.IdempotencyKey)
	}
	charge, _ := v.(*models.Charge)
	return charge, err
}

// attemptKey numbers the key once an earlier attempt under it was declined, since the
// gateway replays the stored outcome of a reused key. Successes and retryable failures
// keep the current key.
func (s *Service) attemptKey(ctx context.Context, userID, key string) (string, error) {
	charges, err := s.repo.ListChargesByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list charges: %w", err)
	}
	declined := lo.CountBy(charges, func(c *models.Charge) bool {
		if c.Status != types.ChargeStatusFailed || retryableCharge(c) {
			return false
		}
		return c.IdempotencyKey == key || strings.HasPrefix(c.IdempotencyKey, key+"#")
	})
	if declined == 0 {
		return key, nil
	}
	return fmt.Sprintf("%s#%d", key, declined+1), nil
}

func retryableCharge(c *models.Charge) bool {
	v, _ := c.Extra["retryable"].(bool)
	return v
}

func (s *Service) attempt(ctx context.Context, req ChargeRequest, profile *models.PaymentProfile, amount decimal.Decimal) (*models.Charge, error) {
	start := time.Now()
	defer metrics.ObserveProcess("payment", "charge", start)
	lg := logctx.FromCtx(ctx, s.log).With("user_id", req.UserID, "membership_id", req.MembershipID, "idempotency_key", req.IdempotencyKey)

	charge := &models.Charge{
		UserID:         req.UserID,
		MembershipID:   req.MembershipID,
		Amount:         amount,
		AmountCents:    amount.Shift(2).IntPart(),
		Currency:       s.cfg.Billing.Currency,
		Reason:         string(req.Reason),
		IdempotencyKey: req.IdempotencyKey,
		Extra:          datatypes.JSONMap{},
	}

	timeout := s.cfg.Billing.ChargeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	chargeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.gateway.ChargeAttempt(chargeCtx, PaymentRequest{
		ReferenceID:     req.IdempotencyKey,
		AmountCents:     charge.AmountCents,
		Currency:        charge.Currency,
		CustomerID:      profile.StripeCustomerID,
		PaymentMethodID: profile.PaymentMethodID,
		Description:     req.Description,
		Metadata: map[string]string{
			"user_id":       req.UserID,
			"membership_id": req.MembershipID,
			"reason":        string(req.Reason),
		},
	})
	if result != nil && result.PaymentID != "" {
		id := result.PaymentID
		charge.ProviderPaymentID = &id
		charge.Extra["provider_status"] = result.Status
	}
	if err != nil {
		msg := err.Error()
		charge.Status = types.ChargeStatusFailed
		charge.FailureMessage = &msg
		charge.Extra["retryable"] = IsRetryable(err)
		lg.Warnw("charge failed", "amount", amount.StringFixed(2), "err", err)
	} else {
		charge.Status = types.ChargeStatusSucceeded
		lg.Infow("charge succeeded", "amount", amount.StringFixed(2), "payment_id", result.PaymentID)
	}

	if saveErr := s.repo.SaveCharge(ctx, charge); saveErr != nil {
		// money may have moved; the gateway idempotency key makes a retry safe
		lg.Errorw("save charge record failed", "status", charge.Status, "err", saveErr)
	}
	if err != nil {
		return charge, err
	}
	return charge, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
