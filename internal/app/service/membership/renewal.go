package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/notification"
	"github.com/fatflowers/memberships/internal/app/service/payment"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/types"
)

// DueOutcome is what happened to a membership whose payment date arrived.
type DueOutcome string

const (
	OutcomeRenewed      DueOutcome = "renewed"
	OutcomeLapsed       DueOutcome = "lapsed"
	OutcomeExpired      DueOutcome = "expired"
	OutcomeChargeFailed DueOutcome = "charge_failed"
	OutcomeFailed       DueOutcome = "failed"
	OutcomeSkipped      DueOutcome = "skipped"
)

// ProcessDue applies the transition owed to a membership whose next payment date has passed.
// Active monthly memberships renew; every other due membership expires.
func (s *Service) ProcessDue(ctx context.Context, m *models.UserMembership) (DueOutcome, error) {
	if m.NextPaymentDate.After(s.now()) {
		return OutcomeSkipped, nil
	}
	switch m.Status {
	case types.MembershipStatusActive:
		if m.BillingCycle == types.BillingCycleMonthly {
			return s.Renew(ctx, m)
		}
		return s.expire(ctx, m)
	case types.MembershipStatusEnding, types.MembershipStatusCancelled:
		return s.expire(ctx, m)
	default:
		return OutcomeSkipped, nil
	}
}

func (s *Service) expire(ctx context.Context, m *models.UserMembership) (DueOutcome, error) {
	if err := s.Expire(ctx, m); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeExpired, nil
}

// Renew charges the next month and advances the payment date. Without a payment method the
// membership lapses. A failed charge leaves the membership untouched for the next run.
func (s *Service) Renew(ctx context.Context, m *models.UserMembership) (DueOutcome, error) {
	plan, err := s.getPlan(ctx, m.PlanID)
	if err != nil {
		return OutcomeFailed, err
	}
	ok, err := s.charger.HasPaymentMethod(ctx, m.UserID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check payment method: %w", err)
	}
	if !ok {
		return s.lapse(ctx, m)
	}

	intentID := m.PaymentIntentID
	gross := s.charger.WithTax(ctx, plan.PriceFor(types.BillingCycleMonthly)).Round(2)
	if gross.IsPositive() {
		charge, err := s.charger.Charge(ctx, payment.ChargeRequest{
			UserID:         m.UserID,
			MembershipID:   m.ID,
			Amount:         gross,
			Description:    "Membership renewal: " + plan.Title,
			IdempotencyKey: payment.RenewalKey(m.ID, m.NextPaymentDate),
			Reason:         types.MembershipChangeReasonRenew,
		})
		if errors.Is(err, payment.ErrNoPaymentMethod) {
			return s.lapse(ctx, m)
		}
		if err != nil {
			if !payment.IsRetryable(err) {
				s.notifier.Notify(ctx, notification.Message{
					UserID:  m.UserID,
					Kind:    notification.KindPaymentFailed,
					Subject: "We could not renew your membership",
					Body:    fmt.Sprintf("The renewal payment of $%s for your %s membership failed. We will try again.", gross.StringFixed(2), plan.Title),
					Data:    map[string]any{"membership_id": m.ID, "amount": gross.StringFixed(2)},
				})
			}
			return OutcomeChargeFailed, err
		}
		intentID = charge.ProviderPaymentID
	}

	after := m.Clone()
	after.NextPaymentDate = types.BillingCycleMonthly.AddPeriods(m.NextPaymentDate, 1)
	after.PaymentIntentID = intentID
	err = s.apply(ctx, &transition{
		userID:  m.UserID,
		reason:  types.MembershipChangeReasonRenew,
		changes: []change{{before: m, after: after}},
		role: func(_ context.Context, _ repository.Repository, user *models.User) (int, error) {
			if plan.NeedsAdminPermission && user.EligibleForAdminPlans() {
				return max(user.RoleLevel, types.RoleLevelAdminPlans), nil
			}
			return user.RoleLevel, nil
		},
		extra: map[string]interface{}{"charged": gross.StringFixed(2)},
	})
	if err != nil {
		// the charge is recorded; the renewal key makes the next attempt reuse it
		return OutcomeFailed, err
	}
	return OutcomeRenewed, nil
}

func (s *Service) lapse(ctx context.Context, m *models.UserMembership) (DueOutcome, error) {
	if err := s.Lapse(ctx, m); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeLapsed, nil
}

// Lapse ends an active membership that cannot be charged and demotes the user one tier.
func (s *Service) Lapse(ctx context.Context, m *models.UserMembership) error {
	after := m.Clone()
	after.Status = types.MembershipStatusInactive
	return s.apply(ctx, &transition{
		userID:  m.UserID,
		reason:  types.MembershipChangeReasonLapse,
		changes: []change{{before: m, after: after}},
		role:    demoteOneTier,
		notify: &notification.Message{
			Kind:    notification.KindMembershipLapsed,
			Subject: "Your membership has lapsed",
			Body:    "We could not renew your membership because no payment method is on file.",
			Data:    map[string]any{"membership_id": m.ID, "plan_id": m.PlanID},
		},
	})
}

// Expire turns a due membership inactive and recomputes the user's role level.
func (s *Service) Expire(ctx context.Context, m *models.UserMembership) error {
	after := m.Clone()
	after.Status = types.MembershipStatusInactive
	return s.apply(ctx, &transition{
		userID:  m.UserID,
		reason:  types.MembershipChangeReasonExpire,
		changes: []change{{before: m, after: after}},
		role:    s.recomputeRole,
		extra:   map[string]interface{}{"previous_status": string(m.Status)},
	})
}
