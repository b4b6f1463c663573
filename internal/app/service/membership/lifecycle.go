package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/notification"
	"github.com/fatflowers/memberships/internal/app/service/payment"
	"github.com/fatflowers/memberships/internal/app/service/proration"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/logctx"
	"github.com/fatflowers/memberships/pkg/tool"
	"github.com/fatflowers/memberships/pkg/types"
)

type SubscribeRequest struct {
	UserID       string             `json:"user_id" binding:"required"`
	PlanID       string             `json:"plan_id" binding:"required"`
	BillingCycle types.BillingCycle `json:"billing_cycle"`
	// PaymentIntentID is an upfront payment collected by the caller. When empty the plan
	// price is charged against the stored payment method.
	PaymentIntentID *string `json:"payment_intent_id"`
}

type ChangePlanRequest struct {
	UserID              string             `json:"user_id" binding:"required"`
	CurrentMembershipID string             `json:"current_membership_id" binding:"required"`
	TargetPlanID        string             `json:"target_plan_id" binding:"required"`
	IsDowngrade         bool               `json:"is_downgrade"`
	IsResubscribe       bool               `json:"is_resubscribe"`
	PaymentIntentID     *string            `json:"payment_intent_id"`
	BillingCycle        types.BillingCycle `json:"billing_cycle"`
}

func cycleOrDefault(c, fallback types.BillingCycle) (types.BillingCycle, error) {
	if c == "" {
		c = fallback
	}
	if !c.Valid() {
		return "", invalid(ErrUnsupportedBillingCycle, string(c))
	}
	return c, nil
}

// chargeUpfront charges amount plus tax unless the caller already collected payment.
// It returns the payment intent id to store on the membership.
func (s *Service) chargeUpfront(ctx context.Context, intentID *string, req payment.ChargeRequest) (*string, decimal.Decimal, error) {
	if intentID != nil && *intentID != "" {
		return intentID, decimal.Zero, nil
	}
	gross := s.charger.WithTax(ctx, req.Amount).Round(2)
	if !gross.IsPositive() {
		return nil, decimal.Zero, nil
	}
	req.Amount = gross
	charge, err := s.charger.Charge(ctx, req)
	if err != nil {
		return nil, gross, fmt.Errorf("charge %s: %w", req.Reason, err)
	}
	return charge.ProviderPaymentID, gross, nil
}

// Subscribe starts a new membership on a plan.
func (s *Service) Subscribe(ctx context.Context, req *SubscribeRequest) (*models.UserMembership, error) {
	plan, err := s.getPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	user, err := s.getUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.Revoked() {
		return nil, invalid(ErrUserRevoked, user.ID)
	}
	cycle, err := cycleOrDefault(req.BillingCycle, types.BillingCycleMonthly)
	if err != nil {
		return nil, err
	}
	existing, err := findMembership(ctx, s.repo, user.ID, plan.ID, types.MembershipStatusActive, types.MembershipStatusEnding)
	if err != nil {
		return nil, fmt.Errorf("find membership: %w", err)
	}
	if existing != nil {
		return nil, invalid(ErrAlreadySubscribed, existing.ID)
	}
	if err := s.checkAdminPermission(ctx, user, plan); err != nil {
		return nil, err
	}

	now := s.now()
	m := &models.UserMembership{
		ID:              tool.GenerateUUIDV7(),
		UserID:          user.ID,
		PlanID:          plan.ID,
		Status:          types.MembershipStatusActive,
		BillingCycle:    cycle,
		Date:            now,
		NextPaymentDate: cycle.AddPeriods(now, 1),
	}
	intentID, charged, err := s.chargeUpfront(ctx, req.PaymentIntentID, payment.ChargeRequest{
		UserID:         user.ID,
		MembershipID:   m.ID,
		Amount:         plan.PriceFor(cycle),
		Description:    "Membership: " + plan.Title,
		IdempotencyKey: payment.SubscribeKey(user.ID, plan.ID, now),
		Reason:         types.MembershipChangeReasonSubscribe,
	})
	if err != nil {
		return nil, err
	}
	m.PaymentIntentID = intentID

	err = s.apply(ctx, &transition{
		userID:  user.ID,
		reason:  types.MembershipChangeReasonSubscribe,
		changes: []change{{after: m}},
		role:    raiseTo(plan),
		extra:   map[string]interface{}{"plan_id": plan.ID, "charged": charged.StringFixed(2)},
	})
	if existing := s.holder(ctx, err, user.ID, plan.ID); existing != nil {
		// a concurrent submission of the same subscribe committed first
		logctx.FromCtx(ctx, s.log).Infow("subscribe resolved to existing membership", "user_id", user.ID, "membership_id", existing.ID)
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ChangePlan upgrades, downgrades or resubscribes the user's membership.
func (s *Service) ChangePlan(ctx context.Context, req *ChangePlanRequest) (*models.UserMembership, error) {
	current, err := s.getOwnedMembership(ctx, req.UserID, req.CurrentMembershipID)
	if err != nil {
		return nil, err
	}
	target, err := s.getPlan(ctx, req.TargetPlanID)
	if err != nil {
		return nil, err
	}
	user, err := s.getUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.Revoked() {
		return nil, invalid(ErrUserRevoked, user.ID)
	}
	if req.IsResubscribe {
		return s.resubscribe(ctx, user, current, target, req)
	}
	return s.switchPlan(ctx, user, current, target, req)
}

func (s *Service) resubscribe(ctx context.Context, user *models.User, current *models.UserMembership, plan *models.MembershipPlan, req *ChangePlanRequest) (*models.UserMembership, error) {
	if current.PlanID != plan.ID {
		return nil, invalid(ErrInvalidPlanChange, "resubscribe must target the cancelled membership's plan")
	}
	if current.Status == types.MembershipStatusActive {
		return current, nil
	}
	if current.Status != types.MembershipStatusCancelled {
		return nil, invalid(ErrInvalidPlanChange, fmt.Sprintf("cannot resubscribe a %s membership", current.Status))
	}
	cycle, err := cycleOrDefault(req.BillingCycle, current.BillingCycle)
	if err != nil {
		return nil, err
	}

	now := s.now()
	intentID, charged, err := s.chargeUpfront(ctx, req.PaymentIntentID, payment.ChargeRequest{
		UserID:         user.ID,
		MembershipID:   current.ID,
		Amount:         plan.PriceFor(cycle),
		Description:    "Membership: " + plan.Title,
		IdempotencyKey: payment.ResubscribeKey(current.ID, now),
		Reason:         types.MembershipChangeReasonResubscribe,
	})
	if err != nil {
		return nil, err
	}

	after := current.Clone()
	after.Status = types.MembershipStatusActive
	after.BillingCycle = cycle
	after.Date = now
	after.NextPaymentDate = cycle.AddPeriods(now, 1)
	if intentID != nil {
		after.PaymentIntentID = intentID
	}
	err = s.apply(ctx, &transition{
		userID:  user.ID,
		reason:  types.MembershipChangeReasonResubscribe,
		changes: []change{{before: current, after: after}},
		role:    raiseTo(plan),
		extra:   map[string]interface{}{"charged": charged.StringFixed(2)},
	})
	if errors.Is(err, ErrConcurrentChange) {
		if m, gerr := s.repo.GetMembership(ctx, current.ID); gerr == nil && m.Status == types.MembershipStatusActive {
			return m, nil
		}
	}
	if errors.Is(err, ErrAlreadySubscribed) {
		return nil, invalid(ErrAlreadySubscribed, plan.ID)
	}
	if err != nil {
		return nil, err
	}
	return after, nil
}

// switchPlan moves an active monthly membership to another plan. Upgrades take effect now
// with a prorated charge; downgrades start when the paid period ends.
func (s *Service) switchPlan(ctx context.Context, user *models.User, current *models.UserMembership, target *models.MembershipPlan, req *ChangePlanRequest) (*models.UserMembership, error) {
	if current.PlanID == target.ID {
		return nil, invalid(ErrInvalidPlanChange, "target plan is the current plan")
	}
	if current.Status == types.MembershipStatusEnding {
		// a repeated request for a change that already happened
		done, err := findMembership(ctx, s.repo, user.ID, target.ID, types.MembershipStatusActive)
		if err != nil {
			return nil, fmt.Errorf("find membership: %w", err)
		}
		if done != nil {
			return done, nil
		}
	}
	if current.Status != types.MembershipStatusActive {
		return nil, invalid(ErrInvalidPlanChange, fmt.Sprintf("cannot change a %s membership", current.Status))
	}
	if current.BillingCycle != types.BillingCycleMonthly {
		return nil, invalid(ErrUnsupportedBillingCycle, string(current.BillingCycle))
	}
	if req.BillingCycle != "" && req.BillingCycle != types.BillingCycleMonthly {
		return nil, invalid(ErrUnsupportedBillingCycle, string(req.BillingCycle))
	}
	existing, err := findMembership(ctx, s.repo, user.ID, target.ID, types.MembershipStatusActive)
	if err != nil {
		return nil, fmt.Errorf("find membership: %w", err)
	}
	if existing != nil {
		return nil, invalid(ErrAlreadySubscribed, existing.ID)
	}
	if err := s.checkAdminPermission(ctx, user, target); err != nil {
		return nil, err
	}
	currentPlan, err := s.getPlan(ctx, current.PlanID)
	if err != nil {
		return nil, err
	}

	oldPrice := currentPlan.PriceFor(types.BillingCycleMonthly)
	newPrice := target.PriceFor(types.BillingCycleMonthly)
	if req.IsDowngrade && newPrice.GreaterThan(oldPrice) {
		return nil, invalid(ErrInvalidPlanChange, "downgrade target is more expensive")
	}
	if !req.IsDowngrade && newPrice.LessThan(oldPrice) {
		return nil, invalid(ErrInvalidPlanChange, "upgrade target is cheaper")
	}

	now := s.now()
	ending := current.Clone()
	ending.Status = types.MembershipStatusEnding
	next := &models.UserMembership{
		ID:           tool.GenerateUUIDV7(),
		UserID:       user.ID,
		PlanID:       target.ID,
		Status:       types.MembershipStatusActive,
		BillingCycle: types.BillingCycleMonthly,
	}
	t := &transition{
		userID:  user.ID,
		changes: []change{{before: current, after: ending}, {after: next}},
		extra:   map[string]interface{}{"from_plan_id": currentPlan.ID, "to_plan_id": target.ID},
	}

	if req.IsDowngrade {
		next.Date = current.NextPaymentDate
		next.NextPaymentDate = types.BillingCycleMonthly.AddPeriods(current.NextPaymentDate, 1)
		next.PaymentIntentID = req.PaymentIntentID
		t.reason = types.MembershipChangeReasonDowngrade
	} else {
		prorated := proration.Monthly(now, current.NextPaymentDate, oldPrice, newPrice)
		intentID, charged, err := s.chargeUpfront(ctx, req.PaymentIntentID, payment.ChargeRequest{
			UserID:         user.ID,
			MembershipID:   next.ID,
			Amount:         prorated,
			Description:    fmt.Sprintf("Upgrade: %s to %s", currentPlan.Title, target.Title),
			IdempotencyKey: payment.UpgradeKey(current.ID, target.ID),
			Reason:         types.MembershipChangeReasonUpgrade,
		})
		if err != nil {
			return nil, err
		}
		next.Date = now
		next.NextPaymentDate = current.NextPaymentDate
		next.PaymentIntentID = intentID
		t.reason = types.MembershipChangeReasonUpgrade
		t.role = raiseTo(target)
		t.extra["prorated"] = prorated.StringFixed(2)
		t.extra["charged"] = charged.StringFixed(2)
	}

	if err := s.apply(ctx, t); err != nil {
		if errors.Is(err, ErrConcurrentChange) || errors.Is(err, ErrAlreadySubscribed) {
			// the same change committed first
			done, ferr := findMembership(ctx, s.repo, user.ID, target.ID, types.MembershipStatusActive)
			if ferr == nil && done != nil {
				return done, nil
			}
		}
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("membership plan changed", "user_id", user.ID, "reason", t.reason, "from", current.ID, "to", next.ID)
	return next, nil
}

// Cancel cancels the user's active or ending membership on a plan. Before the paid period
// ends the membership turns cancelled and keeps its benefits; afterwards it is removed and
// nil is returned. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, userID, planID string) (*models.UserMembership, error) {
	plan, err := s.getPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	m, err := findMembership(ctx, s.repo, userID, plan.ID, types.MembershipStatusActive, types.MembershipStatusEnding)
	if err != nil {
		return nil, fmt.Errorf("find membership: %w", err)
	}
	if m == nil {
		cancelled, err := findMembership(ctx, s.repo, userID, plan.ID, types.MembershipStatusCancelled)
		if err != nil {
			return nil, fmt.Errorf("find membership: %w", err)
		}
		return cancelled, nil
	}

	now := s.now()
	if now.Before(m.NextPaymentDate) {
		after := m.Clone()
		after.Status = types.MembershipStatusCancelled
		err = s.apply(ctx, &transition{
			userID:  userID,
			reason:  types.MembershipChangeReasonCancel,
			changes: []change{{before: m, after: after}},
			notify: &notification.Message{
				Kind:    notification.KindMembershipCancelled,
				Subject: "Your membership has been cancelled",
				Body:    fmt.Sprintf("Your %s membership stays active until %s.", plan.Title, m.NextPaymentDate.Format(time.DateOnly)),
				Data:    map[string]any{"membership_id": m.ID, "plan_id": plan.ID, "access_until": m.NextPaymentDate},
			},
		})
		if errors.Is(err, ErrConcurrentChange) {
			return s.cancelledAlready(ctx, m.ID, err)
		}
		if err != nil {
			return nil, err
		}
		return after, nil
	}

	err = s.apply(ctx, &transition{
		userID:  userID,
		reason:  types.MembershipChangeReasonExpireCancel,
		changes: []change{{before: m}},
		role:    s.recomputeRole,
		notify: &notification.Message{
			Kind:    notification.KindMembershipCancelled,
			Subject: "Your membership has been cancelled",
			Body:    fmt.Sprintf("Your %s membership has ended.", plan.Title),
			Data:    map[string]any{"membership_id": m.ID, "plan_id": plan.ID},
		},
	})
	if errors.Is(err, ErrConcurrentChange) {
		return s.cancelledAlready(ctx, m.ID, err)
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// cancelledAlready resolves a cancel that lost a race. A concurrent cancel that reached
// the same end state makes this one a no-op.
func (s *Service) cancelledAlready(ctx context.Context, id string, cause error) (*models.UserMembership, error) {
	m, err := s.repo.GetMembership(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reload membership: %w", err)
	}
	if m.Status == types.MembershipStatusCancelled {
		return m, nil
	}
	return nil, cause
}
