package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/notification"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/logctx"
	"github.com/fatflowers/memberships/pkg/metrics"
	"github.com/fatflowers/memberships/pkg/types"
)

// change is one membership write. Forms always follow the membership they belong to.
type change struct {
	before *models.UserMembership // nil when the membership is created
	after  *models.UserMembership // nil when the membership is deleted
}

// roleFunc returns the user's role level once the changes are written.
type roleFunc func(ctx context.Context, tx repository.Repository, user *models.User) (int, error)

type transition struct {
	userID  string
	reason  types.MembershipChangeReason
	changes []change
	// role is nil when the transition leaves the role level alone.
	role   roleFunc
	extra  map[string]interface{}
	notify *notification.Message
}

// apply writes memberships, their forms and the role level in one transaction, then runs
// the side effects: change log, access sync and notification.
func (s *Service) apply(ctx context.Context, t *transition) error {
	start := time.Now()
	defer metrics.ObserveProcess("membership", string(t.reason), start)

	err := s.repo.RunInTx(ctx, func(tx repository.Repository) error {
		for _, c := range t.changes {
			if err := writeChange(ctx, tx, c); err != nil {
				return err
			}
		}
		if t.role == nil {
			return nil
		}
		user, err := tx.GetUser(ctx, t.userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		level, err := t.role(ctx, tx, user)
		if err != nil {
			return fmt.Errorf("compute role level: %w", err)
		}
		if level == user.RoleLevel {
			return nil
		}
		if err := tx.UpdateRoleLevel(ctx, t.userID, level); err != nil {
			return fmt.Errorf("update role level: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %s: %w", t.reason, err)
	}

	s.afterCommit(ctx, t)
	return nil
}

// planTakenError means another membership already holds the plan for the user.
type planTakenError struct {
	existing *models.UserMembership
}

func (e *planTakenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAlreadySubscribed, e.existing.ID)
}

func (e *planTakenError) Unwrap() error { return ErrAlreadySubscribed }

func holdsPlan(m *models.UserMembership) bool {
	return m != nil && (m.Status == types.MembershipStatusActive || m.Status == types.MembershipStatusEnding)
}

func writeChange(ctx context.Context, tx repository.Repository, c change) error {
	if holdsPlan(c.after) && !holdsPlan(c.before) {
		other, err := findMembership(ctx, tx, c.after.UserID, c.after.PlanID, types.MembershipStatusActive, types.MembershipStatusEnding)
		if err != nil {
			return fmt.Errorf("find membership: %w", err)
		}
		if other != nil && other.ID != c.after.ID {
			return &planTakenError{existing: other}
		}
	}
	if c.before != nil {
		cur, err := tx.GetMembership(ctx, c.before.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrConcurrentChange
		}
		if err != nil {
			return fmt.Errorf("reload membership: %w", err)
		}
		if cur.Status != c.before.Status || !cur.NextPaymentDate.Equal(c.before.NextPaymentDate) {
			return ErrConcurrentChange
		}
	}

	if c.after == nil {
		if err := tx.DeleteMembership(ctx, c.before.ID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		return cascadeForms(ctx, tx, c.before, types.FormStatusInactive)
	}
	if err := tx.SaveMembership(ctx, c.after); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("save membership: %w: %w", ErrAlreadySubscribed, err)
		}
		return fmt.Errorf("save membership: %w", err)
	}
	if c.before == nil {
		return attachForm(ctx, tx, c.after)
	}
	return cascadeForms(ctx, tx, c.after, types.FormStatusOf(c.after.Status))
}

// cascadeForms moves the forms of m to status. Forms created before memberships were linked
// are matched by user and plan.
func cascadeForms(ctx context.Context, tx repository.Repository, m *models.UserMembership, status types.FormStatus) error {
	forms, err := tx.FindForms(ctx, m.UserID, m.PlanID)
	if err != nil {
		return fmt.Errorf("find forms: %w", err)
	}
	targets := lo.Filter(forms, func(f *models.UserMembershipForm, _ int) bool {
		return f.MembershipID != nil && *f.MembershipID == m.ID
	})
	if len(targets) == 0 {
		if f, ok := lo.Find(forms, func(f *models.UserMembershipForm) bool {
			return f.MembershipID == nil && f.Status != types.FormStatusInactive
		}); ok {
			targets = append(targets, f)
		}
	}
	for _, f := range targets {
		if f.Status == status && f.MembershipID != nil {
			continue
		}
		f.Status = status
		f.MembershipID = lo.ToPtr(m.ID)
		if err := tx.SaveForm(ctx, f); err != nil {
			return fmt.Errorf("save form: %w", err)
		}
	}
	return nil
}

// attachForm activates the pending form for a new membership and deactivates any other
// active form on the same plan. A form is created when none is pending.
func attachForm(ctx context.Context, tx repository.Repository, m *models.UserMembership) error {
	forms, err := tx.FindForms(ctx, m.UserID, m.PlanID)
	if err != nil {
		return fmt.Errorf("find forms: %w", err)
	}
	form, ok := lo.Find(forms, func(f *models.UserMembershipForm) bool { return f.Status == types.FormStatusPending })
	if !ok {
		form = &models.UserMembershipForm{UserID: m.UserID, PlanID: m.PlanID}
	}
	for _, f := range forms {
		if f == form || f.Status != types.FormStatusActive {
			continue
		}
		f.Status = types.FormStatusInactive
		if err := tx.SaveForm(ctx, f); err != nil {
			return fmt.Errorf("deactivate duplicate form: %w", err)
		}
	}
	form.Status = types.FormStatusOf(m.Status)
	form.MembershipID = lo.ToPtr(m.ID)
	if err := tx.SaveForm(ctx, form); err != nil {
		return fmt.Errorf("save form: %w", err)
	}
	return nil
}

// holder returns the membership that won the plan when err reports it taken.
func (s *Service) holder(ctx context.Context, err error, userID, planID string) *models.UserMembership {
	var taken *planTakenError
	if errors.As(err, &taken) {
		return taken.existing
	}
	if !errors.Is(err, ErrAlreadySubscribed) {
		return nil
	}
	m, ferr := findMembership(ctx, s.repo, userID, planID, types.MembershipStatusActive, types.MembershipStatusEnding)
	if ferr != nil {
		return nil
	}
	return m
}

func (s *Service) afterCommit(ctx context.Context, t *transition) {
	lg := logctx.FromCtx(ctx, s.log).With("user_id", t.userID, "reason", t.reason)

	for _, c := range t.changes {
		entry := &models.MembershipLog{
			UserID: t.userID,
			Reason: t.reason,
			Before: datatypes.NewJSONType(c.before),
			After:  datatypes.NewJSONType(c.after),
			Extra:  datatypes.JSONMap(t.extra),
		}
		if c.after != nil {
			entry.MembershipID = c.after.ID
		} else {
			entry.MembershipID = c.before.ID
		}
		if entry.Extra == nil {
			entry.Extra = datatypes.JSONMap{}
		}
		s.logs.Save(ctx, entry)
	}

	res, err := s.access.Sync(ctx, t.userID)
	if err != nil {
		metrics.IncAccessSyncFailure()
		lg.Errorw("access sync failed", "err", err)
	} else {
		lg.Infow("membership transition applied", "should_have_door", res.ShouldHaveDoor, "remote", res.Remote)
	}

	if t.notify != nil {
		msg := *t.notify
		msg.UserID = t.userID
		s.notifier.Notify(ctx, msg)
	}
}

// raiseTo promotes the user to the tier the plan grants. It never lowers the role.
func raiseTo(plan *models.MembershipPlan) roleFunc {
	return func(_ context.Context, _ repository.Repository, user *models.User) (int, error) {
		return max(user.RoleLevel, plan.RoleTier(user)), nil
	}
}

func demoteOneTier(_ context.Context, _ repository.Repository, user *models.User) (int, error) {
	return max(user.RoleLevel-1, types.RoleLevelGuest), nil
}

// recomputeRole is the highest tier among the user's current memberships, or the
// orientation floor when none is current.
func (s *Service) recomputeRole(ctx context.Context, tx repository.Repository, user *models.User) (int, error) {
	items, err := tx.ListMembershipsByUser(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("list memberships: %w", err)
	}
	now := s.now()
	level := 0
	for _, m := range items {
		if !m.Current(now) {
			continue
		}
		tier := types.RoleLevelMember
		plan, err := tx.GetPlan(ctx, m.PlanID)
		switch {
		case err == nil:
			tier = plan.RoleTier(user)
		case !errors.Is(err, repository.ErrNotFound):
			return 0, fmt.Errorf("get plan %s: %w", m.PlanID, err)
		}
		level = max(level, tier)
	}
	if level > 0 {
		return level, nil
	}
	return orientationFloor(ctx, tx, user.ID)
}

func orientationFloor(ctx context.Context, tx repository.Repository, userID string) (int, error) {
	n, err := tx.CountPassedOrientations(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count orientations: %w", err)
	}
	if n > 0 {
		return types.RoleLevelOriented, nil
	}
	return types.RoleLevelGuest, nil
}
