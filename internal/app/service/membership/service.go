// Package membership is the subscription lifecycle engine: subscribe, plan changes,
// cancellation and the renew/lapse/expire transitions driven by the billing scheduler.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/access"
	"github.com/fatflowers/memberships/internal/app/service/membership_log"
	"github.com/fatflowers/memberships/internal/app/service/notification"
	"github.com/fatflowers/memberships/internal/app/service/payment"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/types"
)

// Charger moves money for lifecycle transitions.
type Charger interface {
	Charge(ctx context.Context, req payment.ChargeRequest) (*models.Charge, error)
	WithTax(ctx context.Context, net decimal.Decimal) decimal.Decimal
	HasPaymentMethod(ctx context.Context, userID string) (bool, error)
}

// AccessSyncer reconciles door access after a transition.
type AccessSyncer interface {
	Sync(ctx context.Context, userID string) (*access.SyncResult, error)
}

// ChangeLogger records transitions for troubleshooting.
type ChangeLogger interface {
	Save(ctx context.Context, log *models.MembershipLog)
}

type Service struct {
	repo     repository.Repository
	charger  Charger
	access   AccessSyncer
	logs     ChangeLogger
	notifier notification.Notifier
	cfg      *config.Config
	log      *zap.SugaredLogger
	now      func() time.Time
}

type Params struct {
	fx.In

	Repo     repository.Repository
	Charger  Charger
	Access   AccessSyncer
	Logs     ChangeLogger
	Notifier notification.Notifier
	Cfg      *config.Config
	Log      *zap.SugaredLogger
	Clock    func() time.Time `optional:"true"`
}

func New(p Params) *Service {
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &Service{
		repo:     p.Repo,
		charger:  p.Charger,
		access:   p.Access,
		logs:     p.Logs,
		notifier: p.Notifier,
		cfg:      p.Cfg,
		log:      p.Log,
		now:      p.Clock,
	}
}

func (s *Service) getPlan(ctx context.Context, id string) (*models.MembershipPlan, error) {
	plan, err := s.repo.GetPlan(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid(ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}
	return plan, nil
}

func (s *Service) getUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid(ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

// getOwnedMembership loads a membership and checks it belongs to userID.
func (s *Service) getOwnedMembership(ctx context.Context, userID, id string) (*models.UserMembership, error) {
	m, err := s.repo.GetMembership(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid(ErrMembershipNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get membership %s: %w", id, err)
	}
	if m.UserID != userID {
		return nil, invalid(ErrNotOwner, id)
	}
	return m, nil
}

// findMembership is FindMembership with ErrNotFound mapped to (nil, nil).
func findMembership(ctx context.Context, repo repository.Repository, userID, planID string, statuses ...types.MembershipStatus) (*models.UserMembership, error) {
	m, err := repo.FindMembership(ctx, userID, planID, statuses...)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (s *Service) hasActiveMembership(ctx context.Context, userID string) (bool, error) {
	items, err := s.repo.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, m := range items {
		if m.Status == types.MembershipStatusActive {
			return true, nil
		}
	}
	return false, nil
}

// checkAdminPermission gates plans that need an admin to clear the member first.
func (s *Service) checkAdminPermission(ctx context.Context, user *models.User, plan *models.MembershipPlan) error {
	if !plan.NeedsAdminPermission {
		return nil
	}
	if !user.EligibleForAdminPlans() {
		return invalid(ErrAdminPermissionRequired, fmt.Sprintf("role_level=%d allow_level4=%t", user.RoleLevel, user.AllowLevel4))
	}
	ok, err := s.hasActiveMembership(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("check active memberships: %w", err)
	}
	if !ok {
		return invalid(ErrAdminPermissionRequired, "no active membership")
	}
	return nil
}

// ListMembershipsForUser returns every membership of the user, newest first.
func (s *Service) ListMembershipsForUser(ctx context.Context, userID string) ([]*models.UserMembership, error) {
	items, err := s.repo.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return items, nil
}

func NewCharger(s *payment.Service) Charger { return s }

func NewAccessSyncer(s *access.Service) AccessSyncer { return s }

func NewChangeLogger(s *membership_log.Service) ChangeLogger { return s }

var Module = fx.Options(
	fx.Provide(New, NewCharger, NewAccessSyncer, NewChangeLogger),
)
