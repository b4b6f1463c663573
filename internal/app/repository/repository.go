package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/internal/platform/db"
	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/types"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a write collides with a uniqueness constraint, such as a
// second active membership on the same plan.
var ErrDuplicate = errors.New("duplicate record")

// ErrInvalidScan rejects a scan request before it reaches storage.
var ErrInvalidScan = errors.New("invalid scan request")

// Repository is every read and write the membership engine, the billing scheduler and the
// access synchronizer perform. Implementations must make RunInTx all-or-nothing.
type Repository interface {
	// RunInTx runs fn against a transactional view. Nested calls reuse the outer transaction.
	RunInTx(ctx context.Context, fn func(tx Repository) error) error

	GetPlan(ctx context.Context, id string) (*models.MembershipPlan, error)
	SavePlan(ctx context.Context, plan *models.MembershipPlan) error

	GetUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	UpdateRoleLevel(ctx context.Context, userID string, level int) error
	UpdateUserSync(ctx context.Context, userID string, update UserSyncUpdate) error
	CountPassedOrientations(ctx context.Context, userID string) (int64, error)
	SaveWorkshopRegistration(ctx context.Context, reg *models.WorkshopRegistration) error

	ListAccessCards(ctx context.Context, userID string) ([]*models.AccessCard, error)
	SaveAccessCard(ctx context.Context, card *models.AccessCard) error

	GetMembership(ctx context.Context, id string) (*models.UserMembership, error)
	// FindMembership returns the most recent membership of the user on the plan whose status
	// is one of statuses, or ErrNotFound.
	FindMembership(ctx context.Context, userID, planID string, statuses ...types.MembershipStatus) (*models.UserMembership, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]*models.UserMembership, error)
	ListMembershipsByStatus(ctx context.Context, statuses ...types.MembershipStatus) ([]*models.UserMembership, error)
	SaveMembership(ctx context.Context, m *models.UserMembership) error
	DeleteMembership(ctx context.Context, id string) error
	// ListDueMemberships returns active, ending and cancelled memberships with next_payment_date <= now.
	ListDueMemberships(ctx context.Context, now time.Time) ([]*models.UserMembership, error)
	// ListMembershipsDueWithin returns active memberships with from < next_payment_date <= to.
	ListMembershipsDueWithin(ctx context.Context, from, to time.Time) ([]*models.UserMembership, error)
	ScanMemberships(ctx context.Context, req *ScanMembershipsRequest) (*ScanMembershipsResult, error)

	FindForms(ctx context.Context, userID, planID string, statuses ...types.FormStatus) ([]*models.UserMembershipForm, error)
	SaveForm(ctx context.Context, form *models.UserMembershipForm) error

	GetPaymentProfile(ctx context.Context, userID string) (*models.PaymentProfile, error)
	SavePaymentProfile(ctx context.Context, profile *models.PaymentProfile) error
	SaveCharge(ctx context.Context, charge *models.Charge) error
	ListChargesByUser(ctx context.Context, userID string) ([]*models.Charge, error)

	GetSetting(ctx context.Context, key string) (*models.AdminSetting, error)
	SaveSetting(ctx context.Context, setting *models.AdminSetting) error

	SaveMembershipLog(ctx context.Context, log *models.MembershipLog) error
	// SaveSnapshot ignores a second snapshot of the same membership on the same day.
	SaveSnapshot(ctx context.Context, snap *models.MembershipDailySnapshot) error

	DailyChargeStats(ctx context.Context, from, to time.Time) ([]DailyChargeStat, error)
	DailyActiveSnapshotCounts(ctx context.Context, fromDate, toDate string) ([]DailyCount, error)
	CountCurrentMemberships(ctx context.Context, now time.Time) (int64, error)
}

// UserSyncUpdate is the outcome of a remote access provider sync.
type UserSyncUpdate struct {
	// PersonID replaces the stored remote person id when non-nil.
	PersonID  *string
	SyncError *string
	SyncedAt  time.Time
}

type ScanMembershipsRequest struct {
	Filters   []*types.CommonFilter
	From      int
	Size      int
	SortBy    string
	SortOrder string
}

type ScanMembershipsResult struct {
	Items []*models.UserMembership
	Total int64
}

type DailyChargeStat struct {
	Date        string
	Currency    string
	Count       int64
	AmountCents int64
}

type DailyCount struct {
	Date  string
	Value int64
}

var scanSortColumns = map[string]string{
	"":                  "created_at",
	"created_at":        "created_at",
	"date":              "date",
	"next_payment_date": "next_payment_date",
	"status":            "status",
}

func (r *ScanMembershipsRequest) normalize() error {
	if r.Size <= 0 {
		r.Size = 20
	}
	if r.Size > 500 {
		r.Size = 500
	}
	if r.From < 0 {
		r.From = 0
	}
	col, ok := scanSortColumns[r.SortBy]
	if !ok {
		return fmt.Errorf("%w: unsupported sort_by: %s", ErrInvalidScan, r.SortBy)
	}
	r.SortBy = col
	if r.SortOrder != "asc" {
		r.SortOrder = "desc"
	}
	return nil
}

// New selects the storage driver from configuration.
func New(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *config.Config) (Repository, error) {
	switch cfg.Database.Driver {
	case config.DBDriverMemory:
		l.Warnw("using in-memory repository, data is lost on restart")
		return NewMemory(), nil
	case config.DBDriverPostgres, "":
		gdb, err := db.NewDB(l, cfg)
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(l, gdb); err != nil {
			return nil, err
		}
		db.RegisterClose(lc, l, gdb)
		return NewGorm(gdb), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

var Module = fx.Options(
	fx.Provide(New),
)
