package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/tool"
	"github.com/fatflowers/memberships/pkg/types"
)

// Gorm is the postgres backed Repository.
type Gorm struct {
	db   *gorm.DB
	inTx bool
}

func NewGorm(db *gorm.DB) *Gorm { return &Gorm{db: db} }

func (r *Gorm) RunInTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx, inTx: true})
	})
}

// forUpdate locks the selected rows until the transaction ends, so a guard read and the
// write that follows it see the same row.
func (r *Gorm) forUpdate(q *gorm.DB) *gorm.DB {
	if !r.inTx {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *Gorm) GetPlan(ctx context.Context, id string) (*models.MembershipPlan, error) {
	var plan models.MembershipPlan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

func (r *Gorm) SavePlan(ctx context.Context, plan *models.MembershipPlan) error {
	if plan.ID == "" {
		plan.ID = tool.GenerateUUIDV7()
	}
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *Gorm) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *Gorm) SaveUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *Gorm) UpdateRoleLevel(ctx context.Context, userID string, level int) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("role_level", level)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Gorm) UpdateUserSync(ctx context.Context, userID string, update UserSyncUpdate) error {
	values := map[string]interface{}{
		"brivo_sync_error":     update.SyncError,
		"brivo_last_synced_at": update.SyncedAt,
	}
	if update.PersonID != nil {
		values["brivo_person_id"] = *update.PersonID
	}
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(values).Error
}

func (r *Gorm) CountPassedOrientations(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.WorkshopRegistration{}).
		Where("user_id = ? AND workshop_type = ? AND passed", userID, types.WorkshopTypeOrientation).
		Count(&n).Error
	return n, err
}

func (r *Gorm) SaveWorkshopRegistration(ctx context.Context, reg *models.WorkshopRegistration) error {
	if reg.ID == "" {
		reg.ID = tool.GenerateUUIDV7()
	}
	return r.db.WithContext(ctx).Save(reg).Error
}

func (r *Gorm) ListAccessCards(ctx context.Context, userID string) ([]*models.AccessCard, error) {
	var cards []*models.AccessCard
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&cards).Error
	return cards, err
}

func (r *Gorm) SaveAccessCard(ctx context.Context, card *models.AccessCard) error {
	if card.ID == "" {
		card.ID = tool.GenerateUUIDV7()
	}
	return r.db.WithContext(ctx).Save(card).Error
}

func (r *Gorm) GetMembership(ctx context.Context, id string) (*models.UserMembership, error) {
	var m models.UserMembership
	if err := r.forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *Gorm) FindMembership(ctx context.Context, userID, planID string, statuses ...types.MembershipStatus) (*models.UserMembership, error) {
	var m models.UserMembership
	q := r.forUpdate(r.db.WithContext(ctx)).Where("user_id = ? AND plan_id = ?", userID, planID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("date DESC, created_at DESC").First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *Gorm) ListMembershipsByUser(ctx context.Context, userID string) ([]*models.UserMembership, error) {
	var items []*models.UserMembership
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("date DESC, created_at DESC").Find(&items).Error
	return items, err
}

func (r *Gorm) ListMembershipsByStatus(ctx context.Context, statuses ...types.MembershipStatus) ([]*models.UserMembership, error) {
	var items []*models.UserMembership
	err := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("id").Find(&items).Error
	return items, err
}

func (r *Gorm) SaveMembership(ctx context.Context, m *models.UserMembership) error {
	if m.ID == "" {
		m.ID = tool.GenerateUUIDV7()
	}
	err := r.db.WithContext(ctx).Save(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: membership of user %s on plan %s", ErrDuplicate, m.UserID, m.PlanID)
	}
	return err
}

func (r *Gorm) DeleteMembership(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.UserMembership{}).Error
}

func (r *Gorm) ListDueMemberships(ctx context.Context, now time.Time) ([]*models.UserMembership, error) {
	var items []*models.UserMembership
	err := r.db.WithContext(ctx).
		Where("status IN ?", []types.MembershipStatus{types.MembershipStatusActive, types.MembershipStatusEnding, types.MembershipStatusCancelled}).
		Where("next_payment_date <= ?", now).
		Order("next_payment_date, id").
		Find(&items).Error
	return items, err
}

func (r *Gorm) ListMembershipsDueWithin(ctx context.Context, from, to time.Time) ([]*models.UserMembership, error) {
	var items []*models.UserMembership
	err := r.db.WithContext(ctx).
		Where("status = ?", types.MembershipStatusActive).
		Where("next_payment_date > ? AND next_payment_date <= ?", from, to).
		Order("next_payment_date, id").
		Find(&items).Error
	return items, err
}

// filtersWhere wraps a list of filters to a single clause.Expression
type filtersWhere struct{ filters []*types.CommonFilter }

func (w filtersWhere) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, f := range w.filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		f.Build(builder)
	}
}

func (r *Gorm) ScanMemberships(ctx context.Context, req *ScanMembershipsRequest) (*ScanMembershipsResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	q := r.db.WithContext(ctx).Model(&models.UserMembership{}).
		Where(clause.Where{Exprs: []clause.Expression{filtersWhere{filters: req.Filters}}})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}
	var items []*models.UserMembership
	err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder == "desc"}).
		Offset(req.From).Limit(req.Size).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return &ScanMembershipsResult{Items: items, Total: total}, nil
}

func (r *Gorm) FindForms(ctx context.Context, userID, planID string, statuses ...types.FormStatus) ([]*models.UserMembershipForm, error) {
	var forms []*models.UserMembershipForm
	q := r.forUpdate(r.db.WithContext(ctx)).Where("user_id = ? AND plan_id = ?", userID, planID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Order("created_at DESC").Find(&forms).Error
	return forms, err
}

func (r *Gorm) SaveForm(ctx context.Context, form *models.UserMembershipForm) error {
	if form.ID == "" {
		form.ID = tool.GenerateUUIDV7()
	}
	return r.db.WithContext(ctx).Save(form).Error
}

func (r *Gorm) GetPaymentProfile(ctx context.Context, userID string) (*models.PaymentProfile, error) {
	var p models.PaymentProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Gorm) SavePaymentProfile(ctx context.Context, profile *models.PaymentProfile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}

func (r *Gorm) SaveCharge(ctx context.Context, charge *models.Charge) error {
	if charge.ID == "" {
		charge.ID = tool.GenerateUUIDV7()
	}
	return r.db.WithContext(ctx).Create(charge).Error
}

func (r *Gorm) ListChargesByUser(ctx context.Context, userID string) ([]*models.Charge, error) {
	var items []*models.Charge
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&items).Error
	return items, err
}

func (r *Gorm) GetSetting(ctx context.Context, key string) (*models.AdminSetting, error) {
	var s models.AdminSetting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *Gorm) SaveSetting(ctx context.Context, setting *models.AdminSetting) error {
	return r.db.WithContext(ctx).Save(setting).Error
}

func (r *Gorm) SaveMembershipLog(ctx context.Context, log *models.MembershipLog) error {
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *Gorm) SaveSnapshot(ctx context.Context, snap *models.MembershipDailySnapshot) error {
	if snap.ID == "" {
		snap.ID = tool.GenerateUUIDV7()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(snap).Error
}

func (r *Gorm) DailyChargeStats(ctx context.Context, from, to time.Time) ([]DailyChargeStat, error) {
	var results []DailyChargeStat
	err := r.db.WithContext(ctx).Table((models.Charge{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, currency, count(*) as count, sum(amount_cents) as amount_cents").
		Where("status = ?", types.ChargeStatusSucceeded).
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Group("currency").
		Order("date").
		Find(&results).Error
	return results, err
}

func (r *Gorm) DailyActiveSnapshotCounts(ctx context.Context, fromDate, toDate string) ([]DailyCount, error) {
	var results []DailyCount
	err := r.db.WithContext(ctx).Table((models.MembershipDailySnapshot{}).TableName()).
		Select("snapshot_date as date, count(*) as value").
		Where("status = ?", types.MembershipStatusActive).
		Where("snapshot_date >= ? AND snapshot_date <= ?", fromDate, toDate).
		Group("snapshot_date").
		Order("snapshot_date").
		Find(&results).Error
	return results, err
}

func (r *Gorm) CountCurrentMemberships(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.UserMembership{}).
		Where("status = ? OR (status IN ? AND next_payment_date > ?)",
			types.MembershipStatusActive,
			[]types.MembershipStatus{types.MembershipStatusEnding, types.MembershipStatusCancelled},
			now).
		Count(&n).Error
	return n, err
}
