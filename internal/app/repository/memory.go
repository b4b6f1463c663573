package repository

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/tool"
	"github.com/fatflowers/memberships/pkg/types"
)

// Memory is a process-local Repository. Values are copied in and out so callers never
// share state with the store. Transactions run against a copy of the whole state which
// replaces the live state only when fn succeeds.
type Memory struct {
	txMu *sync.Mutex
	mu   *sync.RWMutex
	st   *memState
	inTx bool
}

type snapshotKey struct {
	membershipID string
	date         string
}

type memState struct {
	plans         map[string]models.MembershipPlan
	users         map[string]models.User
	registrations map[string]models.WorkshopRegistration
	cards         map[string]models.AccessCard
	memberships   map[string]models.UserMembership
	forms         map[string]models.UserMembershipForm
	profiles      map[string]models.PaymentProfile
	settings      map[string]models.AdminSetting
	charges       []models.Charge
	logs          []models.MembershipLog
	snapshots     map[snapshotKey]models.MembershipDailySnapshot
}

func newMemState() *memState {
	return &memState{
		plans:         map[string]models.MembershipPlan{},
		users:         map[string]models.User{},
		registrations: map[string]models.WorkshopRegistration{},
		cards:         map[string]models.AccessCard{},
		memberships:   map[string]models.UserMembership{},
		forms:         map[string]models.UserMembershipForm{},
		profiles:      map[string]models.PaymentProfile{},
		settings:      map[string]models.AdminSetting{},
		snapshots:     map[snapshotKey]models.MembershipDailySnapshot{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		plans:         cloneMap(s.plans, clonePlan),
		users:         cloneMap(s.users, cloneUser),
		registrations: cloneMap(s.registrations, same[models.WorkshopRegistration]),
		cards:         cloneMap(s.cards, cloneCard),
		memberships:   cloneMap(s.memberships, cloneMembership),
		forms:         cloneMap(s.forms, cloneForm),
		profiles:      cloneMap(s.profiles, same[models.PaymentProfile]),
		settings:      cloneMap(s.settings, same[models.AdminSetting]),
		charges:       slices.Clone(s.charges),
		logs:          slices.Clone(s.logs),
		snapshots:     cloneMap(s.snapshots, same[models.MembershipDailySnapshot]),
	}
	return c
}

func cloneMap[K comparable, V any](in map[K]V, cp func(V) V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = cp(v)
	}
	return out
}

func same[V any](v V) V { return v }

func clonePlan(p models.MembershipPlan) models.MembershipPlan {
	p.Features = slices.Clone(p.Features)
	return p
}

func cloneUser(u models.User) models.User {
	u.BrivoPersonID = clonePtr(u.BrivoPersonID)
	u.BrivoSyncError = clonePtr(u.BrivoSyncError)
	u.BrivoLastSyncedAt = clonePtr(u.BrivoLastSyncedAt)
	return u
}

func cloneCard(c models.AccessCard) models.AccessCard {
	c.Permissions = slices.Clone(c.Permissions)
	c.MobileCredentialID = clonePtr(c.MobileCredentialID)
	return c
}

func cloneMembership(m models.UserMembership) models.UserMembership {
	m.PaymentIntentID = clonePtr(m.PaymentIntentID)
	return m
}

func cloneForm(f models.UserMembershipForm) models.UserMembershipForm {
	f.MembershipID = clonePtr(f.MembershipID)
	return f
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func NewMemory() *Memory {
	return &Memory{txMu: &sync.Mutex{}, mu: &sync.RWMutex{}, st: newMemState()}
}

func (r *Memory) RunInTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	working := r.st.clone()
	r.mu.RUnlock()

	tx := &Memory{txMu: r.txMu, mu: &sync.RWMutex{}, st: working, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	r.mu.Lock()
	r.st = working
	r.mu.Unlock()
	return nil
}

func (r *Memory) read(fn func(s *memState)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.st)
}

// write serializes with running transactions so their commit never drops this write.
func (r *Memory) write(fn func(s *memState) error) error {
	if !r.inTx {
		r.txMu.Lock()
		defer r.txMu.Unlock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.st)
}

func stamp(createdAt, updatedAt *time.Time) {
	now := time.Now()
	if createdAt != nil && createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt != nil {
		*updatedAt = now
	}
}

func (r *Memory) GetPlan(_ context.Context, id string) (*models.MembershipPlan, error) {
	var out *models.MembershipPlan
	r.read(func(s *memState) {
		if p, ok := s.plans[id]; ok {
			p = clonePlan(p)
			out = &p
		}
	})
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (r *Memory) SavePlan(_ context.Context, plan *models.MembershipPlan) error {
	if plan.ID == "" {
		plan.ID = tool.GenerateUUIDV7()
	}
	stamp(&plan.CreatedAt, &plan.UpdatedAt)
	return r.write(func(s *memState) error {
		s.plans[plan.ID] = clonePlan(*plan)
		return nil
	})
}

func (r *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	var out *models.User
	r.read(func(s *memState) {
		if u, ok := s.users[id]; ok {
			u = cloneUser(u)
			out = &u
		}
	})
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (r *Memory) SaveUser(_ context.Context, user *models.User) error {
	stamp(&user.CreatedAt, &user.UpdatedAt)
	return r.write(func(s *memState) error {
		s.users[user.ID] = cloneUser(*user)
		return nil
	})
}

func (r *Memory) UpdateRoleLevel(_ context.Context, userID string, level int) error {
	return r.write(func(s *memState) error {
		u, ok := s.users[userID]
		if !ok {
			return ErrNotFound
		}
		u.RoleLevel = level
		u.UpdatedAt = time.Now()
		s.users[userID] = u
		return nil
	})
}

func (r *Memory) UpdateUserSync(_ context.Context, userID string, update UserSyncUpdate) error {
	return r.write(func(s *memState) error {
		u, ok := s.users[userID]
		if !ok {
			return ErrNotFound
		}
		if update.PersonID != nil {
			u.BrivoPersonID = clonePtr(update.PersonID)
		}
		u.BrivoSyncError = clonePtr(update.SyncError)
		syncedAt := update.SyncedAt
		u.BrivoLastSyncedAt = &syncedAt
		s.users[userID] = u
		return nil
	})
}

func (r *Memory) CountPassedOrientations(_ context.Context, userID string) (int64, error) {
	var n int64
	r.read(func(s *memState) {
		for _, reg := range s.registrations {
			if reg.UserID == userID && reg.WorkshopType == types.WorkshopTypeOrientation && reg.Passed {
				n++
			}
		}
	})
	return n, nil
}

func (r *Memory) SaveWorkshopRegistration(_ context.Context, reg *models.WorkshopRegistration) error {
	if reg.ID == "" {
		reg.ID = tool.GenerateUUIDV7()
	}
	stamp(&reg.CreatedAt, nil)
	return r.write(func(s *memState) error {
		s.registrations[reg.ID] = *reg
		return nil
	})
}

func (r *Memory) ListAccessCards(_ context.Context, userID string) ([]*models.AccessCard, error) {
	var out []*models.AccessCard
	r.read(func(s *memState) {
		for _, c := range s.cards {
			if c.UserID == userID {
				c = cloneCard(c)
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Memory) SaveAccessCard(_ context.Context, card *models.AccessCard) error {
	if card.ID == "" {
		card.ID = tool.GenerateUUIDV7()
	}
	stamp(&card.CreatedAt, &card.UpdatedAt)
	return r.write(func(s *memState) error {
		s.cards[card.ID] = cloneCard(*card)
		return nil
	})
}

func (r *Memory) GetMembership(_ context.Context, id string) (*models.UserMembership, error) {
	var out *models.UserMembership
	r.read(func(s *memState) {
		if m, ok := s.memberships[id]; ok {
			m = cloneMembership(m)
			out = &m
		}
	})
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (r *Memory) filterMemberships(keep func(m *models.UserMembership) bool) []*models.UserMembership {
	var out []*models.UserMembership
	r.read(func(s *memState) {
		for _, m := range s.memberships {
			m = cloneMembership(m)
			if keep(&m) {
				out = append(out, &m)
			}
		}
	})
	return out
}

// newestFirst orders by date, then creation time, then id, all descending.
func newestFirst(items []*models.UserMembership) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func byNextPaymentDate(items []*models.UserMembership) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.NextPaymentDate.Equal(b.NextPaymentDate) {
			return a.NextPaymentDate.Before(b.NextPaymentDate)
		}
		return a.ID < b.ID
	})
}

func (r *Memory) FindMembership(_ context.Context, userID, planID string, statuses ...types.MembershipStatus) (*models.UserMembership, error) {
	items := r.filterMemberships(func(m *models.UserMembership) bool {
		return m.UserID == userID && m.PlanID == planID && (len(statuses) == 0 || lo.Contains(statuses, m.Status))
	})
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	newestFirst(items)
	return items[0], nil
}

func (r *Memory) ListMembershipsByUser(_ context.Context, userID string) ([]*models.UserMembership, error) {
	items := r.filterMemberships(func(m *models.UserMembership) bool { return m.UserID == userID })
	newestFirst(items)
	return items, nil
}

func (r *Memory) ListMembershipsByStatus(_ context.Context, statuses ...types.MembershipStatus) ([]*models.UserMembership, error) {
	items := r.filterMemberships(func(m *models.UserMembership) bool { return lo.Contains(statuses, m.Status) })
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *Memory) SaveMembership(_ context.Context, m *models.UserMembership) error {
	if m.ID == "" {
		m.ID = tool.GenerateUUIDV7()
	}
	stamp(&m.CreatedAt, &m.UpdatedAt)
	return r.write(func(s *memState) error {
		s.memberships[m.ID] = cloneMembership(*m)
		return nil
	})
}

func (r *Memory) DeleteMembership(_ context.Context, id string) error {
	return r.write(func(s *memState) error {
		delete(s.memberships, id)
		return nil
	})
}

func (r *Memory) ListDueMemberships(_ context.Context, now time.Time) ([]*models.UserMembership, error) {
	due := []types.MembershipStatus{types.MembershipStatusActive, types.MembershipStatusEnding, types.MembershipStatusCancelled}
	items := r.filterMemberships(func(m *models.UserMembership) bool {
		return lo.Contains(due, m.Status) && !m.NextPaymentDate.After(now)
	})
	byNextPaymentDate(items)
	return items, nil
}

func (r *Memory) ListMembershipsDueWithin(_ context.Context, from, to time.Time) ([]*models.UserMembership, error) {
	items := r.filterMemberships(func(m *models.UserMembership) bool {
		return m.Status == types.MembershipStatusActive && m.NextPaymentDate.After(from) && !m.NextPaymentDate.After(to)
	})
	byNextPaymentDate(items)
	return items, nil
}

func membershipRecord(m *models.UserMembership) map[string]any {
	return map[string]any{
		"id":                m.ID,
		"user_id":           m.UserID,
		"plan_id":           m.PlanID,
		"status":            string(m.Status),
		"billing_cycle":     string(m.BillingCycle),
		"date":              m.Date,
		"next_payment_date": m.NextPaymentDate,
		"created_at":        m.CreatedAt,
		"updated_at":        m.UpdatedAt,
	}
}

func (r *Memory) ScanMemberships(_ context.Context, req *ScanMembershipsRequest) (*ScanMembershipsResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	items := r.filterMemberships(func(m *models.UserMembership) bool {
		rec := membershipRecord(m)
		for _, f := range req.Filters {
			if !f.Match(rec) {
				return false
			}
		}
		return true
	})
	sort.SliceStable(items, func(i, j int) bool {
		a, b := membershipRecord(items[i])[req.SortBy], membershipRecord(items[j])[req.SortBy]
		c := compareField(a, b)
		if c == 0 {
			c = strings.Compare(items[i].ID, items[j].ID)
		}
		if req.SortOrder == "asc" {
			return c < 0
		}
		return c > 0
	})
	total := int64(len(items))
	if req.From >= len(items) {
		return &ScanMembershipsResult{Items: nil, Total: total}, nil
	}
	end := min(req.From+req.Size, len(items))
	return &ScanMembershipsResult{Items: items[req.From:end], Total: total}, nil
}

func compareField(a, b any) int {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return strings.Compare(as, bs)
}

func (r *Memory) FindForms(_ context.Context, userID, planID string, statuses ...types.FormStatus) ([]*models.UserMembershipForm, error) {
	var out []*models.UserMembershipForm
	r.read(func(s *memState) {
		for _, f := range s.forms {
			if f.UserID == userID && f.PlanID == planID && (len(statuses) == 0 || lo.Contains(statuses, f.Status)) {
				f = cloneForm(f)
				out = append(out, &f)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Memory) SaveForm(_ context.Context, form *models.UserMembershipForm) error {
	if form.ID == "" {
		form.ID = tool.GenerateUUIDV7()
	}
	stamp(&form.CreatedAt, &form.UpdatedAt)
	return r.write(func(s *memState) error {
		s.forms[form.ID] = cloneForm(*form)
		return nil
	})
}

func (r *Memory) GetPaymentProfile(_ context.Context, userID string) (*models.PaymentProfile, error) {
	var out *models.PaymentProfile
	r.read(func(s *memState) {
		if p, ok := s.profiles[userID]; ok {
			out = &p
		}
	})
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (r *Memory) SavePaymentProfile(_ context.Context, profile *models.PaymentProfile) error {
	stamp(&profile.CreatedAt, &profile.UpdatedAt)
	return r.write(func(s *memState) error {
		s.profiles[profile.UserID] = *profile
		return nil
	})
}

func (r *Memory) SaveCharge(_ context.Context, charge *models.Charge) error {
	if charge.ID == "" {
		charge.ID = tool.GenerateUUIDV7()
	}
	stamp(&charge.CreatedAt, nil)
	return r.write(func(s *memState) error {
		s.charges = append(s.charges, *charge)
		return nil
	})
}

func (r *Memory) ListChargesByUser(_ context.Context, userID string) ([]*models.Charge, error) {
	var out []*models.Charge
	r.read(func(s *memState) {
		for i := len(s.charges) - 1; i >= 0; i-- {
			if s.charges[i].UserID == userID {
				c := s.charges[i]
				out = append(out, &c)
			}
		}
	})
	return out, nil
}

func (r *Memory) GetSetting(_ context.Context, key string) (*models.AdminSetting, error) {
	var out *models.AdminSetting
	r.read(func(s *memState) {
		if v, ok := s.settings[key]; ok {
			out = &v
		}
	})
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (r *Memory) SaveSetting(_ context.Context, setting *models.AdminSetting) error {
	setting.UpdatedAt = time.Now()
	return r.write(func(s *memState) error {
		s.settings[setting.Key] = *setting
		return nil
	})
}

func (r *Memory) SaveMembershipLog(_ context.Context, log *models.MembershipLog) error {
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}
	stamp(&log.CreatedAt, nil)
	return r.write(func(s *memState) error {
		s.logs = append(s.logs, *log)
		return nil
	})
}

// MembershipLogs returns every stored log entry, oldest first.
func (r *Memory) MembershipLogs() []models.MembershipLog {
	var out []models.MembershipLog
	r.read(func(s *memState) { out = slices.Clone(s.logs) })
	return out
}

func (r *Memory) SaveSnapshot(_ context.Context, snap *models.MembershipDailySnapshot) error {
	if snap.ID == "" {
		snap.ID = tool.GenerateUUIDV7()
	}
	key := snapshotKey{membershipID: snap.MembershipID, date: snap.SnapshotDate}
	return r.write(func(s *memState) error {
		if _, ok := s.snapshots[key]; ok {
			return nil
		}
		s.snapshots[key] = *snap
		return nil
	})
}

func (r *Memory) DailyChargeStats(_ context.Context, from, to time.Time) ([]DailyChargeStat, error) {
	type key struct{ date, currency string }
	agg := map[key]*DailyChargeStat{}
	r.read(func(s *memState) {
		for _, c := range s.charges {
			if c.Status != types.ChargeStatusSucceeded || c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
			k := key{date: c.CreatedAt.UTC().Format(time.DateOnly), currency: c.Currency}
			st, ok := agg[k]
			if !ok {
				st = &DailyChargeStat{Date: k.date, Currency: k.currency}
				agg[k] = st
			}
			st.Count++
			st.AmountCents += c.AmountCents
		}
	})
	out := lo.MapToSlice(agg, func(_ key, v *DailyChargeStat) DailyChargeStat { return *v })
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date == out[j].Date {
			return out[i].Currency < out[j].Currency
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}

func (r *Memory) DailyActiveSnapshotCounts(_ context.Context, fromDate, toDate string) ([]DailyCount, error) {
	counts := map[string]int64{}
	r.read(func(s *memState) {
		for k, snap := range s.snapshots {
			if snap.Status == types.MembershipStatusActive && k.date >= fromDate && k.date <= toDate {
				counts[k.date]++
			}
		}
	})
	out := lo.MapToSlice(counts, func(date string, n int64) DailyCount { return DailyCount{Date: date, Value: n} })
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (r *Memory) CountCurrentMemberships(_ context.Context, now time.Time) (int64, error) {
	items := r.filterMemberships(func(m *models.UserMembership) bool { return m.Current(now) })
	return int64(len(items)), nil
}
