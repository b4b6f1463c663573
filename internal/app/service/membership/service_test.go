package membership

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/access"
	"github.com/fatflowers/memberships/internal/app/service/notification"
	"github.com/fatflowers/memberships/internal/app/service/payment"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/types"
)

var (
	jan1  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan20 = time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	feb1  = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

type fakeGateway struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	reqs  []payment.PaymentRequest
}

func (g *fakeGateway) ChargeAttempt(_ context.Context, req payment.PaymentRequest) (*payment.PaymentResult, error) {
	time.Sleep(g.delay)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.PaymentResult{PaymentID: fmt.Sprintf("pi_%d", len(g.reqs)), Status: "succeeded"}, nil
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []*models.MembershipLog
}

func (l *recordingLogger) Save(_ context.Context, e *models.MembershipLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (n *recordingNotifier) Notify(_ context.Context, m notification.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, m)
}

// interleavedRepo runs hook once, right before the first transaction starts, standing in
// for a request that commits between validation and write.
type interleavedRepo struct {
	*repository.Memory
	once sync.Once
	hook func()
}

func (r *interleavedRepo) RunInTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	r.once.Do(r.hook)
	return r.Memory.RunInTx(ctx, fn)
}

func (h *harness) interleave(hook func()) {
	h.svc.repo = &interleavedRepo{Memory: h.repo, hook: hook}
}

type harness struct {
	t     *testing.T
	svc   *Service
	repo  *repository.Memory
	gw    *fakeGateway
	logs  *recordingLogger
	notes *recordingNotifier
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := repository.NewMemory()
	cfg := &config.Config{
		Billing: config.BillingConfig{Currency: "cad", ChargeTimeout: time.Second},
		Access:  config.AccessConfig{DoorPermissionID: "door", DoorRoleLevel: types.RoleLevelMember},
	}
	log := zap.NewNop().Sugar()
	h := &harness{t: t, repo: repo, gw: &fakeGateway{}, logs: &recordingLogger{}, notes: &recordingNotifier{}, clock: jan20}
	h.svc = New(Params{
		Repo:     repo,
		Charger:  payment.New(repo, h.gw, cfg, log),
		Access:   access.New(repo, nil, cfg, log),
		Logs:     h.logs,
		Notifier: h.notes,
		Cfg:      cfg,
		Log:      log,
		Clock:    func() time.Time { return h.clock },
	})

	ctx := context.Background()
	for _, p := range []*models.MembershipPlan{
		{ID: "lite", Title: "Lite", MonthlyPrice: decimal.NewFromInt(60)},
		{ID: "basic", Title: "Basic", MonthlyPrice: decimal.NewFromInt(100)},
		{ID: "pro", Title: "Pro", MonthlyPrice: decimal.NewFromInt(160)},
		{ID: "keyholder", Title: "Keyholder", MonthlyPrice: decimal.NewFromInt(200), NeedsAdminPermission: true},
	} {
		require.NoError(t, repo.SavePlan(ctx, p))
	}
	h.seedUser("u1", types.RoleLevelOriented, false)
	require.NoError(t, repo.SavePaymentProfile(ctx, &models.PaymentProfile{UserID: "u1", StripeCustomerID: "cus_1", PaymentMethodID: "pm_1"}))
	require.NoError(t, repo.SaveAccessCard(ctx, &models.AccessCard{ID: "c1", UserID: "u1", Kind: types.AccessCardKindPhysical}))
	return h
}

func (h *harness) seedUser(id string, role int, allowLevel4 bool) {
	h.t.Helper()
	require.NoError(h.t, h.repo.SaveUser(context.Background(), &models.User{
		ID:               id,
		Email:            id + "@example.com",
		RoleLevel:        role,
		AllowLevel4:      allowLevel4,
		MembershipStatus: types.UserMembershipStatusActive,
	}))
}

func (h *harness) seedMembership(id, userID, planID string, status types.MembershipStatus, cycle types.BillingCycle, date, next time.Time) *models.UserMembership {
	h.t.Helper()
	m := &models.UserMembership{ID: id, UserID: userID, PlanID: planID, Status: status, BillingCycle: cycle, Date: date, NextPaymentDate: next}
	require.NoError(h.t, h.repo.SaveMembership(context.Background(), m))
	form := &models.UserMembershipForm{UserID: userID, PlanID: planID, MembershipID: &m.ID, Status: types.FormStatusOf(status)}
	require.NoError(h.t, h.repo.SaveForm(context.Background(), form))
	return m
}

func (h *harness) user(id string) *models.User {
	h.t.Helper()
	u, err := h.repo.GetUser(context.Background(), id)
	require.NoError(h.t, err)
	return u
}

func (h *harness) membership(id string) *models.UserMembership {
	h.t.Helper()
	m, err := h.repo.GetMembership(context.Background(), id)
	require.NoError(h.t, err)
	return m
}

func (h *harness) formOf(userID, planID, membershipID string) *models.UserMembershipForm {
	h.t.Helper()
	forms, err := h.repo.FindForms(context.Background(), userID, planID)
	require.NoError(h.t, err)
	for _, f := range forms {
		if f.MembershipID != nil && *f.MembershipID == membershipID {
			return f
		}
	}
	h.t.Fatalf("no form linked to membership %s", membershipID)
	return nil
}

func (h *harness) hasDoor(userID string) bool {
	h.t.Helper()
	cards, err := h.repo.ListAccessCards(context.Background(), userID)
	require.NoError(h.t, err)
	for _, c := range cards {
		if c.HasPermission("door") {
			return true
		}
	}
	return false
}

func TestSubscribe_CreatesActiveMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.SaveForm(ctx, &models.UserMembershipForm{ID: "f-stale", UserID: "u1", PlanID: "basic", Status: types.FormStatusActive}))
	require.NoError(t, h.repo.SaveForm(ctx, &models.UserMembershipForm{ID: "f-pending", UserID: "u1", PlanID: "basic", Status: types.FormStatusPending}))

	m, err := h.svc.Subscribe(ctx, &SubscribeRequest{UserID: "u1", PlanID: "basic"})
	require.NoError(t, err)
	require.Equal(t, types.MembershipStatusActive, m.Status)
	require.Equal(t, jan20, m.Date)
	require.Equal(t, time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC), m.NextPaymentDate)
	require.Equal(t, "pi_1", *m.PaymentIntentID)

	require.Len(t, h.gw.reqs, 1)
	require.Equal(t, int64(10000), h.gw.reqs[0].AmountCents)
	require.Equal(t, "subscribe:u1:basic:2025-01-20", h.gw.reqs[0].ReferenceID)

	require.Equal(t, types.RoleLevelMember, h.user("u1").RoleLevel)
	require.True(t, h.hasDoor("u1"))

	forms, err := h.repo.FindForms(ctx, "u1", "basic")
	require.NoError(t, err)
	byID := map[string]*models.UserMembershipForm{}
	for _, f := range forms {
		byID[f.ID] = f
	}
	require.Equal(t, types.FormStatusActive, byID["f-pending"].Status)
	require.Equal(t, m.ID, *byID["f-pending"].MembershipID)
	require.Equal(t, types.FormStatusInactive, byID["f-stale"].Status)

	require.Len(t, h.logs.entries, 1)
	require.Equal(t, types.MembershipChangeReasonSubscribe, h.logs.entries[0].Reason)
	require.Equal(t, m.ID, h.logs.entries[0].MembershipID)
}

func TestSubscribe_ConcurrentSubmissionsKeepOneMembership(t *testing.T) {
	h := newHarness(t)
	h.gw.delay = 100 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*models.UserMembership, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Subscribe(ctx, &SubscribeRequest{UserID: "u1", PlanID: "basic"})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, results[0].ID, results[1].ID)

	items, err := h.repo.ListMembershipsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, types.MembershipStatusActive, items[0].Status)

	require.NotEmpty(t, h.gw.reqs)
	for _, req := range h.gw.reqs {
		require.Equal(t, "subscribe:u1:basic:2025-01-20", req.ReferenceID)
	}
	require.Len(t, h.logs.entries, 1)
}

func TestSubscribe_WithPaymentIntentSkipsCharge(t *testing.T) {
	h := newHarness(t)
	intent := "pi_upfront"

	m, err := h.svc.Subscribe(context.Background(), &SubscribeRequest{UserID: "u1", PlanID: "basic", BillingCycle: types.BillingCycleQuarterly, PaymentIntentID: &intent})
	require.NoError(t, err)
	require.Empty(t, h.gw.reqs)
	require.Equal(t, "pi_upfront", *m.PaymentIntentID)
	require.Equal(t, jan20.AddDate(0, 3, 0), m.NextPaymentDate)
}

func TestSubscribe_Validation(t *testing.T) {
	h := newHarness(t)
	h.seedUser("revoked", types.RoleLevelMember, false)
	u := h.user("revoked")
	u.MembershipStatus = types.UserMembershipStatusRevoked
	require.NoError(t, h.repo.SaveUser(context.Background(), u))
	h.seedUser("u2", types.RoleLevelMember, false)
	h.seedMembership("m-u2", "u2", "basic", types.MembershipStatusEnding, types.BillingCycleMonthly, jan1, feb1)

	tests := []struct {
		name string
		req  SubscribeRequest
		want error
	}{
		{name: "unknown plan", req: SubscribeRequest{UserID: "u1", PlanID: "nope"}, want: ErrPlanNotFound},
		{name: "unknown user", req: SubscribeRequest{UserID: "ghost", PlanID: "basic"}, want: ErrUserNotFound},
		{name: "revoked user", req: SubscribeRequest{UserID: "revoked", PlanID: "basic"}, want: ErrUserRevoked},
		{name: "already subscribed", req: SubscribeRequest{UserID: "u2", PlanID: "basic"}, want: ErrAlreadySubscribed},
		{name: "unknown cycle", req: SubscribeRequest{UserID: "u1", PlanID: "basic", BillingCycle: "weekly"}, want: ErrUnsupportedBillingCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Subscribe(context.Background(), &tt.req)
			require.ErrorIs(t, err, tt.want)
			require.True(t, IsValidation(err))
		})
	}
	require.Empty(t, h.gw.reqs)
	items, err := h.repo.ListMembershipsByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestSubscribe_AdminPermissionGating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := &SubscribeRequest{UserID: "u1", PlanID: "keyholder"}

	// role 3, no allowLevel4, no membership
	u := h.user("u1")
	u.RoleLevel = types.RoleLevelMember
	require.NoError(t, h.repo.SaveUser(ctx, u))
	_, err := h.svc.Subscribe(ctx, req)
	require.ErrorIs(t, err, ErrAdminPermissionRequired)

	// allowed but without an active membership
	u.AllowLevel4 = true
	require.NoError(t, h.repo.SaveUser(ctx, u))
	_, err = h.svc.Subscribe(ctx, req)
	require.ErrorIs(t, err, ErrAdminPermissionRequired)

	// allowed, but role too low
	h.seedMembership("m-basic", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)
	u.RoleLevel = types.RoleLevelOriented
	require.NoError(t, h.repo.SaveUser(ctx, u))
	_, err = h.svc.Subscribe(ctx, req)
	require.ErrorIs(t, err, ErrAdminPermissionRequired)
	require.Empty(t, h.gw.reqs)

	u.RoleLevel = types.RoleLevelMember
	require.NoError(t, h.repo.SaveUser(ctx, u))
	m, err := h.svc.Subscribe(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "keyholder", m.PlanID)
	require.Equal(t, types.RoleLevelAdminPlans, h.user("u1").RoleLevel)
}

func TestSubscribe_ChargeFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.gw.err = payment.ErrPaymentFailed

	_, err := h.svc.Subscribe(context.Background(), &SubscribeRequest{UserID: "u1", PlanID: "basic"})
	require.ErrorIs(t, err, payment.ErrPaymentFailed)
	require.False(t, IsValidation(err))

	items, err := h.repo.ListMembershipsByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, items)
	require.Equal(t, types.RoleLevelOriented, h.user("u1").RoleLevel)
	require.Empty(t, h.logs.entries)
}

func TestChangePlan_UpgradeKeepsCycleBoundary(t *testing.T) {
	h := newHarness(t)
	old := h.seedMembership("m-basic", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)

	m, err := h.svc.ChangePlan(context.Background(), &ChangePlanRequest{UserID: "u1", CurrentMembershipID: old.ID, TargetPlanID: "pro"})
	require.NoError(t, err)
	require.Equal(t, old.NextPaymentDate, m.NextPaymentDate)
	require.Equal(t, jan20, m.Date)
	require.Equal(t, types.MembershipStatusActive, m.Status)

	// 60 * 12/31
	require.Len(t, h.gw.reqs, 1)
	require.Equal(t, int64(2323), h.gw.reqs[0].AmountCents)
	require.Equal(t, "upgrade:m-basic:pro", h.gw.reqs[0].ReferenceID)

	require.Equal(t, types.MembershipStatusEnding, h.membership(old.ID).Status)
	require.Equal(t, types.FormStatusEnding, h.formOf("u1", "basic", old.ID).Status)
	require.Equal(t, types.FormStatusActive, h.formOf("u1", "pro", m.ID).Status)
	require.Equal(t, types.RoleLevelMember, h.user("u1").RoleLevel)

	require.Len(t, h.logs.entries, 2)
	require.Equal(t, types.MembershipChangeReasonUpgrade, h.logs.entries[0].Reason)

	// the same request again returns the membership already created
	again, err := h.svc.ChangePlan(context.Background(), &ChangePlanRequest{UserID: "u1", CurrentMembershipID: old.ID, TargetPlanID: "pro"})
	require.NoError(t, err)
	require.Equal(t, m.ID, again.ID)
	require.Len(t, h.gw.reqs, 1)
}

func TestChangePlan_LosingConcurrentUpgradeReturnsWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.seedMembership("m-basic", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)
	h.interleave(func() {
		ending := old.Clone()
		ending.Status = types.MembershipStatusEnding
		require.NoError(t, h.repo.SaveMembership(ctx, ending))
		h.seedMembership("m-pro", "u1", "pro", types.MembershipStatusActive, types.BillingCycleMonthly, jan20, feb1)
	})

	m, err := h.svc.ChangePlan(ctx, &ChangePlanRequest{UserID: "u1", CurrentMembershipID: old.ID, TargetPlanID: "pro"})
	require.NoError(t, err)
	require.Equal(t, "m-pro", m.ID)

	items, err := h.repo.ListMembershipsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Empty(t, h.logs.entries)
}

func TestChangePlan_DowngradeDefersStart(t *testing.T) {
	h := newHarness(t)
	u := h.user("u1")
	u.RoleLevel = types.RoleLevelAdminPlans
	require.NoError(t, h.repo.SaveUser(context.Background(), u))
	old := h.seedMembership("m-pro", "u1", "pro", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)

	m, err := h.svc.ChangePlan(context.Background(), &ChangePlanRequest{UserID: "u1", CurrentMembershipID: old.ID, TargetPlanID: "basic", IsDowngrade: true})
	require.NoError(t, err)
	require.Equal(t, old.NextPaymentDate, m.Date)
	require.Equal(t, old.NextPaymentDate.AddDate(0, 1, 0), m.NextPaymentDate)
	require.Empty(t, h.gw.reqs)

	require.Equal(t, types.MembershipStatusEnding, h.membership(old.ID).Status)
	require.Equal(t, types.FormStatusEnding, h.formOf("u1", "pro", old.ID).Status)
	// not lowered until the paid period ends
	require.Equal(t, types.RoleLevelAdminPlans, h.user("u1").RoleLevel)
}

func TestChangePlan_Validation(t *testing.T) {
	h := newHarness(t)
	h.seedUser("u2", types.RoleLevelMember, false)
	h.seedMembership("m-basic", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)
	h.seedMembership("m-other", "u2", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)
	h.seedMembership("m-quarter", "u1", "basic", types.MembershipStatusActive, types.BillingCycleQuarterly, jan1, jan1.AddDate(0, 3, 0))
	h.seedMembership("m-cancel", "u1", "pro", types.MembershipStatusCancelled, types.BillingCycleMonthly, jan1, feb1)

	tests := []struct {
		name string
		req  ChangePlanRequest
		want error
	}{
		{name: "unknown membership", req: ChangePlanRequest{CurrentMembershipID: "nope", TargetPlanID: "pro"}, want: ErrMembershipNotFound},
		{name: "not owner", req: ChangePlanRequest{CurrentMembershipID: "m-other", TargetPlanID: "pro"}, want: ErrNotOwner},
		{name: "unknown plan", req: ChangePlanRequest{CurrentMembershipID: "m-basic", TargetPlanID: "nope"}, want: ErrPlanNotFound},
		{name: "same plan", req: ChangePlanRequest{CurrentMembershipID: "m-basic", TargetPlanID: "basic"}, want: ErrInvalidPlanChange},
		{name: "downgrade to pricier plan", req: ChangePlanRequest{CurrentMembershipID: "m-basic", TargetPlanID: "pro", IsDowngrade: true}, want: ErrInvalidPlanChange},
		{name: "upgrade to cheaper plan", req: ChangePlanRequest{CurrentMembershipID: "m-basic", TargetPlanID: "lite"}, want: ErrInvalidPlanChange},
		{name: "non monthly membership", req: ChangePlanRequest{CurrentMembershipID: "m-quarter", TargetPlanID: "pro"}, want: ErrUnsupportedBillingCycle},
		{name: "non monthly target cycle", req: ChangePlanRequest{CurrentMembershipID: "m-basic", TargetPlanID: "pro", BillingCycle: types.BillingCycleYearly}, want: ErrUnsupportedBillingCycle},
		{name: "change cancelled membership", req: ChangePlanRequest{CurrentMembershipID: "m-cancel", TargetPlanID: "keyholder"}, want: ErrInvalidPlanChange},
		{name: "resubscribe other plan", req: ChangePlanRequest{CurrentMembershipID: "m-cancel", TargetPlanID: "basic", IsResubscribe: true}, want: ErrInvalidPlanChange},
		{name: "admin plan without permission", req: ChangePlanRequest{CurrentMembershipID: "m-basic", TargetPlanID: "keyholder"}, want: ErrAdminPermissionRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.UserID = "u1"
			_, err := h.svc.ChangePlan(context.Background(), &tt.req)
			require.ErrorIs(t, err, tt.want)
			require.True(t, IsValidation(err))
		})
	}
	require.Empty(t, h.gw.reqs)
	require.Empty(t, h.logs.entries)
}

func TestChangePlan_Resubscribe(t *testing.T) {
	h := newHarness(t)
	old := h.seedMembership("m-c", "u1", "basic", types.MembershipStatusCancelled, types.BillingCycleMonthly, jan1, feb1)

	m, err := h.svc.ChangePlan(context.Background(), &ChangePlanRequest{UserID: "u1", CurrentMembershipID: old.ID, TargetPlanID: "basic", IsResubscribe: true})
	require.NoError(t, err)
	require.Equal(t, old.ID, m.ID)
	require.Equal(t, types.MembershipStatusActive, m.Status)
	require.Equal(t, jan20.AddDate(0, 1, 0), m.NextPaymentDate)
	require.Equal(t, "pi_1", *m.PaymentIntentID)

	require.Len(t, h.gw.reqs, 1)
	require.Equal(t, "resubscribe:m-c:2025-01-20", h.gw.reqs[0].ReferenceID)
	require.Equal(t, types.FormStatusActive, h.formOf("u1", "basic", old.ID).Status)
	require.Equal(t, types.RoleLevelMember, h.user("u1").RoleLevel)

	// already active: nothing to do
	again, err := h.svc.ChangePlan(context.Background(), &ChangePlanRequest{UserID: "u1", CurrentMembershipID: old.ID, TargetPlanID: "basic", IsResubscribe: true})
	require.NoError(t, err)
	require.Equal(t, m.NextPaymentDate, again.NextPaymentDate)
	require.Len(t, h.gw.reqs, 1)
}

func TestCancel_BeforePeriodEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user("u1")
	u.RoleLevel = types.RoleLevelMember
	require.NoError(t, h.repo.SaveUser(ctx, u))
	old := h.seedMembership("m1", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)

	m, err := h.svc.Cancel(ctx, "u1", "basic")
	require.NoError(t, err)
	require.Equal(t, old.ID, m.ID)
	require.Equal(t, types.MembershipStatusCancelled, m.Status)
	require.Equal(t, old.NextPaymentDate, h.membership(old.ID).NextPaymentDate)
	require.Equal(t, types.FormStatusCancelled, h.formOf("u1", "basic", old.ID).Status)
	require.Equal(t, types.RoleLevelMember, h.user("u1").RoleLevel)
	require.True(t, h.hasDoor("u1"), "access is kept through the paid period")

	require.Len(t, h.notes.msgs, 1)
	require.Equal(t, notification.KindMembershipCancelled, h.notes.msgs[0].Kind)
	require.Equal(t, "u1", h.notes.msgs[0].UserID)

	// cancelling again is a no-op
	again, err := h.svc.Cancel(ctx, "u1", "basic")
	require.NoError(t, err)
	require.Equal(t, old.ID, again.ID)
	require.Len(t, h.logs.entries, 1)
	require.Len(t, h.notes.msgs, 1)
}

func TestCancel_AfterPeriodEnd(t *testing.T) {
	tests := []struct {
		name         string
		orientations int
		wantRole     int
	}{
		{name: "with orientation", orientations: 1, wantRole: types.RoleLevelOriented},
		{name: "without orientation", orientations: 0, wantRole: types.RoleLevelGuest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.clock = feb1.Add(72 * time.Hour)
			u := h.user("u1")
			u.RoleLevel = types.RoleLevelMember
			require.NoError(t, h.repo.SaveUser(ctx, u))
			for i := 0; i < tt.orientations; i++ {
				require.NoError(t, h.repo.SaveWorkshopRegistration(ctx, &models.WorkshopRegistration{UserID: "u1", WorkshopType: types.WorkshopTypeOrientation, Passed: true}))
			}
			require.NoError(t, h.repo.SaveWorkshopRegistration(ctx, &models.WorkshopRegistration{UserID: "u1", WorkshopType: types.WorkshopTypeOrientation, Passed: false}))
			old := h.seedMembership("m1", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)

			m, err := h.svc.Cancel(ctx, "u1", "basic")
			require.NoError(t, err)
			require.Nil(t, m)

			_, err = h.repo.GetMembership(ctx, old.ID)
			require.ErrorIs(t, err, repository.ErrNotFound)
			require.Equal(t, types.FormStatusInactive, h.formOf("u1", "basic", old.ID).Status)
			require.Equal(t, tt.wantRole, h.user("u1").RoleLevel)
			require.Equal(t, types.MembershipChangeReasonExpireCancel, h.logs.entries[0].Reason)
			require.Nil(t, h.logs.entries[0].After.Data())

			// cancelling again finds nothing to do
			m, err = h.svc.Cancel(ctx, "u1", "basic")
			require.NoError(t, err)
			require.Nil(t, m)
		})
	}
}

func TestCancel_LosingConcurrentCancelIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.seedMembership("m1", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)
	h.interleave(func() {
		m := old.Clone()
		m.Status = types.MembershipStatusCancelled
		require.NoError(t, h.repo.SaveMembership(ctx, m))
	})

	m, err := h.svc.Cancel(ctx, "u1", "basic")
	require.NoError(t, err)
	require.Equal(t, old.ID, m.ID)
	require.Equal(t, types.MembershipStatusCancelled, m.Status)
	require.Empty(t, h.logs.entries)
	require.Empty(t, h.notes.msgs)
}

func TestCancel_LosingConcurrentExpireCancelIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clock = feb1.Add(time.Hour)
	old := h.seedMembership("m1", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)
	h.interleave(func() {
		require.NoError(t, h.repo.DeleteMembership(ctx, old.ID))
	})

	m, err := h.svc.Cancel(ctx, "u1", "basic")
	require.NoError(t, err)
	require.Nil(t, m)
	require.Empty(t, h.logs.entries)
}

func TestCancel_ConcurrentRenewalStillConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.seedMembership("m1", "u1", "basic", types.MembershipStatusActive, types.BillingCycleMonthly, jan1, feb1)
	h.interleave(func() {
		m := old.Clone()
		m.NextPaymentDate = feb1.AddDate(0, 1, 0)
		require.NoError(t, h.repo.SaveMembership(ctx, m))
	})

	_, err := h.svc.Cancel(ctx, "u1", "basic")
	require.ErrorIs(t, err, ErrConcurrentChange)
	require.Equal(t, types.MembershipStatusActive, h.membership(old.ID).Status)
}

func TestCancel_UnknownPlan(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Cancel(context.Background(), "u1", "nope")
	require.ErrorIs(t, err, ErrPlanNotFound)
}

func TestAccessConvergesAfterTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.svc.Subscribe(ctx, &SubscribeRequest{UserID: "u1", PlanID: "basic"})
	require.NoError(t, err)
	require.True(t, h.hasDoor("u1"))

	up, err := h.svc.ChangePlan(ctx, &ChangePlanRequest{UserID: "u1", CurrentMembershipID: m.ID, TargetPlanID: "pro"})
	require.NoError(t, err)
	require.True(t, h.hasDoor("u1"))

	h.clock = up.NextPaymentDate.Add(time.Hour)
	_, err = h.svc.Cancel(ctx, "u1", "basic")
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, "u1", "pro")
	require.NoError(t, err)

	require.False(t, h.hasDoor("u1"))
	ok, err := h.svc.access.(*access.Service).ShouldHaveDoor(ctx, h.user("u1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListMembershipsForUser(t *testing.T) {
	h := newHarness(t)
	h.seedMembership("m1", "u1", "basic", types.MembershipStatusCancelled, types.BillingCycleMonthly, jan1, feb1)
	h.seedMembership("m2", "u1", "pro", types.MembershipStatusActive, types.BillingCycleMonthly, jan20, feb1)

	items, err := h.svc.ListMembershipsForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "m2", items[0].ID)
}
