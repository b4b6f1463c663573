// Package billing runs the recurring billing job: renew or expire due memberships, remind
// members of upcoming charges and take the daily membership snapshot.
package billing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/membership"
	"github.com/fatflowers/memberships/internal/app/service/notification"
	"github.com/fatflowers/memberships/internal/app/service/payment"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/logctx"
	"github.com/fatflowers/memberships/pkg/metrics"
	"github.com/fatflowers/memberships/pkg/tool"
	"github.com/fatflowers/memberships/pkg/types"
)

// rowTimeout bounds everything done for one due membership: charge, writes and access sync.
const rowTimeout = 2 * time.Minute

// Processor applies the transition owed to a due membership.
type Processor interface {
	ProcessDue(ctx context.Context, m *models.UserMembership) (membership.DueOutcome, error)
}

// Pricer quotes reminder amounts.
type Pricer interface {
	WithTax(ctx context.Context, net decimal.Decimal) decimal.Decimal
	HasPaymentMethod(ctx context.Context, userID string) (bool, error)
}

type RunResult struct {
	RunID      string                        `json:"run_id"`
	Skipped    bool                          `json:"skipped"`
	Due        int                           `json:"due"`
	Outcomes   map[membership.DueOutcome]int `json:"outcomes"`
	Reminders  int                           `json:"reminders"`
	Snapshots  int                           `json:"snapshots"`
	StartedAt  time.Time                     `json:"started_at"`
	FinishedAt time.Time                     `json:"finished_at"`
}

type Scheduler struct {
	repo      repository.Repository
	processor Processor
	pricer    Pricer
	notifier  notification.Notifier
	cfg       *config.Config
	log       *zap.SugaredLogger
	now       func() time.Time

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Params struct {
	fx.In

	Repo      repository.Repository
	Processor Processor
	Pricer    Pricer
	Notifier  notification.Notifier
	Cfg       *config.Config
	Log       *zap.SugaredLogger
	Clock     func() time.Time `optional:"true"`
}

func New(p Params) *Scheduler {
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &Scheduler{
		repo:      p.Repo,
		processor: p.Processor,
		pricer:    p.Pricer,
		notifier:  p.Notifier,
		cfg:       p.Cfg,
		log:       p.Log,
		now:       p.Clock,
	}
}

// Start runs a billing cycle now and then every billing.interval until Stop.
func (s *Scheduler) Start() {
	interval := s.cfg.Billing.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.log.Infow("billing scheduler started", "interval", interval.String())
		for {
			s.runScheduled(ctx)
			select {
			case <-ctx.Done():
				s.log.Infow("billing scheduler stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight run to wind down.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	res, err := s.RunBillingCycle(ctx)
	if err != nil {
		s.log.Errorw("billing cycle failed", "err", err)
		return
	}
	if res.Skipped {
		s.log.Warnw("billing cycle skipped, previous run still in progress")
	}
}

// Running reports whether a billing cycle is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// RunBillingCycle processes due memberships one at a time, then sends reminders and takes
// the daily snapshot. A call made while another run is in progress returns at once with
// Skipped set. Per-membership failures are logged and never abort the run.
func (s *Scheduler) RunBillingCycle(ctx context.Context) (*RunResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return &RunResult{Skipped: true}, nil
	}
	defer s.running.Store(false)

	start := time.Now()
	defer metrics.ObserveProcess("billing", "run", start)

	res := &RunResult{
		RunID:     tool.GenerateUUIDV7(),
		Outcomes:  map[membership.DueOutcome]int{},
		StartedAt: s.now(),
	}
	lg := logctx.FromCtx(ctx, s.log).With(logctx.RunIDKey, res.RunID)
	ctx = logctx.WithLogger(ctx, lg)

	due, err := s.repo.ListDueMemberships(ctx, res.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("list due memberships: %w", err)
	}
	res.Due = len(due)
	lg.Infow("billing cycle started", "due", res.Due)

	for _, m := range due {
		if ctx.Err() != nil {
			lg.Warnw("billing cycle interrupted", "err", ctx.Err())
			break
		}
		outcome := s.processOne(ctx, m)
		res.Outcomes[outcome]++
		metrics.IncBillingOutcome(string(outcome))
	}

	res.Reminders = s.sendReminders(ctx, res.StartedAt)
	res.Snapshots = s.snapshot(ctx, s.now())

	res.FinishedAt = s.now()
	lg.Infow("billing cycle finished", "outcomes", res.Outcomes, "reminders", res.Reminders, "snapshots", res.Snapshots, "elapsed", time.Since(start).String())
	return res, nil
}

func (s *Scheduler) processOne(ctx context.Context, m *models.UserMembership) (outcome membership.DueOutcome) {
	lg := logctx.FromCtx(ctx, s.log).With("membership_id", m.ID, "user_id", m.UserID, "status", m.Status)
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			lg.Errorw("panic while processing membership", "panic", r)
			outcome = membership.OutcomeFailed
		}
	}()

	outcome, err := s.processor.ProcessDue(ctx, m)
	if err != nil {
		lg.Warnw("due membership not processed", "outcome", outcome, "retryable", payment.IsRetryable(err), "err", err)
		return outcome
	}
	lg.Infow("due membership processed", "outcome", outcome)
	return outcome
}

// sendReminders notifies members whose active membership is due within the reminder window.
func (s *Scheduler) sendReminders(ctx context.Context, now time.Time) int {
	lg := logctx.FromCtx(ctx, s.log)
	window := s.cfg.Billing.ReminderWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	items, err := s.repo.ListMembershipsDueWithin(ctx, now, now.Add(window))
	if err != nil {
		lg.Errorw("list upcoming renewals failed", "err", err)
		return 0
	}

	sent := 0
	for _, m := range items {
		plan, err := s.repo.GetPlan(ctx, m.PlanID)
		if err != nil {
			lg.Warnw("reminder skipped, plan not found", "membership_id", m.ID, "plan_id", m.PlanID, "err", err)
			continue
		}
		hasMethod, err := s.pricer.HasPaymentMethod(ctx, m.UserID)
		if err != nil {
			lg.Warnw("reminder skipped, payment method lookup failed", "membership_id", m.ID, "err", err)
			continue
		}
		amount := s.pricer.WithTax(ctx, plan.PriceFor(m.BillingCycle)).Round(2)
		due := m.NextPaymentDate.Format(time.DateOnly)

		// only monthly memberships renew on their own; the others expire
		msg := notification.Message{
			UserID:  m.UserID,
			Kind:    notification.KindPaymentReminder,
			Subject: "Upcoming membership payment",
			Body:    fmt.Sprintf("Your %s membership renews on %s for $%s (tax included).", plan.Title, due, amount.StringFixed(2)),
		}
		if m.BillingCycle != types.BillingCycleMonthly {
			msg.Kind = notification.KindExpiryReminder
			msg.Subject = "Your membership is ending soon"
			msg.Body = fmt.Sprintf("Your %s membership expires on %s. Resubscribe for $%s (tax included) to keep your access.", plan.Title, due, amount.StringFixed(2))
		} else if !hasMethod {
			msg.Body += " No payment method is on file; add one to keep your membership."
		}
		msg.Data = map[string]any{
			"membership_id":      m.ID,
			"plan_id":            plan.ID,
			"billing_cycle":      m.BillingCycle,
			"amount":             amount.StringFixed(2),
			"currency":           s.cfg.Billing.Currency,
			"next_payment_date":  m.NextPaymentDate,
			"has_payment_method": hasMethod,
			"auto_renews":        m.BillingCycle == types.BillingCycleMonthly,
		}
		s.notifier.Notify(ctx, msg)
		sent++
	}
	return sent
}

// snapshot stores today's state of every membership still granting benefits and publishes
// the current membership gauge.
func (s *Scheduler) snapshot(ctx context.Context, now time.Time) int {
	lg := logctx.FromCtx(ctx, s.log)
	items, err := s.repo.ListMembershipsByStatus(ctx, types.MembershipStatusActive, types.MembershipStatusEnding, types.MembershipStatusCancelled)
	if err != nil {
		lg.Errorw("list memberships for snapshot failed", "err", err)
		return 0
	}
	day := now.Format(models.SnapshotDateLayout)
	saved := 0
	for _, m := range items {
		err := s.repo.SaveSnapshot(ctx, &models.MembershipDailySnapshot{
			MembershipID:      m.ID,
			SnapshotDate:      day,
			UserID:            m.UserID,
			PlanID:            m.PlanID,
			Status:            m.Status,
			BillingCycle:      m.BillingCycle,
			NextPaymentDate:   m.NextPaymentDate,
			SnapshotCreatedAt: now,
		})
		if err != nil {
			lg.Warnw("save snapshot failed", "membership_id", m.ID, "err", err)
			continue
		}
		saved++
	}

	n, err := s.repo.CountCurrentMemberships(ctx, now)
	if err != nil {
		lg.Warnw("count current memberships failed", "err", err)
	} else {
		metrics.SetActiveMemberships(int(n))
	}
	return saved
}

func NewProcessor(s *membership.Service) Processor { return s }

func NewPricer(s *payment.Service) Pricer { return s }

// Register starts the scheduler with the application when billing is enabled.
func Register(lc fx.Lifecycle, s *Scheduler, cfg *config.Config) {
	if !cfg.Billing.Enabled {
		s.log.Infow("billing scheduler disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(New, NewProcessor, NewPricer),
	fx.Invoke(Register),
)
