// Package access keeps door permissions on local access cards and the remote access
// provider consistent with a member's entitlement.
package access

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/internal/platform/brivo"
	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/logctx"
	"github.com/fatflowers/memberships/pkg/metrics"
	"github.com/fatflowers/memberships/pkg/types"
)

// Provider is the remote access-control system.
type Provider interface {
	Configured() bool
	GetPerson(ctx context.Context, id string) (*brivo.Person, error)
	FindPersonByExternalID(ctx context.Context, externalID string) (*brivo.Person, error)
	CreatePerson(ctx context.Context, p brivo.Person) (*brivo.Person, error)
	UpdatePerson(ctx context.Context, p brivo.Person) error
	ListPersonGroups(ctx context.Context, personID string) ([]string, error)
	AddPersonToGroup(ctx context.Context, groupID, personID string) error
	RemovePersonFromGroup(ctx context.Context, groupID, personID string) error
	ListMobilePasses(ctx context.Context, personID string) ([]brivo.MobilePass, error)
	CreateMobilePass(ctx context.Context, personID, email string) (*brivo.MobilePass, error)
	RevokeMobilePass(ctx context.Context, personID, passID string) error
}

type RemoteOutcome string

const (
	RemoteSkipped RemoteOutcome = "skipped"
	RemoteGranted RemoteOutcome = "granted"
	RemoteRevoked RemoteOutcome = "revoked"
	RemoteFailed  RemoteOutcome = "failed"
)

type SyncResult struct {
	UserID         string        `json:"user_id"`
	ShouldHaveDoor bool          `json:"should_have_door"`
	CardsUpdated   int           `json:"cards_updated"`
	Remote         RemoteOutcome `json:"remote"`
	RemoteError    string        `json:"remote_error,omitempty"`
}

type Service struct {
	repo     repository.Repository
	provider Provider
	cfg      *config.Config
	log      *zap.SugaredLogger
	now      func() time.Time
}

func New(repo repository.Repository, provider Provider, cfg *config.Config, log *zap.SugaredLogger) *Service {
	return &Service{repo: repo, provider: provider, cfg: cfg, log: log, now: time.Now}
}

// NewProvider exposes the Brivo client as the access Provider.
func NewProvider(c *brivo.Client) Provider { return c }

// ShouldHaveDoor reports whether the user is entitled to door access right now.
func (s *Service) ShouldHaveDoor(ctx context.Context, user *models.User) (bool, error) {
	if user.Revoked() || user.RoleLevel < s.cfg.Access.DoorRoleLevel {
		return false, nil
	}
	memberships, err := s.repo.ListMembershipsByUser(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("list memberships: %w", err)
	}
	now := s.now()
	return lo.SomeBy(memberships, func(m *models.UserMembership) bool { return m.Current(now) }), nil
}

// Sync converges local cards and the remote provider on the user's entitlement. It is safe
// to repeat. Remote failures are stored on the user and never returned.
func (s *Service) Sync(ctx context.Context, userID string) (*SyncResult, error) {
	start := time.Now()
	defer metrics.ObserveProcess("access", "sync", start)

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	should, err := s.ShouldHaveDoor(ctx, user)
	if err != nil {
		return nil, err
	}
	res := &SyncResult{UserID: userID, ShouldHaveDoor: should}

	cards, err := s.repo.ListAccessCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list access cards: %w", err)
	}
	if res.CardsUpdated, err = s.syncCards(ctx, cards, should); err != nil {
		return res, err
	}

	res.Remote = s.syncRemote(ctx, user, cards, should, res)
	return res, nil
}

// syncCards adds or removes the door permission, writing only cards that change.
func (s *Service) syncCards(ctx context.Context, cards []*models.AccessCard, should bool) (int, error) {
	door := s.cfg.Access.DoorPermissionID
	updated := 0
	for _, card := range cards {
		has := card.HasPermission(door)
		switch {
		case should && !has:
			card.Permissions = append(card.Permissions, door)
		case !should && has:
			card.Permissions = slices.DeleteFunc(card.Permissions, func(p string) bool { return p == door })
		default:
			continue
		}
		if err := s.repo.SaveAccessCard(ctx, card); err != nil {
			return updated, fmt.Errorf("save access card %s: %w", card.ID, err)
		}
		updated++
	}
	return updated, nil
}

func (s *Service) syncRemote(ctx context.Context, user *models.User, cards []*models.AccessCard, should bool, res *SyncResult) RemoteOutcome {
	lg := logctx.FromCtx(ctx, s.log).With("user_id", user.ID)
	if s.provider == nil || !s.provider.Configured() {
		if should {
			lg.Warnw("access provider not configured, skipping remote door grant")
		}
		return RemoteSkipped
	}

	var (
		outcome  RemoteOutcome
		personID *string
		err      error
	)
	switch {
	case should:
		outcome = RemoteGranted
		personID, err = s.grant(ctx, user, cards)
	case user.BrivoPersonID != nil:
		outcome = RemoteRevoked
		err = s.revoke(ctx, *user.BrivoPersonID, cards)
	default:
		return RemoteSkipped
	}

	update := repository.UserSyncUpdate{PersonID: personID, SyncedAt: s.now()}
	if err != nil {
		msg := err.Error()
		update.SyncError = &msg
		res.RemoteError = msg
		outcome = RemoteFailed
		metrics.IncAccessSyncFailure()
		lg.Warnw("remote access sync failed", "should_have_door", should, "err", err)
	}
	if saveErr := s.repo.UpdateUserSync(ctx, user.ID, update); saveErr != nil {
		lg.Errorw("persist access sync status failed", "err", saveErr)
	}
	return outcome
}

func (s *Service) grant(ctx context.Context, user *models.User, cards []*models.AccessCard) (*string, error) {
	person, err := s.ensurePerson(ctx, user)
	if err != nil {
		return nil, err
	}
	personID := person.ID

	if err := s.syncGroups(ctx, personID, s.cfg.Access.DesiredGroups(user.RoleLevel)); err != nil {
		return &personID, err
	}

	pass, err := s.ensureMobilePass(ctx, personID, user.Email)
	if err != nil {
		return &personID, err
	}
	for _, card := range cards {
		if card.Kind != types.AccessCardKindMobile || (card.MobileCredentialID != nil && *card.MobileCredentialID == pass.ID) {
			continue
		}
		id := pass.ID
		card.MobileCredentialID = &id
		if err := s.repo.SaveAccessCard(ctx, card); err != nil {
			return &personID, fmt.Errorf("save mobile credential id: %w", err)
		}
	}
	return &personID, nil
}

func personFromUser(user *models.User) brivo.Person {
	return brivo.Person{
		ExternalID: user.ID,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Email:      user.Email,
		Phone:      user.Phone,
	}
}

// ensurePerson finds the remote person by stored id, then by external id, else creates it.
// Contact fields of an existing person are refreshed.
func (s *Service) ensurePerson(ctx context.Context, user *models.User) (*brivo.Person, error) {
	var (
		existing *brivo.Person
		err      error
	)
	if user.BrivoPersonID != nil && *user.BrivoPersonID != "" {
		if existing, err = s.provider.GetPerson(ctx, *user.BrivoPersonID); err != nil {
			return nil, fmt.Errorf("get person: %w", err)
		}
	}
	if existing == nil {
		if existing, err = s.provider.FindPersonByExternalID(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("find person: %w", err)
		}
	}

	want := personFromUser(user)
	if existing == nil {
		created, err := s.provider.CreatePerson(ctx, want)
		if err != nil {
			return nil, fmt.Errorf("create person: %w", err)
		}
		return created, nil
	}
	want.ID = existing.ID
	if want != *existing {
		if err := s.provider.UpdatePerson(ctx, want); err != nil {
			return nil, fmt.Errorf("update person: %w", err)
		}
	}
	return &want, nil
}

// syncGroups makes the person's managed groups equal desired. Groups outside the managed
// set are left alone.
func (s *Service) syncGroups(ctx context.Context, personID string, desired []string) error {
	current, err := s.provider.ListPersonGroups(ctx, personID)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	toAdd, toRemove := diffGroups(current, desired, s.cfg.Access.ManagedGroups())
	for _, g := range toAdd {
		if err := s.provider.AddPersonToGroup(ctx, g, personID); err != nil {
			return fmt.Errorf("add to group %s: %w", g, err)
		}
	}
	for _, g := range toRemove {
		if err := s.provider.RemovePersonFromGroup(ctx, g, personID); err != nil {
			return fmt.Errorf("remove from group %s: %w", g, err)
		}
	}
	return nil
}

func diffGroups(current, desired, managed []string) (toAdd, toRemove []string) {
	toAdd = lo.Without(lo.Uniq(desired), current...)
	toRemove = lo.Filter(lo.Intersect(managed, current), func(g string, _ int) bool {
		return !lo.Contains(desired, g)
	})
	return toAdd, toRemove
}

func (s *Service) ensureMobilePass(ctx context.Context, personID, email string) (*brivo.MobilePass, error) {
	passes, err := s.provider.ListMobilePasses(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("list mobile passes: %w", err)
	}
	if pass, ok := lo.Find(passes, func(p brivo.MobilePass) bool { return p.Usable() }); ok {
		return &pass, nil
	}
	pass, err := s.provider.CreateMobilePass(ctx, personID, email)
	if err != nil {
		return nil, fmt.Errorf("create mobile pass: %w", err)
	}
	return pass, nil
}

func (s *Service) revoke(ctx context.Context, personID string, cards []*models.AccessCard) error {
	if err := s.syncGroups(ctx, personID, nil); err != nil {
		return err
	}
	passes, err := s.provider.ListMobilePasses(ctx, personID)
	if err != nil {
		return fmt.Errorf("list mobile passes: %w", err)
	}
	for _, p := range passes {
		if !p.Usable() {
			continue
		}
		if err := s.provider.RevokeMobilePass(ctx, personID, p.ID); err != nil {
			return fmt.Errorf("revoke mobile pass %s: %w", p.ID, err)
		}
	}
	for _, card := range cards {
		if card.MobileCredentialID == nil {
			continue
		}
		card.MobileCredentialID = nil
		if err := s.repo.SaveAccessCard(ctx, card); err != nil {
			return fmt.Errorf("clear mobile credential id: %w", err)
		}
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(New, NewProvider),
)
