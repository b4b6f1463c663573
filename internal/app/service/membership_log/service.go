package membership_log

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/logctx"
	"github.com/fatflowers/memberships/pkg/tool"
)

type Service struct {
	repo repository.Repository
	log  *zap.SugaredLogger
	wg   sync.WaitGroup
}

func New(lc fx.Lifecycle, repo repository.Repository, log *zap.SugaredLogger) *Service {
	s := &Service{repo: repo, log: log}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		s.Flush()
		return nil
	}})
	return s
}

// Save asynchronously persists a membership log. Nil input is ignored.
func (s *Service) Save(ctx context.Context, log *models.MembershipLog) {
	if log == nil {
		return
	}
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}
	lg := logctx.FromCtx(ctx, s.log)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.repo.SaveMembershipLog(context.Background(), log); err != nil {
			lg.Errorf("failed to save membership log: %v", err)
		}
	}()
}

// Flush waits for pending saves.
func (s *Service) Flush() { s.wg.Wait() }

var Module = fx.Options(
	fx.Provide(New),
)
