package db

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fatflowers/memberships/internal/models"
	cfgpkg "github.com/fatflowers/memberships/pkg/config"
	gormzap "github.com/fatflowers/memberships/pkg/gormlog"
)

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger:         gormzap.New(l, cfg.Database.SlowThreshold),
		TranslateError: true,
	})
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	l.Infow("connected to postgres via DSN")
	return db, nil
}

const currentMembershipIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_user_membership_current
ON user_membership (user_id, plan_id) WHERE status IN ('active', 'ending')`

// AutoMigrate runs GORM migrations on startup
func AutoMigrate(l *zap.SugaredLogger, db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.MembershipPlan{},
		&models.UserMembership{},
		&models.UserMembershipForm{},
		&models.User{},
		&models.AccessCard{},
		&models.WorkshopRegistration{},
		&models.PaymentProfile{},
		&models.Charge{},
		&models.AdminSetting{},
		&models.MembershipLog{},
		&models.MembershipDailySnapshot{},
	); err != nil {
		l.Errorf("automigrate failed: %v", err)
		return err
	}
	// at most one active or ending membership per user and plan
	if err := db.Exec(currentMembershipIndex).Error; err != nil {
		l.Errorf("create current membership index failed: %v", err)
		return err
	}
	l.Infow("automigrate completed")
	return nil
}

// RegisterClose ensures the underlying *sql.DB is closed on shutdown
func RegisterClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing postgres connection pool")
			return sqlDB.Close()
		},
	})
}
