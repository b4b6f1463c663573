package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/memberships/internal/app/api/server"
	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/access"
	"github.com/fatflowers/memberships/internal/app/service/billing"
	"github.com/fatflowers/memberships/internal/app/service/membership"
	membershiplog "github.com/fatflowers/memberships/internal/app/service/membership_log"
	"github.com/fatflowers/memberships/internal/app/service/notification"
	"github.com/fatflowers/memberships/internal/app/service/payment"
	"github.com/fatflowers/memberships/internal/app/service/statistics"
	"github.com/fatflowers/memberships/internal/platform/brivo"
	"github.com/fatflowers/memberships/internal/platform/stripepay"
	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	repository.Module,
	stripepay.Module,
	brivo.Module,
	payment.Module,
	access.Module,
	notification.Module,
	membershiplog.Module,
	membership.Module,
	billing.Module,
	statistics.Module,
	server.Module,
)
