package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/docs"
	"github.com/fatflowers/memberships/internal/app/api/handlers"
	mw "github.com/fatflowers/memberships/internal/app/api/middleware"
	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/access"
	"github.com/fatflowers/memberships/internal/app/service/billing"
	"github.com/fatflowers/memberships/internal/app/service/membership"
	"github.com/fatflowers/memberships/internal/app/service/statistics"
	cfgpkg "github.com/fatflowers/memberships/pkg/config"
	metrics "github.com/fatflowers/memberships/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeParams struct {
	fx.In

	Engine      *gin.Engine
	Log         *zap.SugaredLogger
	Cfg         *cfgpkg.Config
	Memberships *membership.Service
	Scheduler   *billing.Scheduler
	Access      *access.Service
	Repo        repository.Repository
	Stats       *statistics.Service
}

func registerRoutes(p routeParams) {
	r, log, cfg := p.Engine, p.Log, p.Cfg
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		pm := metrics.NewPrometheus(metrics.NewPrometheusOptions{Logger: log})
		pm.SetListenAddress(cfg.MetricsAddr)
		pm.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())

	handlers.RegisterMembershipRoutes(apiV1.Group("/membership"), p.Memberships, p.Log)
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), p.Scheduler, p.Access, p.Repo, p.Stats, p.Log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
