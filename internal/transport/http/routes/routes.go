package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iqb-berlin/testcenter/internal/infra/broadcast"
	"github.com/iqb-berlin/testcenter/internal/infra/config"
	"github.com/iqb-berlin/testcenter/internal/transport/http/handlers"
	"github.com/iqb-berlin/testcenter/internal/transport/http/middleware"
	"github.com/iqb-berlin/testcenter/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Admins   *usecase.AdminService
	Sessions *usecase.SessionService
	Tests    *usecase.TestService
	Monitor  *usecase.MonitorService
	Policy   *usecase.AccessPolicy
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Services ServiceSet
	Hub      *broadcast.Hub
	Database DatabaseChecker
	Cache    CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) (*gin.Engine, error) {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, err
	}
	r.Use(metrics.Handler())

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		sessionHandler := handlers.NewSessionHandler(deps.Services.Admins, deps.Services.Sessions)
		sessionHandler.RegisterRoutes(api)

		testGroup := api.Group("")
		testGroup.Use(middleware.RequirePerson(deps.Services.Sessions))
		testHandler := handlers.NewTestHandler(deps.Services.Tests, deps.Services.Policy)
		testHandler.RegisterRoutes(testGroup)

		adminGroup := api.Group("")
		adminGroup.Use(middleware.RequireAdmin(deps.Services.Admins))
		monitorHandler := handlers.NewMonitorHandler(
			deps.Services.Monitor,
			deps.Services.Admins,
			deps.Services.Tests,
			deps.Services.Policy,
			deps.Hub,
		)
		monitorHandler.RegisterRoutes(adminGroup)
	}

	return r, nil
}
