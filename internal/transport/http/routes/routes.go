package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/infra/config"
	"github.com/arklim/campus-platform-attendance/internal/infra/security"
	"github.com/arklim/campus-platform-attendance/internal/transport/http/handlers"
	"github.com/arklim/campus-platform-attendance/internal/transport/http/middleware"
	"github.com/arklim/campus-platform-attendance/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Sessions  *usecase.SessionService
	Verify    *usecase.VerifyService
	Analytics *usecase.AnalyticsService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Services    ServiceSet
	Identity    *security.IdentityVerifier
	Database    DatabaseChecker
	Cache       CacheChecker
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
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	authMiddleware := middleware.RequireAuth(deps.Identity)

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
		sessionHandler := handlers.NewSessionHandler(deps.Services.Sessions)
		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(authMiddleware, middleware.RequireRole(security.RoleInstructor, security.RoleAdmin))
		sessionHandler.RegisterRoutes(sessionGroup)

		scanHandler := handlers.NewScanHandler(deps.Services.Verify)
		scanGroup := api.Group("/scans")
		scanMiddlewares := append([]gin.HandlerFunc{authMiddleware}, buildScanMiddlewares(deps)...)
		scanGroup.Use(scanMiddlewares...)
		scanHandler.RegisterRoutes(scanGroup)

		analyticsHandler := handlers.NewAnalyticsHandler(deps.Services.Analytics)
		analyticsGroup := api.Group("/analytics")
		analyticsGroup.Use(authMiddleware, middleware.RequireRole(security.RoleInstructor, security.RoleAdmin))
		analyticsHandler.RegisterRoutes(analyticsGroup)
	}

	return r
}

func buildScanMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.ScanMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "scan_submit_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
