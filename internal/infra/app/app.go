package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/core/port"
	"github.com/arklim/campus-platform-attendance/internal/infra/config"
	"github.com/arklim/campus-platform-attendance/internal/infra/database"
	kafkainfra "github.com/arklim/campus-platform-attendance/internal/infra/kafka"
	"github.com/arklim/campus-platform-attendance/internal/infra/logger"
	redisinfra "github.com/arklim/campus-platform-attendance/internal/infra/redis"
	"github.com/arklim/campus-platform-attendance/internal/infra/security"
	"github.com/arklim/campus-platform-attendance/internal/infra/telemetry"
	postgresrepo "github.com/arklim/campus-platform-attendance/internal/repository/postgres"
	redisrepo "github.com/arklim/campus-platform-attendance/internal/repository/redis"
	"github.com/arklim/campus-platform-attendance/internal/transport/http/handlers"
	"github.com/arklim/campus-platform-attendance/internal/transport/http/middleware"
	"github.com/arklim/campus-platform-attendance/internal/transport/http/routes"
	"github.com/arklim/campus-platform-attendance/internal/usecase"
)

type Application struct {
	cfg     *config.AppConfig
	engine  *gin.Engine
	logger  *zap.Logger
	pool    *pgxpool.Pool
	redis   *redisinfra.Client
	rotator *usecase.TokenRotator
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tel, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	identity, err := security.NewIdentityVerifier(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("init identity verifier: %w", err)
	}

	minter := security.NewScanTokenGenerator(cfg.Session.TokenPrefix)

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	tokenCache := redisrepo.NewSessionTokenRepository(redisClient.Client(), cfg.Redis.SessionTokenPrefix)
	tokenCacheTTL := cfg.Redis.SessionTokenTTL
	if tokenCacheTTL <= 0 {
		tokenCacheTTL = 5 * time.Minute
	}

	attemptWindowTTL := cfg.Redis.AttemptWindowTTL
	if attemptWindowTTL <= 0 {
		attemptWindowTTL = 10 * time.Minute
	}
	attemptWindow := redisrepo.NewAttemptWindowRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.AttemptWindowPrefix,
		TTL:       attemptWindowTTL,
	})

	repos := postgresrepo.NewRepositories(pool)

	var eventPublisher port.EventPublisher
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka disabled, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	rateLimiter := middleware.NewRateLimiter(attemptWindow, log)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	sessionService := usecase.NewSessionService(repos.Sessions, repos.Attempts, minter, eventPublisher, log).
		WithTokenCache(tokenCache, tokenCacheTTL).
		WithMetrics(tel)

	verifyService := usecase.NewVerifyService(sessionService, repos.Attempts, repos.Devices, repos.Enrollments, attemptWindow, eventPublisher, log).
		WithRapidAttemptWindow(cfg.Fraud.RapidAttemptWindow).
		WithNotifier(handlers.NewLoggingNotificationDispatcher(log)).
		WithMetrics(tel)

	analyticsService := usecase.NewAnalyticsService(repos.Attempts, log)

	rotator := usecase.NewTokenRotator(sessionService, cfg.Session.RotationInterval, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     httpMetrics,
		Identity:    identity,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Sessions:  sessionService,
			Verify:    verifyService,
			Analytics: analyticsService,
		},
	})

	return &Application{
		cfg:     cfg,
		engine:  engine,
		logger:  log,
		pool:    pool,
		redis:   redisClient,
		rotator: rotator,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()

	if a.rotator != nil {
		a.rotator.Start(ctx)
		defer a.rotator.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting attendance API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
