package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/infra/broadcast"
	"github.com/iqb-berlin/testcenter/internal/infra/config"
	"github.com/iqb-berlin/testcenter/internal/infra/database"
	kafkainfra "github.com/iqb-berlin/testcenter/internal/infra/kafka"
	"github.com/iqb-berlin/testcenter/internal/infra/logger"
	redisinfra "github.com/iqb-berlin/testcenter/internal/infra/redis"
	"github.com/iqb-berlin/testcenter/internal/infra/testtakers"
	postgresrepo "github.com/iqb-berlin/testcenter/internal/repository/postgres"
	redisrepo "github.com/iqb-berlin/testcenter/internal/repository/redis"
	"github.com/iqb-berlin/testcenter/internal/transport/http/routes"
	"github.com/iqb-berlin/testcenter/internal/usecase"
)

// Application bundles the wired service with its infrastructure handles.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
}

// New wires configuration, storage, services and the HTTP layer together.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	var redisClient *redisinfra.Client
	var tokens port.TokenStore
	if cfg.Redis.Enabled {
		redisClient, err = redisinfra.NewClient(cfg.Redis, log)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		tokens = redisrepo.NewTokenStore(redisClient.Client(), cfg.Redis.TokenPrefix)
		log.Info("token store backed by redis")
	} else {
		tokens = postgresrepo.NewTokenStore(pool)
		log.Info("token store backed by postgres")
	}

	hub := broadcast.NewHub(cfg.Broadcast.SubscriberBuffer, log)

	var producer *kafkainfra.Producer
	sinks := []port.BroadcastSink{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, events stay in-process", zap.Error(err))
		} else {
			sinks = append(sinks, kafkainfra.NewSessionEventSink(producer, cfg.App, log))
		}
	} else {
		log.Info("kafka brokers not configured, events stay in-process")
	}
	sink := broadcast.NewComposite(sinks...)

	source := testtakers.NewFileSource(cfg.Testtakers.DataDir, log)
	if _, err := source.Reload(ctx); err != nil {
		log.Warn("initial testtakers load failed", zap.Error(err))
	}

	logins := postgresrepo.NewLoginRepository(pool)
	persons := postgresrepo.NewPersonRepository(pool)
	tests := postgresrepo.NewTestRepository(pool)
	units := postgresrepo.NewUnitRepository(pool)
	commands := postgresrepo.NewCommandRepository(pool)
	users := postgresrepo.NewUserRepository(pool)
	monitor := postgresrepo.NewMonitorRepository(pool)

	credentials := usecase.NewCredentialService(source)
	admins := usecase.NewAdminService(cfg.Session, tokens, users, logins, sink)
	sessions := usecase.NewSessionService(cfg.Session, tokens, credentials, logins, persons, admins, sink)
	testService := usecase.NewTestService(tests, units, commands, persons)
	monitorService := usecase.NewMonitorService(monitor)
	policy := usecase.NewAccessPolicy()

	deps := routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Hub:      hub,
		Database: pool,
		Services: routes.ServiceSet{
			Admins:   admins,
			Sessions: sessions,
			Tests:    testService,
			Monitor:  monitorService,
			Policy:   policy,
		},
	}
	if redisClient != nil {
		deps.Cache = redisClient
	}

	engine, err := routes.Register(deps)
	if err != nil {
		pool.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("register routes: %w", err)
	}

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.pool.Close()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting testcenter API",
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
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}
