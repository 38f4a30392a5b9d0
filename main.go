package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/getbeton/inspector-sub003/config"
	"github.com/getbeton/inspector-sub003/internal/handlers"
	"github.com/getbeton/inspector-sub003/pkg/billing"
	"github.com/getbeton/inspector-sub003/pkg/credentials"
	"github.com/getbeton/inspector-sub003/pkg/crypto"
	"github.com/getbeton/inspector-sub003/pkg/database"
	"github.com/getbeton/inspector-sub003/pkg/health"
	"github.com/getbeton/inspector-sub003/pkg/middleware"
	"github.com/getbeton/inspector-sub003/pkg/posthog"
	"github.com/getbeton/inspector-sub003/pkg/query"
	"github.com/getbeton/inspector-sub003/pkg/querycache"
	"github.com/getbeton/inspector-sub003/pkg/ratelimit"
	"github.com/getbeton/inspector-sub003/pkg/redis"
	"github.com/getbeton/inspector-sub003/pkg/repositories"
	"github.com/getbeton/inspector-sub003/pkg/startup"
	"github.com/getbeton/inspector-sub003/pkg/sweeper"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
	"github.com/getbeton/inspector-sub003/pkg/tracing/exporters"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.SetupConfig{
		ServiceName: cfg.AppName,
		OTLPEnabled: cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	cipher, err := crypto.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		logger.WithError(err).Fatal("invalid credential encryption key")
	}

	db, err := database.Connect(ctx, database.ConnConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := runMigrations(cfg, db, logger); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	// Stores: Redis-backed admission control when configured, in-process
	// otherwise. The cache itself is in Postgres either way.
	var redisClient *redis.Client
	var limiter ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RedisHost != "" {
		redisClient, err = redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to Redis")
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisStore(redisClient, "ratelimit:")
	}

	credentialRepo := repositories.NewCredentialRepository(db, logger)
	cacheRepo := repositories.NewResultCacheRepository(db, logger)
	credentialStore := credentials.NewStore(credentialRepo, cipher, logger)
	cache := querycache.NewPostgresStore(cacheRepo)

	posthogClient := posthog.NewClient(posthog.Config{
		Timeout:         cfg.QueryTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}, logger)

	orchestrator := query.NewOrchestrator(credentialStore, limiter, cache, posthogClient, query.Config{
		QueryLimit:       int64(cfg.QueryRateLimit),
		EnumerationLimit: int64(cfg.EnumerationRateLimit),
		Window:           cfg.RateLimitWindow,
		CacheTTL:         cfg.QueryCacheTTL,
	}, logger)

	aggregator := posthog.NewAggregator(posthogClient, posthog.AggregatorConfig{
		MaxPages:   cfg.FallbackMaxPages,
		PageSize:   cfg.FallbackPageSize,
		TimeBudget: cfg.FallbackTimeBudget,
	}, logger)

	var usageProducer *billing.Producer
	var publisher billing.Publisher
	if cfg.KafkaBrokers != "" {
		usageProducer = billing.NewProducer(billing.ProducerConfig{
			Brokers: billing.ParseBrokers(cfg.KafkaBrokers),
			Topic:   cfg.KafkaUsageTopic,
		}, logger)
		defer usageProducer.Close()
		publisher = usageProducer
	}
	mtuService := billing.NewMTUService(credentialStore, limiter, aggregator, publisher, billing.MTUConfig{
		Limit:  int64(cfg.EnumerationRateLimit),
		Window: cfg.RateLimitWindow,
	}, logger)

	checker := health.NewChecker(db, redisClient, os.Getenv("APP_VERSION"))

	e, err := buildServer(cfg, logger, checker, orchestrator, credentialStore, mtuService)
	if err != nil {
		logger.WithError(err).Fatal("failed to build server")
	}

	cacheSweeper := sweeper.NewSweeper(cache, cfg.SweepInterval, logger)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&startup.Dependency{
		Name: "http-server",
		StartFunc: func(ctx context.Context) error {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Fatal("http server stopped unexpectedly")
				}
			}()
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
	if cfg.SweepEnabled {
		boot.AddDependency(&startup.Dependency{
			Name:      "cache-sweeper",
			Needs:     []string{"http-server"},
			StartFunc: cacheSweeper.Start,
			StopFunc:  cacheSweeper.Stop,
		})
	}

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	checker.SetReady(true)
	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	checker.SetReady(false)
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func buildLogger(cfg *config.Config) (ectologger.Logger, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapCfg := zap.NewProductionConfig()
		if level, parseErr := zap.ParseAtomicLevel(cfg.LogLevel); parseErr == nil {
			zapCfg.Level = level
		}
		zapLogger, err = zapCfg.Build()
	}
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func runMigrations(cfg *config.Config, db database.DB, logger ectologger.Logger) error {
	driver, err := migratepostgres.WithInstance(db.Unsafe().DB, &migratepostgres.Config{})
	if err != nil {
		return err
	}

	migrationService := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return migrationService.Migrate(cfg.DatabaseName, driver)
}

func buildServer(
	cfg *config.Config,
	logger ectologger.Logger,
	checker *health.Checker,
	orchestrator *query.Orchestrator,
	credentialStore *credentials.Store,
	mtuService *billing.MTUService,
) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	queryHandler := handlers.NewQueryHandler(orchestrator, logger)
	credentialHandler := handlers.NewCredentialHandler(credentialStore, orchestrator, logger)
	billingHandler := handlers.NewBillingHandler(mtuService, logger)

	// Session and machine-token surface
	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		auth, err := middleware.Authentication(logger, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return nil, err
		}
		api.Use(auth)
	} else {
		api.Use(middleware.DevAuthentication())
	}
	queryHandler.RegisterRoutes(api)
	credentialHandler.RegisterRoutes(api)

	// Agent surface: shared secret plus an explicit workspace header. Same
	// orchestrator, same quotas; only the scope resolution differs.
	agent := e.Group("/api/v1/agent")
	agent.Use(middleware.AgentAuthentication(logger, cfg.AgentSharedSecret))
	queryHandler.RegisterRoutes(agent)
	billingHandler.RegisterRoutes(agent)

	return e, nil
}
