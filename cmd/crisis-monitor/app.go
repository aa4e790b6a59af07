package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"crisiswatch/internal/api"
	"crisiswatch/internal/broadcast"
	"crisiswatch/internal/broker"
	"crisiswatch/internal/config"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/ingest"
	"crisiswatch/internal/logger"
	"crisiswatch/internal/notify"
	"crisiswatch/internal/rules"
	"crisiswatch/internal/source"
	"crisiswatch/internal/store"
	"crisiswatch/pkg/bootstrap"
	"crisiswatch/pkg/health"
	"crisiswatch/pkg/metrics"
	"crisiswatch/pkg/middleware"
	"crisiswatch/pkg/migrations"
	"crisiswatch/pkg/ratelimit"
)

const (
	defaultBaselineInterval = 10 * time.Minute
	defaultBaselineLookback = 24 * time.Hour
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	redisClient *redis.Client
	mongoClient *mongo.Client

	store        *store.Store
	ruleRepo     rules.Repository
	engine       *rules.Engine
	baseline     *rules.Baseline
	hub          *broadcast.Hub
	dispatcher   *notify.Dispatcher
	producer     broker.Producer
	consumer     broker.Consumer
	orchestrator *ingest.Orchestrator

	server *http.Server
	router *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.initServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = redisClient

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	var eventRepo store.Repository
	if a.mongoClient != nil {
		dbName := a.config.Database.MongoDB.Database
		if dbName == "" {
			dbName = "crisiswatch"
		}
		mongoDB := a.mongoClient.Database(dbName)

		if err := migrations.EnsureEventIndexes(ctx, mongoDB); err != nil {
			return fmt.Errorf("failed to ensure event indexes: %w", err)
		}
		if err := migrations.EnsureAlertIndexes(ctx, mongoDB); err != nil {
			return fmt.Errorf("failed to ensure alert indexes: %w", err)
		}

		eventRepo = store.NewRepository(mongoDB)
	} else {
		a.logger.Warn("MongoDB not configured, events and alerts are held in process memory")
		eventRepo = store.NewMemoryRepository()
	}

	if a.config.CircuitBreaker.Enabled {
		eventRepo = store.NewCircuitBreakerRepository(eventRepo, a.config.CircuitBreaker)
	}

	var cache store.Cache
	if a.redisClient != nil {
		cache = store.NewRedisCache(a.redisClient)
	} else {
		a.logger.Warn("Redis not configured, event idempotence is tracked in process memory")
		cache = store.NewLocalCache()
	}

	a.store = store.NewStore(eventRepo, cache, a.config.Store, a.logger)

	if a.db != nil {
		a.ruleRepo = rules.NewRepository(a.db)
		if err := a.ruleRepo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure rule schema: %w", err)
		}
		if err := a.ruleRepo.SeedBuiltinRules(ctx); err != nil {
			return fmt.Errorf("failed to seed builtin rules: %w", err)
		}
	} else {
		a.logger.Warn("PostgreSQL not configured, rule mutations will not survive restarts")
		a.ruleRepo = rules.NewStaticRepository(rules.BuiltinRules())
	}

	windowLength := a.config.Rules.WindowLength
	if windowLength <= 0 {
		windowLength = constants.DefaultWindowLength
	}
	lookback := a.config.Rules.BaselineLookback
	if lookback <= 0 {
		lookback = defaultBaselineLookback
	}
	a.baseline = rules.NewBaseline(a.store, windowLength, lookback, a.logger)

	engine, err := rules.NewEngine(a.ruleRepo, a.store, a.baseline, a.config.Rules, a.logger)
	if err != nil {
		return fmt.Errorf("failed to build rule engine: %w", err)
	}
	if err := engine.ReloadRules(ctx); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	a.engine = engine

	a.hub = broadcast.NewHub(a.config.Broadcast, a.logger)
	a.dispatcher = notify.NewDispatcher(a.config.Notify, a.logger)

	sources, topics := source.Build(a.config.Ingest, a.logger)

	if a.config.Broker.Type != "" {
		producer, err := broker.NewProducer(a.config.Broker, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}
		a.producer = producer

		if len(topics) > 0 {
			consumer, err := broker.NewConsumer(a.config.Broker, a.logger)
			if err != nil {
				producer.Close()
				return fmt.Errorf("failed to create consumer: %w", err)
			}
			consumer.SetComponentName("crisis-monitor")
			a.consumer = consumer
		}
	} else if len(topics) > 0 {
		a.logger.Warnw("Kafka sources configured without a broker, they will be ignored",
			"topics", topics)
		topics = nil
	}

	a.orchestrator = ingest.NewOrchestrator(a.config.Ingest, ingest.Options{
		Store:      a.store,
		Engine:     a.engine,
		Hub:        a.hub,
		Dispatcher: a.dispatcher,
		Producer:   a.producer,
		Consumer:   a.consumer,
		Sources:    sources,
		Topics:     topics,
		AlertTopic: a.config.Broker.Kafka.AlertsTopic,
	}, a.logger)

	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	var pushLimiter gin.HandlerFunc
	if a.config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.DefaultConfig()
		if a.config.RateLimit.RPS > 0 {
			rateLimitConfig.RPS = a.config.RateLimit.RPS
		}
		if a.config.RateLimit.Burst > 0 {
			rateLimitConfig.Burst = a.config.RateLimit.Burst
		}
		pushLimiter = ratelimit.RateLimitMiddleware(rateLimitConfig)
		a.logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler := api.NewHandler(api.Options{
		Store:     a.store,
		Pipeline:  a.orchestrator,
		Hub:       a.hub,
		RateLimit: pushLimiter,
	}, a.logger)
	handler.RegisterRoutes(router)

	ruleHandler := api.NewRuleHandler(a.ruleRepo, a.engine, a.logger)
	ruleHandler.RegisterRoutes(router)

	metrics.RegisterIngestMetrics()
	metrics.RegisterStoreMetrics()
	metrics.RegisterRuleMetrics()
	metrics.RegisterBroadcastMetrics()
	metrics.RegisterTransportMetrics()

	healthRegistry := health.NewCheckerRegistry()
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}
	healthRegistry.Register(health.NewFuncChecker("ingest-loop", a.orchestrator.HealthCheck))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds,
	}
}

func (a *App) Run(ctx context.Context) error {
	a.store.Start()
	a.hub.Start()

	if err := a.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingest: %w", err)
	}

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(a.engine.StartReloader(runCtx))
	})
	g.Go(func() error {
		interval := a.config.Rules.BaselineInterval
		if interval <= 0 {
			interval = defaultBaselineInterval
		}
		return ignoreCancel(a.baseline.StartRefresher(runCtx, interval))
	})
	g.Go(func() error {
		return ignoreCancel(a.orchestrator.StartMetricsPublisher(runCtx, constants.DefaultHeartbeatPeriod))
	})
	g.Go(func() error {
		a.logger.InfowCtx(runCtx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down crisis monitor")

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	// Stop ingesting before the store, so the final flush sees everything.
	a.orchestrator.Stop(shutdownCtx)

	a.store.Stop(shutdownCtx)

	a.hub.Stop()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(shutdownCtx, a.redisClient, a.db, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.Info("Crisis monitor exited successfully")
	return nil
}

func ignoreCancel(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}
