package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"streamcast/internal/api"
	"streamcast/internal/config"
	"streamcast/internal/database"
	"streamcast/internal/domain"
	"streamcast/internal/events"
	"streamcast/internal/export"
	"streamcast/internal/google"
	"streamcast/internal/logging"
	"streamcast/internal/metrics"
	"streamcast/internal/models"
	"streamcast/internal/publisher"
	"streamcast/internal/queue"
	"streamcast/internal/repository"
	"streamcast/internal/scheduler"
	"streamcast/internal/service"
	"streamcast/internal/syncer"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := logging.Component(baseLogger, "main")

	if err := prepareDirectories(cfg); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("redis unavailable")
		}
		defer func() { _ = repository.Close(redisClient) }()
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Monitoring.PrometheusEnabled {
		startMetricsServer(cfg.Monitoring.PrometheusPort, reg, &logger)
	}

	bus := events.NewBus()
	m.WireBus(bus)

	engine, err := initSyncEngine(ctx, cfg, db, m, bus, baseLogger)
	if err != nil {
		return err
	}

	enablement := initEnablement(cfg, redisClient, baseLogger)
	registry := buildRegistry(cfg)

	controller := scheduler.NewController(db)
	pool := scheduler.NewPool(scheduler.PoolConfig{
		DB:                  db,
		Registry:            registry,
		Controller:          controller,
		Policy:              scheduler.PolicyFromConfig(cfg.Scheduler.Retry),
		Enablement:          enablement,
		Metrics:             m,
		Bus:                 bus,
		Logger:              *baseLogger,
		Workers:             cfg.Scheduler.Workers,
		PlatformConcurrency: cfg.Scheduler.PlatformConcurrency,
		PlatformRPS:         cfg.Scheduler.PlatformRPS,
		PublishTimeout:      cfg.Scheduler.PublishTimeout,
	})
	pool.Start(ctx)

	q, qCleanup, err := initQueue(ctx, cfg, redisClient, pool, baseLogger)
	if err != nil {
		return err
	}
	if qCleanup != nil {
		defer qCleanup()
	}

	selector := scheduler.NewSelector(db, q, m, bus, *baseLogger,
		cfg.Scheduler.PollInterval, cfg.Scheduler.BatchSize)
	go selector.Start(ctx)

	svc := service.NewSchedulerService(db, q, engine, m, bus, *baseLogger)
	exporter := export.NewExporter(db, cfg.Exports.Path, *baseLogger)

	scheduledJobs := startCron(ctx, cfg, engine, enablement, &logger)
	defer scheduledJobs.Stop()

	var apiServer *api.HTTPServer
	if cfg.API.Enabled {
		apiServer = api.NewHTTPServer(cfg.API, svc, exporter, *baseLogger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("api server error")
			}
		}()
	}

	logger.Info().
		Str("queue_backend", cfg.Queue.Backend).
		Bool("sync_enabled", engine != nil).
		Msg("scheduler started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = apiServer.Shutdown(shutdownCtx)
	}

	pool.Wait()
	if engine != nil {
		engine.Wait()
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func prepareDirectories(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(cfg.Exports.Path, 0o755)
}

// initQueue builds the dispatch queue and hooks it up to the pool. The
// returned cleanup closes backend clients; it may be nil.
func initQueue(ctx context.Context, cfg *config.Config, redisClient *redis.Client, pool *scheduler.Pool, logger *zerolog.Logger) (queue.Queue, func(), error) {
	switch cfg.Queue.Backend {
	case "memory":
		q := queue.NewMemoryQueue()
		go q.Start(ctx, pool.Submit)
		return q, nil, nil

	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis queue backend requires a redis connection")
		}
		q := queue.NewRedisQueue(redisClient, *logger)
		go q.Start(ctx, pool.Submit)
		return q, nil, nil

	case "asynq":
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		q := queue.NewAsynqQueue(redisOpt)

		srv := asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.Scheduler.Workers,
		})
		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TypeDispatchOccurrence, queue.AsynqHandler(pool.Submit))
		go func() {
			if err := srv.Run(mux); err != nil {
				logger.Error().Err(err).Msg("asynq server error")
			}
		}()

		cleanup := func() {
			srv.Shutdown()
			_ = q.Close()
		}
		return q, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown queue backend: %s", cfg.Queue.Backend)
	}
}

func initSyncEngine(ctx context.Context, cfg *config.Config, db *database.DB, m *metrics.Metrics, bus *events.Bus, logger *zerolog.Logger) (*syncer.Engine, error) {
	if !cfg.Sync.Enabled || !cfg.Google.Enabled {
		return nil, nil
	}

	calendarSvc, err := google.NewCalendarService(ctx, cfg.Google.CredentialsFile, cfg.Google.CalendarID)
	if err != nil {
		return nil, err
	}
	if err := calendarSvc.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("google calendar connection test: %w", err)
	}

	return syncer.NewEngine(db, calendarSvc, m, bus, *logger), nil
}

// initEnablement builds the platform-enablement store: an in-memory
// TTL cache seeded from config, promoted to redis-with-failover when a
// redis connection exists.
func initEnablement(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.EnablementRepository {
	defaults := platformDefaults(cfg)
	ttl := models.DefaultEnablementTTL * time.Second

	memory := repository.NewMemoryEnablementRepository(defaults, ttl)
	if redisClient == nil {
		return memory
	}

	primary := repository.NewRedisEnablementRepository(redisClient, defaults, ttl)
	return repository.NewFailoverEnablementRepository(primary, memory, logger)
}

func platformDefaults(cfg *config.Config) map[string]bool {
	defaults := make(map[string]bool, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		defaults[p.Name] = p.Enabled
	}
	return defaults
}

func buildRegistry(cfg *config.Config) *publisher.Registry {
	registry := publisher.NewRegistry()
	for _, p := range cfg.Platforms {
		if p.Endpoint == "" {
			continue
		}
		registry.Register(publisher.NewWebhookPublisher(p.Name, p.Endpoint, p.Token, cfg.Scheduler.PublishTimeout))
	}
	return registry
}

// startCron schedules the periodic full resync and the enablement
// cache refresh from config defaults.
func startCron(ctx context.Context, cfg *config.Config, engine *syncer.Engine, enablement domain.EnablementRepository, logger *zerolog.Logger) *cron.Cron {
	c := cron.New()

	if engine != nil {
		if _, err := c.AddFunc(cfg.Sync.ResyncSchedule, func() {
			if err := engine.ResyncAll(ctx); err != nil {
				logger.Error().Err(err).Msg("periodic resync failed")
			}
		}); err != nil {
			logger.Error().Err(err).Str("schedule", cfg.Sync.ResyncSchedule).Msg("invalid resync schedule")
		}
	}

	if memory, ok := enablement.(*repository.MemoryEnablementRepository); ok {
		defaults := platformDefaults(cfg)
		if _, err := c.AddFunc("@every 5m", func() {
			memory.Refresh(defaults)
		}); err != nil {
			logger.Error().Err(err).Msg("failed to schedule enablement refresh")
		}
	}

	c.Start()
	return c
}

func startMetricsServer(port int, reg *prometheus.Registry, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
