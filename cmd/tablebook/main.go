package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tablebook/internal/api"
	"tablebook/internal/availability"
	"tablebook/internal/booking"
	"tablebook/internal/config"
	"tablebook/internal/conflict"
	"tablebook/internal/database"
	"tablebook/internal/events"
	"tablebook/internal/health"
	"tablebook/internal/metrics"
	"tablebook/internal/repository"
	"tablebook/internal/slots"
	"tablebook/internal/sweeper"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("TABLEBOOK_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	if err := run(cfg, &logger); err != nil {
		logger.Fatal().Err(err).Msg("tablebook stopped")
	}
	logger.Info().Msg("tablebook stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(cfg.Format, "console") {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	store, sqliteDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tables := repository.NewCachedTables(store, cfg.TableCacheTTL())
	if err := syncFloorPlan(ctx, cfg.FloorPlanPath, tables, logger); err != nil {
		return err
	}
	go func() {
		err := config.WatchFloorPlan(ctx, cfg.FloorPlanPath, cfg.FloorPlanReload(),
			func(fp *config.FloorPlan) {
				if _, err := repository.SyncFloorPlan(ctx, tables, fp.Tables(), logger); err != nil {
					logger.Error().Err(err).Msg("floor plan sync failed")
				}
			},
			func(err error) {
				logger.Error().Err(err).Str("path", cfg.FloorPlanPath).Msg("floor plan reload failed")
			})
		if err != nil {
			logger.Error().Err(err).Msg("floor plan watcher stopped")
		}
	}()

	var rdb *redis.Client
	var locker conflict.Locker = conflict.NewLocalLocker()
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		failover := conflict.NewFailoverLocker(
			conflict.NewRedisLocker(rdb, cfg.Redis.LockPrefix, cfg.LockTTL()),
			locker,
			logger,
		)
		failover.SetRetryAfter(cfg.FailoverCooldown())
		locker = failover
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis slot locks enabled")
	}

	catalog, err := slots.NewCatalog(cfg.Booking.TimeSlots, cfg.Location())
	if err != nil {
		return fmt.Errorf("time slots: %w", err)
	}
	index := conflict.NewIndex(locker, cfg.ReserveTimeout(), logger)
	checker := availability.NewChecker(tables, index, catalog, logger)

	hub := events.NewHub()
	bus := newBus(cfg, hub, logger)
	bus.Start()

	lifecycle := booking.NewLifecycle(store, checker, index, bus, booking.Config{
		DepositPerGuest: cfg.Booking.DepositPerGuest,
		CASRetries:      cfg.Booking.CASRetries,
	}, logger)
	if _, err := lifecycle.Recover(ctx); err != nil {
		return err
	}

	var sw *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		sw = sweeper.New(sweeper.Config{
			Interval:    cfg.SweepInterval(),
			Grace:       cfg.SweepGrace(),
			Parallelism: cfg.Sweeper.Parallelism,
		}, store, lifecycle, catalog, logger)
		sw.Start()
	}

	if sqliteDB != nil {
		backup := database.NewBackupService(sqliteDB, cfg.Backup, cfg.BackupInterval(), logger)
		go backup.Start(ctx)
	}

	healthChecker := health.NewChecker(time.Second, logger)
	healthChecker.Add("storage", health.PingCheck(store))
	if rdb != nil {
		healthChecker.Add("redis", health.RedisCheck(rdb))
	}
	go healthChecker.Watch(ctx, cfg.CheckInterval())
	defer healthChecker.Shutdown()

	if cfg.Monitoring.HealthCheckPort > 0 {
		go startHealthServer(ctx, cfg, healthChecker, logger)
	}
	if cfg.Monitoring.GRPCPort > 0 {
		go startGRPCServer(ctx, cfg.Monitoring.GRPCPort, healthChecker, logger)
	}
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg, logger)
	}

	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(lifecycle, checker, tables, hub, api.Config{
		RateLimit:    cfg.HTTP.RateLimitPerSecond,
		RateBurst:    cfg.HTTP.RateLimitBurst,
		StreamBuffer: cfg.Events.StreamBuffer,
	}, logger)

	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Strs("time_slots", cfg.Booking.TimeSlots).
		Str("timezone", cfg.Booking.Timezone).
		Msg("tablebook started")

	serveErr := server.Run(ctx, cfg.Addr(), cfg.ReadTimeout(), cfg.ShutdownTimeout())
	stop()
	if sw != nil {
		sw.Stop()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := bus.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("event bus did not drain")
	}
	return serveErr
}

// openStore returns the configured store and, for sqlite, the underlying database for backups.
func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.Store, *database.DB, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn().Msg("using in-memory storage, bookings are lost on restart")
		return repository.NewMemoryStore(), nil, nil
	case "sqlite":
		db, err := database.NewDB(cfg.Storage.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, db, nil
	case "postgres":
		gdb, err := repository.OpenPostgres(cfg.Storage.DSN, repository.PoolConfig{
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
		})
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewGormStore(gdb)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil, nil
	default:
		return nil, nil, errors.New("unknown storage driver " + cfg.Storage.Driver)
	}
}

func syncFloorPlan(ctx context.Context, path string, tables repository.TableStore, logger *zerolog.Logger) error {
	plan, err := config.LoadFloorPlan(path)
	if err != nil {
		return fmt.Errorf("floor plan: %w", err)
	}
	res, err := repository.SyncFloorPlan(ctx, tables, plan.Tables(), logger)
	if err != nil {
		return fmt.Errorf("sync floor plan: %w", err)
	}
	logger.Info().
		Str("plan", plan.String()).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("retired", res.Retired).
		Msg("floor plan applied")
	return nil
}

func newBus(cfg *config.Config, hub *events.Hub, logger *zerolog.Logger) *events.Bus {
	bus := events.NewBus(events.BusConfig{
		Workers:        cfg.Events.Workers,
		AttemptTimeout: cfg.EventAttemptTimeout(),
		Retry: events.RetryConfig{
			MaxAttempts: cfg.Events.MaxAttempts,
			Delays:      cfg.RetryDelays(),
		},
	}, logger)

	bus.Subscribe("stream", hub.Handle)
	if cfg.Events.LogEvents {
		bus.Subscribe("log", events.LogSink(logger))
	}
	if wh := cfg.Events.Webhook; wh.URL != "" {
		sink := events.NewWebhookSink(events.WebhookConfig{
			URL:       wh.URL,
			Secret:    wh.Secret,
			Timeout:   cfg.WebhookTimeout(),
			RateLimit: wh.RatePerSecond,
			Burst:     wh.Burst,
		})
		bus.Subscribe("webhook", sink.Handle)
	}
	if mq := cfg.Events.AMQP; mq.URL != "" {
		sink := events.NewAMQPSink(events.AMQPConfig{
			URL:      mq.URL,
			Exchange: mq.Exchange,
			Queue:    mq.Queue,
		}, logger)
		bus.Subscribe("amqp", sink.Handle)
	}
	return bus
}
