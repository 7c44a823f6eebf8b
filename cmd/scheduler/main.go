package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buildtrack/internal/handler"
	"buildtrack/internal/httpserver"
	"buildtrack/internal/repository"
	"buildtrack/internal/schedule"
	"buildtrack/internal/service"
	"buildtrack/pkg/circuitbreaker"
	"buildtrack/pkg/config"
	"buildtrack/pkg/db"
	"buildtrack/pkg/lock"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/mq"
	"buildtrack/pkg/otel"
	"buildtrack/pkg/outbox"
	redisclient "buildtrack/pkg/redis"
	"buildtrack/pkg/util"

	"go.uber.org/zap"
)

var version = "dev"

// eventStore outbox.Repository 和 outbox.MemoryStore 都实现
type eventStore interface {
	outbox.Store
	outbox.ReplayStore
}

// storage 一组按 driver 选出来的存储依赖
type storage struct {
	store   repository.Store
	events  eventStore
	locker  lock.Locker
	claims  util.OnceClaimer
	closeFn func()
}

func main() {
	cfg, err := config.Load(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Server.LogLevel)
	defer log.Sync()

	log.Info("Starting scheduler...",
		zap.String("version", version),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("port", cfg.Server.Port),
	)

	shutdownTracing, err := otel.Init(cfg.OTel, version, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	weekend, err := schedule.ParseWeekend(cfg.Schedule.Weekend)
	if err != nil {
		log.Fatal("Invalid weekend configuration", zap.Error(err))
	}
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		log.Fatal("Invalid timezone", zap.String("timezone", cfg.Schedule.Timezone), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st storage
	switch cfg.Storage.Driver {
	case "postgres":
		st = openPostgres(ctx, cfg, log)
	case "memory":
		st = openMemory(cfg)
	default:
		log.Fatal("Unknown storage driver", zap.String("driver", cfg.Storage.Driver))
	}
	defer st.closeFn()

	// MQ Publisher，给 outbox dispatcher 用
	log.Info("Initializing MQ publisher...", zap.String("exchange", cfg.MQ.Exchange))
	publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
	if err != nil {
		if cfg.Storage.Driver == "postgres" {
			log.Fatal("Failed to init publisher", zap.Error(err))
		}
		// memory 模式下没有 broker 也能跑，事件留在 outbox 里
		log.Warn("MQ publisher unavailable, events stay in outbox", zap.Error(err))
		publisher = nil
	}
	if publisher != nil {
		defer publisher.Close()
		breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
		dispatcher := outbox.NewDispatcher(st.events, publisher, log).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize).
			WithMaxRetries(cfg.Outbox.MaxRetries).
			WithBreaker(breaker)
		go dispatcher.Start(ctx)
		log.Info("Outbox dispatcher started", zap.Duration("interval", cfg.Outbox.Interval))
	}

	svc := service.NewScheduler(st.store, st.locker, service.Options{
		Weekend:          weekend,
		Clock:            schedule.SystemClock{Location: loc},
		OperationTimeout: cfg.Schedule.OperationTimeout,
		Claims:           st.claims,
		Logger:           log,
	})

	deps := httpserver.Deps{
		Projects:  handler.NewProjectHandler(svc, log),
		Schedules: handler.NewScheduleHandler(svc, log),
		Holidays:  handler.NewHolidayHandler(svc, log),
		Admin:     handler.NewAdminHandler(outbox.NewReplayService(st.events, log), log),
		Store:     st.store,
		JWTSecret: cfg.JWT.Secret,
		Limiter:   httpserver.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		Logger:    log,
	}
	if publisher != nil {
		deps.Publisher = publisher
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpserver.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down scheduler...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Scheduler shutdown complete")
}

func openPostgres(ctx context.Context, cfg *config.Config, log *zap.Logger) storage {
	log.Info("Initializing database connection...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
	)
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}
	log.Info("Database connection established successfully")

	log.Info("Initializing Redis...", zap.String("addr", cfg.Redis.Addr))
	rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}

	return storage{
		store:  store,
		events: outbox.NewRepository(pool),
		locker: lock.NewRedisLocker(rdb, cfg.Schedule.LockTTL, log),
		claims: util.NewDeduperWithLogger(rdb, cfg.Schedule.IdempotencyTTL, log),
		closeFn: func() {
			_ = rdb.Close()
			pool.Close()
		},
	}
}

func openMemory(cfg *config.Config) storage {
	events := outbox.NewMemoryStore()
	store := repository.NewMemoryStore(events)
	return storage{
		store:   store,
		events:  events,
		locker:  lock.NewMemoryLocker(),
		claims:  util.NewMemoryDeduper(cfg.Schedule.IdempotencyTTL),
		closeFn: func() {},
	}
}
