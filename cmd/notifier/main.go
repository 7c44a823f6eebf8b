package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	contracts "buildtrack/contracts/mq"
	"buildtrack/internal/httpserver"
	"buildtrack/internal/mqhandler"
	"buildtrack/pkg/config"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/mq"
	"buildtrack/pkg/otel"
	redisclient "buildtrack/pkg/redis"
	"buildtrack/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var version = "dev"

const retryCounterTTL = time.Hour

func main() {
	cfg, err := config.Load(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Server.LogLevel)
	defer log.Sync()

	log.Info("Starting notifier...",
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("queue", cfg.MQ.Queue),
		zap.Strings("routing_keys", contracts.AllRoutingKeys),
	)

	shutdownTracing, err := otel.Init(cfg.OTel, version, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis 不可用时降级为进程内去重，重试计数关闭
	var (
		deduper util.OnceClaimer
		retries mqhandler.RetryCounter
	)
	rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("Redis unavailable, falling back to in-memory dedup", zap.Error(err))
		deduper = util.NewMemoryDeduper(cfg.Schedule.IdempotencyTTL)
	} else {
		defer rdb.Close()
		deduper = util.NewDeduperWithLogger(rdb, cfg.Schedule.IdempotencyTTL, log)
		retries = util.NewRetryCounter(rdb, retryCounterTTL)
	}

	log.Info("Initializing DLQ publisher...")
	publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
	if err != nil {
		log.Fatal("Failed to init DLQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	notifications := mqhandler.NewNotificationHandler(mqhandler.NewLogDelivery(log), deduper, retries, publisher, log)

	log.Info("Initializing MQ consumer...",
		zap.String("exchange", cfg.MQ.Exchange),
		zap.String("queue", cfg.MQ.Queue),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.Exchange, cfg.MQ.Queue, contracts.AllRoutingKeys, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(notifications.Handle)

	go func() {
		log.Info("Starting notification consumer...")
		if err := consumer.StartConsuming(ctx); err != nil && ctx.Err() == nil {
			log.Fatal("Notification consumer failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.NotifierPort,
		Handler:           newProbeRouter(consumer, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Probe server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Probe server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down notifier...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Probe server shutdown failed", zap.Error(err))
	}
	log.Info("Notifier shutdown complete")
}

// newProbeRouter 只有健康检查和 metrics
func newProbeRouter(consumer httpserver.Connectivity, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpserver.TraceMiddleware())
	r.Use(httpserver.RequestLogMiddleware(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if !consumer.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
