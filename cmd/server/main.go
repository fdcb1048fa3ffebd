package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"testinbox/backend/internal/config"
	"testinbox/backend/internal/enrichment"
	"testinbox/backend/internal/health"
	"testinbox/backend/internal/logger"
	"testinbox/backend/internal/monitoring"
	"testinbox/backend/internal/pool"
	"testinbox/backend/internal/service"
	"testinbox/backend/internal/smtp"
	"testinbox/backend/internal/storage/memory"
	"testinbox/backend/internal/storage/redis"
	httptransport "testinbox/backend/internal/transport/http"
	"testinbox/backend/internal/websocket"
)

// enrichmentQueueSize 自动分析任务队列长度，队列满时丢弃任务
const enrichmentQueueSize = 256

// main 启动同时包含 HTTP API 与 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting testinbox server",
		zap.String("domain", cfg.Mailbox.Domain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	startedAt := time.Now()

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := memory.NewStore()
	metrics := monitoring.NewMetrics()

	// 可选的 Redis 事件推送
	var (
		redisClient *redis.Client
		redisPinger health.Pinger
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, log)
		if err != nil {
			// Redis 只用于事件推送，连接失败不影响收信
			log.Warn("redis unavailable, event publishing disabled", zap.Error(err))
		} else {
			redisPinger = redisClient
		}
	}

	healthChecker := health.NewHealthChecker(store, redisPinger, log)

	// 内容分析
	var enricher enrichment.Enricher = enrichment.Disabled{}
	if cfg.Enrichment.Enabled() {
		enricher = enrichment.NewClient(cfg.Enrichment, log.Named("enrichment"))
		log.Info("enrichment enabled",
			zap.String("endpoint", cfg.Enrichment.Endpoint),
			zap.Bool("auto", cfg.Enrichment.Auto),
			zap.Float64("rate_per_second", cfg.Enrichment.RatePerSecond),
		)
	}
	workers := pool.NewWorkerPool(cfg.Enrichment.Workers, enrichmentQueueSize, log.Named("pool"))

	// 初始化服务层
	inboxService := service.NewInboxService(store, cfg.Mailbox, metrics, log.Named("inbox"))
	messageService := service.NewMessageService(store, enricher, workers,
		cfg.Enrichment.Auto && cfg.Enrichment.Enabled(), metrics, log.Named("message"))

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log.Named("websocket"), metrics)

	deliveryService := service.NewDeliveryService(store, metrics, log.Named("delivery"), wsHub, messageService)
	if redisClient != nil {
		deliveryService.AddNotifier(redis.NewPublisher(redisClient, cfg.Redis.Channel, log.Named("redis")))
	}

	// 创建 HTTP 服务器
	httpAddr := cfg.Server.Addr()
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		InboxService:   inboxService,
		MessageService: messageService,
		WebSocketHub:   wsHub,
		Health:         healthChecker,
		Metrics:        metrics,
		Logger:         log.Named("http"),
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 创建 SMTP 服务器
	smtpBackend := smtp.NewBackend(deliveryService, cfg.SMTP.MaxMessageBytes, metrics, log.Named("smtp"))
	smtpServer := smtp.NewServer(smtpBackend, cfg.SMTP)

	group, groupCtx := errgroup.WithContext(ctx)

	workers.Start(groupCtx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("hostname", cfg.SMTP.Hostname),
		)
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理过期收件箱与孤儿邮件 goroutine
	group.Go(func() error {
		interval := cfg.Mailbox.CleanupInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Info("starting expired inbox cleanup task",
			zap.Duration("interval", interval),
			zap.Duration("inbox_ttl", cfg.Mailbox.TTL),
			zap.Duration("orphan_ttl", cfg.Mailbox.OrphanTTL),
		)

		for {
			select {
			case <-groupCtx.Done():
				log.Info("cleanup task stopped")
				return nil
			case <-ticker.C:
				inboxService.Cleanup()
			}
		}
	})

	// 运行时长指标 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateSystemUptime(time.Since(startedAt))
			}
		}
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		workers.Stop()

		if redisClient != nil {
			_ = redisClient.Close()
		}
		if err := store.Close(); err != nil {
			log.Warn("store close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
