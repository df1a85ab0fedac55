package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"roxmail/backend/internal/cache"
	"roxmail/backend/internal/config"
	"roxmail/backend/internal/health"
	"roxmail/backend/internal/identity"
	"roxmail/backend/internal/logger"
	"roxmail/backend/internal/monitoring"
	"roxmail/backend/internal/pool"
	"roxmail/backend/internal/push"
	"roxmail/backend/internal/security"
	"roxmail/backend/internal/service"
	"roxmail/backend/internal/smtp"
	"roxmail/backend/internal/storage"
	"roxmail/backend/internal/storage/gormstore"
	"roxmail/backend/internal/storage/memory"
	redisstore "roxmail/backend/internal/storage/redis"
	httptransport "roxmail/backend/internal/transport/http"
	"roxmail/backend/internal/websocket"
)

// main 启动同时包含 HTTP API 与入站 SMTP 的综合投递服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()
	log.Info("starting roxmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store := initializeStorage(cfg, log)
	defer store.Close()
	sessions := cache.NewSessionCache(store)

	// 监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, cfg.Identity.BaseURL, log)

	// 外部依赖客户端
	identityClient := identity.New(&cfg.Identity, log)
	pushClient := push.New(&cfg.Push, log)

	// 后台任务池，承载审计落盘
	workerPool := pool.NewWorkerPool(4, 1024, log)
	activityWriter := service.NewAsyncActivityWriter(store, workerPool, log)

	// 业务服务
	sanitizer := security.NewSanitizer()
	limiter := service.NewSendLimiter(store, int64(cfg.Mail.HourlySendLimit), log)
	notificationService := service.NewNotificationService(store, store, activityWriter, pushClient, log)
	notificationService.SetMetrics(metrics)
	deliveryService := service.NewDeliveryService(store, activityWriter, limiter, identityClient, notificationService, sanitizer, log)
	deliveryService.SetMetrics(metrics)
	mailboxService := service.NewMailboxService(store, activityWriter, sanitizer, log)
	welcomeService := service.NewWelcomeService(store, notificationService, &cfg.Mail, log)

	// WebSocket Hub，实时推送通知记录
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, identityClient, log)
	notificationService.SetBroadcaster(wsHub)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Delivery:      deliveryService,
		Mailbox:       mailboxService,
		Welcome:       welcomeService,
		Notifications: notificationService,
		Identity:      identityClient,
		Sessions:      sessions,
		Hub:           wsHub,
		Metrics:       metrics,
		Health:        healthChecker,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 入站 SMTP 服务器
	contentFilter := security.NewContentFilter()
	smtpBackend := smtp.NewBackend(deliveryService, identityClient, contentFilter, cfg.SMTP.LocalDomains, log)
	smtpBackend.SetConnectionLimiter(smtp.NewConnectionLimiter(100, 20))

	smtpServer := gosmtp.NewServer(smtpBackend)
	smtpServer.Addr = cfg.SMTP.BindAddr
	smtpServer.Domain = cfg.SMTP.Domain
	smtpServer.ReadTimeout = 10 * time.Second
	smtpServer.WriteTimeout = 10 * time.Second
	smtpServer.MaxMessageBytes = 10 * 1024 * 1024
	smtpServer.MaxRecipients = 50

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerPool.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
			zap.Strings("local_domains", cfg.SMTP.LocalDomains),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭
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

		workerPool.Stop()
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储后端。
//
// 优先级：PostgreSQL（配置了 DSN）、Redis、内存。
// Redis 连接失败时退回内存存储，保证开发环境零依赖可启动。
func initializeStorage(cfg *config.Config, log *zap.Logger) storage.Store {
	if cfg.Database.DSN != "" {
		store, err := gormstore.NewStore(&cfg.Database, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using postgres storage")
		return store
	}

	if cfg.Redis.Address != "" {
		store, err := redisstore.NewStore(&cfg.Redis, log)
		if err == nil {
			log.Info("using redis storage", zap.String("address", cfg.Redis.Address))
			return store
		}
		log.Warn("redis unavailable, falling back to memory storage", zap.Error(err))
	}

	log.Info("using memory storage (development mode)")
	return memory.NewStore()
}
