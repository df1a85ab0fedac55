package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

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
	"roxmail/backend/internal/storage/memory"
	httptransport "roxmail/backend/internal/transport/http"
	"roxmail/backend/internal/websocket"
)

// main 是后端 HTTP 服务的程序入口（仅 HTTP API，不含 SMTP）。
//
// 开发调试用，固定使用内存存储。
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
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()
	log.Info("starting roxmail API server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store := memory.NewStore()
	log.Info("using memory storage")
	sessions := cache.NewSessionCache(store)

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, cfg.Identity.BaseURL, log)

	identityClient := identity.New(&cfg.Identity, log)
	pushClient := push.New(&cfg.Push, log)

	workerPool := pool.NewWorkerPool(2, 256, log)
	activityWriter := service.NewAsyncActivityWriter(store, workerPool, log)

	sanitizer := security.NewSanitizer()
	limiter := service.NewSendLimiter(store, int64(cfg.Mail.HourlySendLimit), log)
	notificationService := service.NewNotificationService(store, store, activityWriter, pushClient, log)
	notificationService.SetMetrics(metrics)
	deliveryService := service.NewDeliveryService(store, activityWriter, limiter, identityClient, notificationService, sanitizer, log)
	deliveryService.SetMetrics(metrics)
	mailboxService := service.NewMailboxService(store, activityWriter, sanitizer, log)
	welcomeService := service.NewWelcomeService(store, notificationService, &cfg.Mail, log)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, identityClient, log)
	notificationService.SetBroadcaster(wsHub)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerPool.Start(ctx)
	go wsHub.Run(ctx)

	go func() {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	workerPool.Stop()

	log.Info("server exited cleanly")
}
