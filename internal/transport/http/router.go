package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roxmail/backend/internal/config"
	"roxmail/backend/internal/health"
	"roxmail/backend/internal/identity"
	"roxmail/backend/internal/middleware"
	"roxmail/backend/internal/monitoring"
	"roxmail/backend/internal/service"
	"roxmail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Delivery      *service.DeliveryService
	Mailbox       *service.MailboxService
	Welcome       *service.WelcomeService
	Notifications *service.NotificationService
	Identity      *identity.Client
	Sessions      middleware.SessionCache
	Hub           *websocket.Hub      // 可选
	Metrics       *monitoring.Metrics // 可选
	Health        *health.Checker     // 可选
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger, deps.Metrics))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.SendBodyLimit))

	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
		router.Use(mm.HTTPMetrics())
		router.Use(mm.BusinessMetrics())
		router.Use(mm.SystemMetrics())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器与中间件
	mailHandler := NewMailHandler(deps.Delivery, deps.Mailbox, deps.Welcome, deps.Logger)
	notificationHandler := NewNotificationHandler(deps.Notifications, deps.Logger)
	accountHandler := NewAccountHandler(deps.Identity, deps.Sessions, &deps.Config.Session, deps.Logger)
	sessionAuth := middleware.NewSessionAuth(deps.Identity, deps.Sessions, &deps.Config.Session, deps.Logger)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Health != nil {
		router.GET("/live", gin.WrapF(deps.Health.Live()))
		router.GET("/ready", gin.WrapF(deps.Health.Ready()))
	}

	// Prometheus 指标
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("/api")
	api.Use(middleware.ValidateContentType("application/json"))
	{
		// 无需认证的会话端点
		api.POST("/set-token", accountHandler.SetToken)
		api.POST("/logout", accountHandler.Logout)

		// 需要认证的端点
		authed := api.Group("")
		authed.Use(sessionAuth.Handler())
		{
			authed.GET("/user", accountHandler.GetUser)

			authed.POST("/send-email", mailHandler.SendEmail)
			authed.GET("/emails", mailHandler.ListInbox)
			authed.GET("/sent-emails", mailHandler.ListSent)
			authed.GET("/email/:emailId", mailHandler.GetEmail)
			authed.POST("/star-email", mailHandler.StarEmail)
			authed.POST("/mark-read", mailHandler.MarkRead)
			authed.POST("/delete-email", mailHandler.DeleteEmail)
			authed.POST("/send-welcome-email", mailHandler.SendWelcomeEmail)
			authed.POST("/cleanup-emails", mailHandler.CleanupEmails)

			authed.POST("/subscribe-notifications", notificationHandler.Subscribe)
			authed.GET("/notifications", notificationHandler.List)
			authed.POST("/mark-notification-read", notificationHandler.MarkRead)
		}
	}

	// WebSocket 实时通知
	if deps.Hub != nil {
		router.GET("/ws", websocket.HandleWebSocket(deps.Hub, deps.Config.Session.CookieName))
	}

	return router
}
