package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "botmail/backend/internal/auth/jwt"
	"botmail/backend/internal/config"
	"botmail/backend/internal/health"
	"botmail/backend/internal/middleware"
	"botmail/backend/internal/monitoring"
	"botmail/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	BotService     *service.BotService
	HandleService  *service.HandleService
	QuotaService   *service.QuotaService
	RelayService   *service.RelayService
	InboundService *service.InboundService
	MessageService *service.MessageService
	AbuseService   *service.AbuseService
	JWTManager     *jwtpkg.Manager
	HealthChecker  *health.HealthChecker
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger, deps.Metrics))
	router.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(10 * 1024 * 1024))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 允许所有来源时必须关闭凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	botHandler := NewBotHandler(deps.BotService, deps.QuotaService, deps.HandleService, deps.Metrics)
	handleHandler := NewHandleHandler(deps.HandleService)
	relayHandler := NewRelayHandler(deps.RelayService, deps.MessageService, deps.QuotaService)
	webhookHandler := NewWebhookHandler(deps.InboundService, deps.Logger)
	adminHandler := NewAdminHandler(deps.JWTManager, deps.AbuseService, deps.Logger)

	botAuth := middleware.NewBotAuth(deps.BotService, deps.Logger)
	adminAuth := middleware.NewAdminAuth(deps.JWTManager, deps.Logger)
	rateLimiter := middleware.NewRateLimiter(
		deps.Config.RateLimit.RequestsPerSecond,
		deps.Config.RateLimit.Burst,
	)

	// 运维端点
	if deps.HealthChecker != nil {
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := router.Group("/v1")
	{
		// 注册与认领（IP 限流）
		public := v1.Group("", rateLimiter.Limit())
		{
			public.POST("/bots/register", botHandler.Register)
			public.POST("/bots/claim", botHandler.Claim)
			public.POST("/handles", handleHandler.Reserve)
			public.PATCH("/handles/:id", handleHandler.Update)
			public.POST("/handles/:id/link", handleHandler.Link)
		}

		// 上游投递回调
		v1.POST("/inbound/webhook", rateLimiter.Limit(), webhookHandler.Inbound)

		// 机器人 API（X-API-Key）
		relay := v1.Group("/relay", botAuth.RequireBot())
		{
			relay.GET("/me", botHandler.Me)
			relay.POST("/send", relayHandler.Send)
			relay.GET("/inbox", relayHandler.Inbox)
			relay.GET("/messages", relayHandler.List)
			relay.GET("/messages/:id", relayHandler.Get)
			relay.GET("/unread", relayHandler.Unread)
			relay.GET("/quota", relayHandler.Quota)
		}

		// 管理端
		v1.POST("/admin/login", adminHandler.Login)
		admin := v1.Group("/admin", adminAuth.RequireAdmin())
		{
			admin.GET("/alerts", adminHandler.ListAlerts)
			admin.GET("/alerts/:id", adminHandler.GetAlert)
			admin.POST("/alerts/:id/approve", adminHandler.ApproveAlert)
			admin.POST("/alerts/:id/ignore", adminHandler.IgnoreAlert)
			admin.POST("/scan", adminHandler.TriggerScan)
		}
	}

	return router
}
