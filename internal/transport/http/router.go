package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"testinbox/backend/internal/config"
	"testinbox/backend/internal/health"
	"testinbox/backend/internal/middleware"
	"testinbox/backend/internal/monitoring"
	"testinbox/backend/internal/service"
	"testinbox/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	InboxService   *service.InboxService
	MessageService *service.MessageService
	WebSocketHub   *websocket.Hub        // 可选
	Health         *health.HealthChecker // 可选
	Metrics        *monitoring.Metrics   // 可选
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(mm.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowOrigins = nil
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	inboxHandler := NewInboxHandler(deps.InboxService)
	messageHandler := NewMessageHandler(deps.MessageService)
	configHandler := NewConfigHandler(deps.Config)

	// 健康检查
	if deps.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			report := deps.Health.CheckHealth()
			status := http.StatusOK
			if report.Status == "error" {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, report)
		})
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/config", configHandler.GetConfig)

		inboxRoutes := v1.Group("/inboxes")
		{
			inboxRoutes.GET("", inboxHandler.List)
			inboxRoutes.POST("", inboxHandler.Create)
			inboxRoutes.GET("/:id", inboxHandler.Get)
			inboxRoutes.DELETE("/:id", inboxHandler.Delete)
		}

		v1.GET("/emails/:address", messageHandler.ListByAddress)

		messageRoutes := v1.Group("/messages")
		{
			messageRoutes.GET("/:id", messageHandler.Get)
			messageRoutes.PUT("/:id/enrichment",
				middleware.ValidateContentType("application/json"),
				messageHandler.ApplyEnrichment)
			messageRoutes.POST("/:id/analyze", messageHandler.Analyze)
		}

		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
