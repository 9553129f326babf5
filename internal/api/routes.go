package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/formflow-gin/internal/auth"
	"github.com/mautops/formflow-gin/internal/blob"
	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/service"
	"github.com/mautops/formflow-gin/internal/websocket"
	"gorm.io/gorm"
)

// RouterConfig 路由依赖
type RouterConfig struct {
	DB              *gorm.DB
	BlobStore       blob.Store
	Hub             *websocket.Hub
	Authenticator   auth.Authenticator
	FormService     service.FormService
	TemplateService service.TemplateService
	AuditLogService service.AuditLogService
	CORS            config.CORSConfig
	RateLimit       config.RateLimitConfig
	// Production 开启 HSTS 等仅适用于生产部署的响应头
	Production bool
}

// SetupRoutes 配置路由
func SetupRoutes(rc RouterConfig) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory

	// 中间件
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware())
	router.Use(CORSMiddleware(rc.CORS))
	router.Use(SecurityHeadersMiddleware(rc.Production))
	router.Use(ErrorHandlerMiddleware())

	// 健康检查
	healthController := NewHealthController(rc.DB, rc.BlobStore)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// WebSocket 路由,令牌通过 query 参数传递
	if rc.Hub != nil && rc.Authenticator != nil {
		router.GET("/ws", websocket.WebSocketHandler(rc.Hub, rc.Authenticator, websocket.NewUpgrader(rc.CORS.AllowedOrigins)))
	}

	// API v1 路由组
	v1 := router.Group("/api/v1")
	v1.Use(auth.AuthMiddleware(rc.Authenticator))
	if rc.RateLimit.Enabled {
		// 认证之后按用户限流
		v1.Use(RateLimitMiddleware(rc.RateLimit.RequestsPerSecond, rc.RateLimit.Burst))
	}
	{
		formController := NewFormController(rc.FormService)
		forms := v1.Group("/forms")
		{
			forms.POST("", formController.Create)
			forms.GET("", formController.List)
			forms.GET("/:id", formController.Get)
			forms.PUT("/:id", formController.Update)
			forms.DELETE("/:id", formController.Delete)
			forms.PATCH("/:id/submit", formController.Submit)
			forms.PATCH("/:id/review", formController.Review)
			forms.PATCH("/:id/decide", formController.Decide)
			forms.POST("/:id/comments", formController.AddComment)
			forms.GET("/:id/attachments/:blobId", formController.Download)
			forms.GET("/:id/attachments/:blobId/view", formController.View)
		}

		if rc.TemplateService != nil {
			templateController := NewTemplateController(rc.TemplateService)
			templates := v1.Group("/templates")
			{
				templates.GET("", templateController.List)
				templates.GET("/:id", templateController.Get)
			}
		}

		if rc.AuditLogService != nil {
			v1.GET("/audit-logs", NewAuditController(rc.AuditLogService).List)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "the requested route does not exist")
	})

	return router
}
