package router

import (
	"github.com/gin-gonic/gin"
	"github.com/jobifycvut/jobify-bot/internal/handler"
	"github.com/jobifycvut/jobify-bot/internal/middleware"
	"github.com/jobifycvut/jobify-bot/internal/service"
)

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers, svc *service.Services) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1
	v1 := r.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(svc.Config.Gateway.AuthSecret))
	{
		// Event 入站事件
		events := v1.Group("/events")
		{
			events.POST("", h.Event.Submit)
			events.POST("/sync", h.Event.DispatchSync)
		}

		// Session 会话
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", h.Session.ListSessions)
			sessions.GET("/:id/messages", h.Session.GetMessages)
			sessions.POST("/reset", h.Session.Reset)
		}
	}

	return r
}
