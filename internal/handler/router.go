package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置管理接口路由
func SetupRouter(admin AdminService, conns ConnectionCounter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(admin, conns)

	api := r.Group("/api/v1")
	{
		api.GET("/items", h.ListItems)
		api.GET("/sessions", h.ListSessions)
		api.GET("/accounts/:nickname", h.GetAccount)
	}

	r.GET("/health", h.Health)

	return r
}
