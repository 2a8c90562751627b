package api

import (
	"flowdeck/internal/api/handler"
	"flowdeck/internal/api/middleware"
	"flowdeck/internal/types"
	"flowdeck/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* App 应用上下文别名，router 与 handler 共用 */
type App = types.App

/*
SetupRouter 设置路由
功能：装配全局中间件链与 API 路由。限流中间件按路由组绑定
不同预设：认证路由用严格的 auth 预设且在认证之前执行
（未认证请求也要限流），业务路由在认证之后执行以获得
用户维度配额。
*/
func SetupRouter(app *App, wsServer *ws.Server) *gin.Engine {
	if app.Config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodyLimit(2 << 20)) /* 2MB 请求体上限，防止 OOM */
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(app.Config.Server.CORSAllowedOrigins))

	/*
		Prometheus /metrics 包含敏感运行指标，仅允许本地/内网访问，
		生产环境应通过反向代理进一步限制。
	*/
	router.GET("/metrics", localOnlyGuard(), gin.WrapH(promhttp.Handler()))

	authHandler := handler.NewAuthHandler(app)
	sessionHandler := handler.NewSessionHandler(app)
	systemHandler := handler.NewSystemHandler(app)

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", systemHandler.Health)

		// 认证路由（限流在认证之前，未认证请求也消耗配额）
		auth := v1.Group("/auth")
		auth.Use(middleware.RateLimit(app.Limiter, "auth"))
		{
			auth.POST("/login", authHandler.Login)
		}

		// 需要会话认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.SessionAuth(app.Sessions))
		{
			authorized.POST("/auth/logout", authHandler.Logout)
			authorized.GET("/auth/me", middleware.RateLimit(app.Limiter, "read"), authHandler.Me)

			// 会话管理
			sessions := authorized.Group("/sessions")
			sessions.Use(middleware.RateLimit(app.Limiter, "api"))
			{
				sessions.GET("", sessionHandler.ListMySessions)
				sessions.DELETE("/:id", sessionHandler.RevokeMySession)
			}

			// 管理员路由
			admin := authorized.Group("/admin")
			admin.Use(middleware.AdminAuth())
			{
				admin.GET("/users/:id/sessions", sessionHandler.ListUserSessions)
				admin.POST("/users/:id/force-logout", sessionHandler.ForceLogout)
				admin.GET("/breakers", systemHandler.ListBreakers)
				admin.POST("/breakers/:key/reset", systemHandler.ResetBreaker)
				admin.GET("/rate-limit", systemHandler.RateLimitStatus)

				// 管理端实时事件流（熔断/会话失效）
				admin.GET("/events/ws", wsServer.HandleWebSocket)
			}
		}
	}

	return router
}

/*
localOnlyGuard 本地访问限制中间件
功能：仅允许 127.0.0.1 / ::1 / localhost 访问，
用于保护 /metrics 等敏感运维端点。
生产环境应额外通过反向代理限制访问。
*/
func localOnlyGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip != "127.0.0.1" && ip != "::1" && ip != "localhost" {
			c.JSON(403, gin.H{
				"success": false,
				"message": "此端点仅允许本地访问",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
