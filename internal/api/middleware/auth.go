package middleware

import (
	"strings"

	"flowdeck/internal/api/response"
	"flowdeck/internal/service"

	"github.com/gin-gonic/gin"
)

/*
SessionAuth 返回会话认证中间件
功能：从 Authorization 头提取 Bearer 令牌，交由会话服务验证
（签名、有效期、指纹、撤销状态），通过后将用户快照注入
Gin 上下文供后续 handler 使用，并顺带记录会话活动（尽力而为，
不阻塞请求）。验证失败统一返回 401，不区分失败原因。
*/
func SessionAuth(sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.GinUnauthorized(c, "缺少认证令牌")
			c.Abort()
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			response.GinUnauthorized(c, "认证头格式无效，需 Bearer <token>")
			c.Abort()
			return
		}

		clientCtx := &service.ClientContext{
			IP:        ResolveClientIP(c),
			UserAgent: c.GetHeader("User-Agent"),
		}

		session, err := sessions.VerifySession(c.Request.Context(), tokenStr, clientCtx)
		if err != nil || session == nil {
			response.GinUnauthorized(c, "无效或已过期的令牌")
			c.Abort()
			return
		}

		c.Set("user_id", session.UserID)
		c.Set("username", session.UserName)
		c.Set("user_email", session.UserEmail)
		c.Set("role", string(session.UserRole))
		c.Set("session_id", session.ID)
		c.Set("session_token", tokenStr)

		/* 活动记录异步执行，失败不影响请求 */
		go sessions.TrackSessionActivity(tokenStr, clientCtx.IP, clientCtx.UserAgent)

		c.Next()
	}
}

/*
AdminAuth 管理员权限中间件
功能：检查认证中间件设置的 role 字段是否为 admin
*/
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			response.GinForbidden(c, "Admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}
