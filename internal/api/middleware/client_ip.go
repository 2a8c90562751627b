package middleware

import (
	"net"
	"strings"

	"flowdeck/internal/service"

	"github.com/gin-gonic/gin"
)

/*
ResolveClientIP 解析客户端真实 IP
功能：按信任度依次检查代理转发头，服务部署在反向代理后时
取真实客户端地址而非代理地址：
 1. X-Forwarded-For 的第一个条目（最初的客户端）
 2. X-Real-IP
 3. CF-Connecting-IP（Cloudflare）
 4. TCP 连接远端地址

全部缺失时返回 "unknown"，保证限流键永不为空——
空键会让所有无法识别的客户端共享同一配额桶。
*/
func ResolveClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		/* 多级代理逗号分隔，第一个是最初客户端 */
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(c.GetHeader("CF-Connecting-IP")); ip != "" {
		return ip
	}

	if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil && host != "" {
		return host
	}
	if c.Request.RemoteAddr != "" {
		return c.Request.RemoteAddr
	}

	return "unknown"
}

/*
ResolveIdentity 组装限流用的客户端身份
功能：IP 始终可用；用户 ID 与角色来自认证中间件注入的上下文，
未认证请求二者为空，限流退化为纯 IP 维度。
*/
func ResolveIdentity(c *gin.Context) service.ClientIdentity {
	return service.ClientIdentity{
		IP:     ResolveClientIP(c),
		UserID: GetUserID(c),
		Role:   GetRole(c),
	}
}
