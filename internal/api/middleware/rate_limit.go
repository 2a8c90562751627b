package middleware

import (
	"strconv"

	"flowdeck/internal/api/response"
	"flowdeck/internal/service"

	"github.com/gin-gonic/gin"
)

/*
RateLimit 返回限流中间件
功能：按路由绑定的预设（auth/api/read/ai）检查当前客户端的
请求配额。无论放行还是拒绝都回写限流响应头，客户端可据此
自适应退避：
  - X-RateLimit-Limit: 窗口配额上限
  - X-RateLimit-Remaining: 剩余配额
  - X-RateLimit-Reset: 配额重置的 Unix 秒时间戳
  - Retry-After: 仅拒绝时返回，建议等待秒数

认证路由应放在认证中间件之前（未认证请求也要限流），
业务路由放在认证中间件之后以获得用户维度配额。
*/
func RateLimit(limiter *service.RateLimiter, presetName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := ResolveIdentity(c)
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		result, err := limiter.Enforce(c.Request.Context(), identity, endpoint, presetName)

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if err != nil {
			if rlErr, ok := err.(*service.RateLimitError); ok {
				c.Header("Retry-After", strconv.Itoa(int(rlErr.RetryAfter.Seconds())+1))
			}
			response.GinTooManyRequests(c, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}

		c.Next()
	}
}
