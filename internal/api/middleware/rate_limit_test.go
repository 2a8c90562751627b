package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"flowdeck/internal/config"
	"flowdeck/internal/service"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := service.NewRateLimiter(config.RateLimitConfig{
		Enabled:     true,
		AdminBypass: true,
		Presets: map[string]config.RateLimitPreset{
			"api": {MaxRequests: 2, WindowMs: 60000, KeyPrefix: "rl:api"},
		},
	}, nil)

	r := gin.New()
	r.GET("/ping", RateLimit(limiter, "api"), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func doRequest(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Real-IP", ip)
	r.ServeHTTP(w, req)
	return w
}

/*
TestRateLimitMiddleware_HeadersOnAllow 放行请求也回写限流响应头
*/
func TestRateLimitMiddleware_HeadersOnAllow(t *testing.T) {
	r := newLimitedRouter(t)

	w := doRequest(r, "203.0.113.7")
	if w.Code != http.StatusOK {
		t.Fatalf("首个请求应放行: %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("Limit 头不匹配: %s", w.Header().Get("X-RateLimit-Limit"))
	}
	if w.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Errorf("Remaining 头不匹配: %s", w.Header().Get("X-RateLimit-Remaining"))
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("Reset 头不应为空")
	}
}

/*
TestRateLimitMiddleware_RejectsOverLimit 超限请求返回 429 与 Retry-After
*/
func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	r := newLimitedRouter(t)

	for i := 0; i < 2; i++ {
		if w := doRequest(r, "203.0.113.7"); w.Code != http.StatusOK {
			t.Fatalf("请求 %d 应放行: %d", i, w.Code)
		}
	}

	w := doRequest(r, "203.0.113.7")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("超限请求应返回 429: %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("超限后 Remaining 应为 0: %s", w.Header().Get("X-RateLimit-Remaining"))
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After 应为正整数秒: %q", w.Header().Get("Retry-After"))
	}
}

/*
TestRateLimitMiddleware_ClientsIsolated 不同客户端配额互不影响
*/
func TestRateLimitMiddleware_ClientsIsolated(t *testing.T) {
	r := newLimitedRouter(t)

	for i := 0; i < 2; i++ {
		doRequest(r, "203.0.113.7")
	}
	if w := doRequest(r, "203.0.113.7"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("第一个客户端应已超限: %d", w.Code)
	}

	if w := doRequest(r, "198.51.100.9"); w.Code != http.StatusOK {
		t.Errorf("另一个客户端不应受影响: %d", w.Code)
	}
}
