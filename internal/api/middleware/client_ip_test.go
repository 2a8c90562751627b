package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	return c, w
}

/*
TestResolveClientIP_HeaderPrecedence 代理头按信任度取第一个可用值
*/
func TestResolveClientIP_HeaderPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "XFF 优先且取第一个条目",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Real-IP": "198.51.100.1"},
			remoteAddr: "10.0.0.2:443",
			want:       "203.0.113.7",
		},
		{
			name:       "无 XFF 时取 X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "198.51.100.1", "CF-Connecting-IP": "192.0.2.9"},
			remoteAddr: "10.0.0.2:443",
			want:       "198.51.100.1",
		},
		{
			name:       "Cloudflare 头次之",
			headers:    map[string]string{"CF-Connecting-IP": "192.0.2.9"},
			remoteAddr: "10.0.0.2:443",
			want:       "192.0.2.9",
		},
		{
			name:       "无代理头时取连接远端地址",
			remoteAddr: "10.0.0.2:54321",
			want:       "10.0.0.2",
		},
		{
			name:       "全部缺失返回 unknown",
			remoteAddr: "",
			want:       "unknown",
		},
		{
			name:       "XFF 为空白时继续向后回落",
			headers:    map[string]string{"X-Forwarded-For": "  ", "X-Real-IP": "198.51.100.1"},
			remoteAddr: "10.0.0.2:443",
			want:       "198.51.100.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(t)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			c.Request.RemoteAddr = tt.remoteAddr

			if got := ResolveClientIP(c); got != tt.want {
				t.Errorf("ResolveClientIP() = %q, 期望 %q", got, tt.want)
			}
		})
	}
}

/*
TestResolveIdentity 未认证请求只有 IP 维度，认证后带用户信息
*/
func TestResolveIdentity(t *testing.T) {
	c, _ := newTestContext(t)
	c.Request.Header.Set("X-Real-IP", "203.0.113.7")

	identity := ResolveIdentity(c)
	if identity.IP != "203.0.113.7" {
		t.Errorf("IP 不匹配: %s", identity.IP)
	}
	if identity.UserID != "" || identity.Role != "" {
		t.Error("未认证请求不应携带用户信息")
	}

	c.Set("user_id", "user-123")
	c.Set("role", "admin")
	identity = ResolveIdentity(c)
	if identity.UserID != "user-123" || identity.Role != "admin" {
		t.Errorf("认证后应携带用户信息: %+v", identity)
	}
}
