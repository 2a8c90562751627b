package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"flowdeck/internal/config"
	"flowdeck/internal/resilience"
)

/*
newTestLimiterConfig 小额度限流配置，便于测试触达上限
*/
func newTestLimiterConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:     true,
		AdminBypass: true,
		Presets: map[string]config.RateLimitPreset{
			"api":  {MaxRequests: 3, WindowMs: 60000, KeyPrefix: "rl:api"},
			"auth": {MaxRequests: 2, WindowMs: 50, KeyPrefix: "rl:auth"},
		},
	}
}

/*
fakeWindowStore 内存假分布式窗口
功能：记录每个键的计数与调用次数，可注入错误模拟 Redis 故障
*/
type fakeWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
	calls  int
	err    error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{counts: make(map[string]int64)}
}

func (f *fakeWindowStore) Take(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	f.counts[key]++
	return f.counts[key], time.Now().Add(window), nil
}

func (f *fakeWindowStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testIdentity = ClientIdentity{IP: "203.0.113.7"}

/*
TestRateLimiter_LocalAllowsUpToLimit 本地策略：配额内放行，超出拒绝
*/
func TestRateLimiter_LocalAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := rl.Check(ctx, testIdentity, "/api/v1/things", "api")
		if !result.Allowed {
			t.Fatalf("第 %d 次请求应放行", i+1)
		}
		if result.Remaining != 3-(i+1) {
			t.Errorf("第 %d 次剩余额度不匹配: %d", i+1, result.Remaining)
		}
	}

	result := rl.Check(ctx, testIdentity, "/api/v1/things", "api")
	if result.Allowed {
		t.Fatal("超出配额应拒绝")
	}
	if result.Remaining != 0 {
		t.Errorf("拒绝时剩余额度应为 0: %d", result.Remaining)
	}
	if result.LimitedBy != "ip" {
		t.Errorf("未认证请求应由 ip 维度拒绝: %s", result.LimitedBy)
	}
	if result.Limit != 3 {
		t.Errorf("Limit 应回显配额上限: %d", result.Limit)
	}
}

/*
TestRateLimiter_WindowRestart 窗口到期后配额重新开始
*/
func TestRateLimiter_WindowRestart(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rl.Check(ctx, testIdentity, "/api/v1/auth/login", "auth")
	}
	if rl.Check(ctx, testIdentity, "/api/v1/auth/login", "auth").Allowed {
		t.Fatal("配额用尽应拒绝")
	}

	/* auth 预设窗口 50ms，等待窗口翻转 */
	time.Sleep(60 * time.Millisecond)
	if !rl.Check(ctx, testIdentity, "/api/v1/auth/login", "auth").Allowed {
		t.Error("窗口到期后应重新放行")
	}
}

/*
TestRateLimiter_EndpointsIsolated 不同端点各自独立计数
*/
func TestRateLimiter_EndpointsIsolated(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rl.Check(ctx, testIdentity, "/api/v1/a", "api")
	}
	if rl.Check(ctx, testIdentity, "/api/v1/a", "api").Allowed {
		t.Fatal("端点 a 配额应已用尽")
	}
	if !rl.Check(ctx, testIdentity, "/api/v1/b", "api").Allowed {
		t.Error("端点 b 不应受端点 a 影响")
	}
}

/*
TestRateLimiter_CoordinatedStoreUsed 分布式策略优先，键含维度与端点
*/
func TestRateLimiter_CoordinatedStoreUsed(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	fake := newFakeWindowStore()
	rl.coordinated = fake

	result := rl.Check(context.Background(), testIdentity, "/api/v1/things", "api")
	if !result.Allowed {
		t.Fatal("首次请求应放行")
	}
	if fake.callCount() != 1 {
		t.Errorf("应走分布式策略: %d 次调用", fake.callCount())
	}
	for key := range fake.counts {
		if !strings.Contains(key, ":ip:203.0.113.7:") || !strings.Contains(key, "/api/v1/things") {
			t.Errorf("窗口键应包含维度、主体与端点: %s", key)
		}
	}
}

/*
TestRateLimiter_CombinedUserAndIP 已认证请求执行双重限流
*/
func TestRateLimiter_CombinedUserAndIP(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	fake := newFakeWindowStore()
	rl.coordinated = fake

	authed := ClientIdentity{IP: "203.0.113.7", UserID: "user-1"}
	ctx := context.Background()

	/* 预先消耗用户维度的配额（模拟同一用户从其它 IP 的请求） */
	for i := 0; i < 3; i++ {
		rl.Check(ctx, ClientIdentity{IP: "198.51.100.9", UserID: "user-1"}, "/api/v1/things", "api")
	}

	/* 新 IP 的 IP 配额充足，但用户配额已尽 → 由用户维度拒绝 */
	result := rl.Check(ctx, authed, "/api/v1/things", "api")
	if result.Allowed {
		t.Fatal("用户配额用尽应拒绝")
	}
	if result.LimitedBy != "user" {
		t.Errorf("应由 user 维度拒绝: %s", result.LimitedBy)
	}
}

/*
TestRateLimiter_MoreRestrictiveRemaining 双放行时取更小的剩余额度
*/
func TestRateLimiter_MoreRestrictiveRemaining(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	fake := newFakeWindowStore()
	rl.coordinated = fake

	ctx := context.Background()
	authed := ClientIdentity{IP: "203.0.113.7", UserID: "user-1"}

	/* 用户维度先消耗一次 */
	rl.Check(ctx, ClientIdentity{IP: "198.51.100.9", UserID: "user-1"}, "/api/v1/things", "api")

	result := rl.Check(ctx, authed, "/api/v1/things", "api")
	if !result.Allowed {
		t.Fatal("双方配额均未用尽，应放行")
	}
	/* IP 剩余 2，用户剩余 1 → 响应应反映更严格的用户维度 */
	if result.Remaining != 1 {
		t.Errorf("应回显更小的剩余额度: %d", result.Remaining)
	}
}

/*
TestRateLimiter_RejectionKeepsOtherQuota IP 拒绝时不消耗用户配额
*/
func TestRateLimiter_RejectionKeepsOtherQuota(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	fake := newFakeWindowStore()
	rl.coordinated = fake

	ctx := context.Background()
	authed := ClientIdentity{IP: "203.0.113.7", UserID: "user-1"}

	/* 耗尽 IP 配额 */
	for i := 0; i < 3; i++ {
		rl.Check(ctx, ClientIdentity{IP: "203.0.113.7"}, "/api/v1/things", "api")
	}

	result := rl.Check(ctx, authed, "/api/v1/things", "api")
	if result.Allowed || result.LimitedBy != "ip" {
		t.Fatalf("应由 ip 维度拒绝: %+v", result)
	}

	/* 用户维度的键不应出现过任何计数 */
	for key := range fake.counts {
		if strings.Contains(key, ":user:") {
			t.Errorf("IP 拒绝后不应消耗用户配额: %s", key)
		}
	}
}

/*
TestRateLimiter_AdminBypass 管理员豁免放行且不消耗配额
*/
func TestRateLimiter_AdminBypass(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	fake := newFakeWindowStore()
	rl.coordinated = fake

	admin := ClientIdentity{IP: "203.0.113.7", UserID: "admin-1", Role: "admin"}
	for i := 0; i < 10; i++ {
		if !rl.Check(context.Background(), admin, "/api/v1/things", "api").Allowed {
			t.Fatal("管理员应始终放行")
		}
	}
	if fake.callCount() != 0 {
		t.Errorf("豁免请求不应消耗配额: %d 次调用", fake.callCount())
	}
}

/*
TestRateLimiter_Disabled 全局关闭时全部放行
*/
func TestRateLimiter_Disabled(t *testing.T) {
	cfg := newTestLimiterConfig()
	cfg.Enabled = false
	rl := NewRateLimiter(cfg, nil)

	for i := 0; i < 10; i++ {
		if !rl.Check(context.Background(), testIdentity, "/api/v1/things", "api").Allowed {
			t.Fatal("关闭状态应全部放行")
		}
	}
}

/*
TestRateLimiter_FallbackOnStoreError 分布式故障降级本地计数，请求不失败
*/
func TestRateLimiter_FallbackOnStoreError(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	fake := newFakeWindowStore()
	fake.err = errors.New("connection refused")
	rl.coordinated = fake

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if !rl.Check(ctx, testIdentity, "/api/v1/things", "api").Allowed {
			t.Fatalf("降级路径第 %d 次应放行", i+1)
		}
	}
	/* 本地降级计数同样强制上限 */
	if rl.Check(ctx, testIdentity, "/api/v1/things", "api").Allowed {
		t.Error("降级路径超出配额也应拒绝")
	}
}

/*
TestRateLimiter_BreakerSkipsFailingStore 熔断打开后不再逐次访问故障存储
*/
func TestRateLimiter_BreakerSkipsFailingStore(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	fake := newFakeWindowStore()
	fake.err = errors.New("connection refused")
	rl.coordinated = fake
	rl.UseBreaker(resilience.NewBreakers(), resilience.Settings{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		HalfOpenRequests: 1,
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if !rl.Check(ctx, testIdentity, "/api/v1/things", "api").Allowed {
			t.Fatalf("降级路径第 %d 次应放行", i+1)
		}
	}

	/* 前 2 次触达故障存储并打开熔断，其后直接走本地降级 */
	if fake.callCount() != 2 {
		t.Errorf("熔断打开后不应继续访问故障存储: %d 次调用", fake.callCount())
	}
}

/*
TestEnforce_RejectionError 拒绝返回 *RateLimitError，携带重试时长
*/
func TestEnforce_RejectionError(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := rl.Enforce(ctx, testIdentity, "/api/v1/things", "api"); err != nil {
			t.Fatalf("配额内不应报错: %v", err)
		}
	}

	result, err := rl.Enforce(ctx, testIdentity, "/api/v1/things", "api")
	if err == nil {
		t.Fatal("超出配额应返回错误")
	}
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("应返回 *RateLimitError: %v", err)
	}
	if rlErr.RetryAfter <= 0 {
		t.Errorf("RetryAfter 应为正值: %v", rlErr.RetryAfter)
	}
	if result.Allowed {
		t.Error("结果应标记为拒绝")
	}
}

/*
TestRateLimiter_UnknownPresetFallsBack 未知预设回落到 api 类别
*/
func TestRateLimiter_UnknownPresetFallsBack(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	result := rl.Check(context.Background(), testIdentity, "/api/v1/things", "不存在")
	if result.Limit != 3 {
		t.Errorf("未知预设应使用 api 配额: %d", result.Limit)
	}
}

/*
TestSweepLocal 过期窗口被清理
*/
func TestSweepLocal(t *testing.T) {
	rl := NewRateLimiter(newTestLimiterConfig(), nil)
	ctx := context.Background()

	/* auth 预设窗口 50ms */
	rl.Check(ctx, testIdentity, "/api/v1/auth/login", "auth")
	rl.local.mu.Lock()
	before := len(rl.local.windows)
	rl.local.mu.Unlock()
	if before == 0 {
		t.Fatal("应存在活跃窗口")
	}

	time.Sleep(60 * time.Millisecond)
	rl.SweepLocal()

	rl.local.mu.Lock()
	after := len(rl.local.windows)
	rl.local.mu.Unlock()
	if after != 0 {
		t.Errorf("过期窗口应被清理, 剩余 %d", after)
	}
}
