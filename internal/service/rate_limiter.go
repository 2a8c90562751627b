package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flowdeck/internal/config"
	"flowdeck/internal/db/database"
	"flowdeck/internal/pkg/metrics"
	"flowdeck/internal/resilience"

	"go.uber.org/zap"
)

/*
ClientIdentity 限流主体
功能：一次准入检查的主体标识。IP 始终存在（解析失败时为 "unknown"），
UserID 仅在已认证请求上出现，此时执行 IP + 用户双重限流。
*/
type ClientIdentity struct {
	IP     string
	UserID string
	Role   string /* 已认证用户的角色，配合管理员豁免开关使用 */
}

/*
RateLimitResult 限流判定结果
功能：携带响应头所需的全部信息（X-RateLimit-*）
*/
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	LimitedBy string /* 拒绝来源："ip" / "user"，放行时为空 */
}

/*
RateLimitError 限流拒绝错误
功能：Enforce 在拒绝时返回，携带面向调用方的重试等待时长
*/
type RateLimitError struct {
	Result     RateLimitResult
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("请求过于频繁，请在 %d 秒后重试", int(e.RetryAfter.Seconds())+1)
}

/*
windowStore 窗口计数策略接口
功能：把「分布式滑动窗口」和「本地固定窗口」建模为显式的双策略，
由 RateLimiter 组合，降级不再依赖异常流做控制逻辑。
Take 消耗一次配额并返回包含本次请求的窗口计数。
*/
type windowStore interface {
	Take(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

/*
redisWindowStore 分布式滑动窗口（首选策略）
功能：基于 Redis ZSet 的精确滚动窗口，多实例共享计数。
原子性依赖 TxPipeline 的单次 MULTI/EXEC 提交。
*/
type redisWindowStore struct {
	redis *database.RedisClient
}

func (s *redisWindowStore) Take(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	count, err := s.redis.SlidingWindowCount(ctx, key, window)
	if err != nil {
		return 0, time.Time{}, err
	}
	/* 滚动窗口没有固定重置点，以「最早条目滑出窗口」的上界近似 */
	return count, time.Now().Add(window), nil
}

/*
localWindowStore 本地固定窗口（降级策略）
功能：进程内 map 计数，now > resetTime 时窗口重置。
这是单实例假设下的近似（窗口边界可能放过突发），
永远不作为多实例部署的权威计数。
*/
type localWindowStore struct {
	mu      sync.Mutex
	windows map[string]*localWindow
}

type localWindow struct {
	count     int64
	resetTime time.Time
}

func newLocalWindowStore() *localWindowStore {
	return &localWindowStore{windows: make(map[string]*localWindow)}
}

func (s *localWindowStore) Take(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	w, ok := s.windows[key]
	if !ok || now.After(w.resetTime) {
		w = &localWindow{resetTime: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetTime, nil
}

/* sweep 清除已过期的窗口，防止内存泄漏 */
func (s *localWindowStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, w := range s.windows {
		if now.After(w.resetTime) {
			delete(s.windows, key)
		}
	}
}

/*
RateLimiter 限流服务
功能：按 (主体, 端点) 做滑动窗口准入控制。
Redis 可用时走分布式精确滚动窗口，不可用或出错时自动降级为
本地固定窗口近似，基础设施故障从不导致请求直接失败。

已认证请求执行 IP + 用户组合限流：任一拒绝即拒绝，
双放行时结果取剩余额度更小者（更严格的一方），保证响应头准确。
*/
type RateLimiter struct {
	cfg         config.RateLimitConfig
	coordinated windowStore /* 分布式策略，Redis 未配置时为 nil */
	local       *localWindowStore
	logger      *zap.Logger

	/* 可选：分布式路径的熔断保护。Redis 持续故障时熔断打开，
	   后续检查直接走本地降级，不再逐次等待 Redis 超时 */
	breakers        *resilience.Breakers
	breakerSettings resilience.Settings

	degradedMu sync.Mutex
	degraded   bool /* 降级状态，仅在状态切换时各记一条日志，避免日志风暴 */

	stopChan chan struct{}
	stopOnce sync.Once
}

/*
NewRateLimiter 创建限流服务
功能：redis 为 nil 时仅使用本地降级策略（单实例模式）
*/
func NewRateLimiter(cfg config.RateLimitConfig, redis *database.RedisClient) *RateLimiter {
	rl := &RateLimiter{
		cfg:      cfg,
		local:    newLocalWindowStore(),
		logger:   zap.L().Named("rate-limiter"),
		stopChan: make(chan struct{}),
	}
	if redis != nil {
		rl.coordinated = &redisWindowStore{redis: redis}
	}
	if rl.cfg.Presets == nil {
		rl.cfg.Presets = config.DefaultRateLimitPresets()
	}
	return rl
}

/*
Start 启动本地窗口的后台清理
功能：显式生命周期，测试可不启动或用 SweepLocal 同步执行
*/
func (rl *RateLimiter) Start() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.local.sweep()
			case <-rl.stopChan:
				return
			}
		}
	}()
}

/* Stop 停止后台清理 */
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

/* SweepLocal 同步执行一次本地窗口清理（测试和诊断用） */
func (rl *RateLimiter) SweepLocal() {
	rl.local.sweep()
}

/* redisBreakerKey 分布式限流存储的熔断器键 */
const redisBreakerKey = "ratelimit-redis"

/*
UseBreaker 为分布式路径挂载熔断保护
功能：Redis 连续失败达到阈值后熔断打开，检查请求不再逐次
等待 Redis 超时，直接走本地降级；超时窗口后半开试探恢复
*/
func (rl *RateLimiter) UseBreaker(b *resilience.Breakers, settings resilience.Settings) {
	rl.breakers = b
	rl.breakerSettings = settings
}

/*
Preset 按名称查找限流预设
功能：未知名称回落到 api 类别
*/
func (rl *RateLimiter) Preset(name string) config.RateLimitPreset {
	if p, ok := rl.cfg.Presets[name]; ok {
		return p
	}
	return rl.cfg.Presets["api"]
}

/*
Check 限流准入检查
功能：每次检查消耗配额（拒绝的那次除外——计数已写入但请求被挡）。
管理员豁免开启且主体为管理员时直接放行且不消耗配额。
*/
func (rl *RateLimiter) Check(ctx context.Context, identity ClientIdentity, endpoint, presetName string) RateLimitResult {
	preset := rl.Preset(presetName)

	if !rl.cfg.Enabled {
		return RateLimitResult{Allowed: true, Remaining: preset.MaxRequests, Limit: preset.MaxRequests, ResetAt: time.Now().Add(preset.Window())}
	}

	/* 管理员豁免：放行且不写计数 */
	if rl.cfg.AdminBypass && identity.Role == "admin" {
		return RateLimitResult{Allowed: true, Remaining: preset.MaxRequests, Limit: preset.MaxRequests, ResetAt: time.Now().Add(preset.Window())}
	}

	/* IP 限流（始终执行） */
	ipResult := rl.checkOne(ctx, preset, fmt.Sprintf("%s:ip:%s:%s", preset.KeyPrefix, identity.IP, endpoint))
	if !ipResult.Allowed {
		ipResult.LimitedBy = "ip"
		metrics.RateLimitDecisions.WithLabelValues(presetName, "rejected").Inc()
		return ipResult
	}

	/* 用户限流（已认证请求追加执行） */
	if identity.UserID != "" {
		userResult := rl.checkOne(ctx, preset, fmt.Sprintf("%s:user:%s:%s", preset.KeyPrefix, identity.UserID, endpoint))
		if !userResult.Allowed {
			userResult.LimitedBy = "user"
			metrics.RateLimitDecisions.WithLabelValues(presetName, "rejected").Inc()
			return userResult
		}
		/* 双放行：取剩余额度更小者，响应头反映更严格的一方 */
		if userResult.Remaining < ipResult.Remaining {
			ipResult = userResult
		}
	}

	metrics.RateLimitDecisions.WithLabelValues(presetName, "allowed").Inc()
	return ipResult
}

/*
Enforce 限流强制检查
功能：拒绝时返回 *RateLimitError（含 Retry-After 时长），放行时返回结果
*/
func (rl *RateLimiter) Enforce(ctx context.Context, identity ClientIdentity, endpoint, presetName string) (RateLimitResult, error) {
	result := rl.Check(ctx, identity, endpoint, presetName)
	if !result.Allowed {
		retryAfter := time.Until(result.ResetAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return result, &RateLimitError{Result: result, RetryAfter: retryAfter}
	}
	return result, nil
}

/*
checkOne 对单个键执行一次窗口计数
功能：优先分布式策略；出错或未配置时降级为本地固定窗口。
降级状态切换各记一条日志，恒定降级不会刷屏。
*/
func (rl *RateLimiter) checkOne(ctx context.Context, preset config.RateLimitPreset, key string) RateLimitResult {
	window := preset.Window()

	var (
		count   int64
		resetAt time.Time
		err     error
	)

	if rl.coordinated != nil {
		if rl.breakers != nil {
			err = rl.breakers.Do(ctx, redisBreakerKey, rl.breakerSettings, func(ctx context.Context) error {
				var opErr error
				count, resetAt, opErr = rl.coordinated.Take(ctx, key, window)
				return opErr
			})
		} else {
			count, resetAt, err = rl.coordinated.Take(ctx, key, window)
		}
		if err == nil {
			rl.markHealthy()
		} else {
			rl.markDegraded(err)
		}
	}

	if rl.coordinated == nil || err != nil {
		if err != nil {
			metrics.RateLimitFallback.Inc()
		}
		count, resetAt, _ = rl.local.Take(ctx, key, window)
	}

	remaining := preset.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitResult{
		Allowed:   count <= int64(preset.MaxRequests),
		Remaining: remaining,
		Limit:     preset.MaxRequests,
		ResetAt:   resetAt,
	}
}

/* markDegraded 记录进入降级状态（仅状态切换时打日志） */
func (rl *RateLimiter) markDegraded(err error) {
	rl.degradedMu.Lock()
	defer rl.degradedMu.Unlock()
	if !rl.degraded {
		rl.degraded = true
		rl.logger.Warn("分布式限流存储不可用，降级为本地计数", zap.Error(err))
	}
}

/* markHealthy 记录恢复分布式路径 */
func (rl *RateLimiter) markHealthy() {
	rl.degradedMu.Lock()
	defer rl.degradedMu.Unlock()
	if rl.degraded {
		rl.degraded = false
		rl.logger.Info("分布式限流存储已恢复")
	}
}
