package resilience

import (
	"context"
	"math/rand"
	"time"

	"flowdeck/internal/pkg/metrics"

	"go.uber.org/zap"
)

/*
Policy 重试策略（值类型，不可变）
功能：描述一次重试执行的全部参数。预设是数据而非行为——
算法相同，仅阈值和可重试类别不同。

可重试性永远由策略显式声明（RetryOn 类别集合），
不会对非幂等操作做任何隐式推断。
*/
type Policy struct {
	Name              string        /* 预设名，用于日志和指标 */
	MaxRetries        int           /* 最大重试次数，总尝试数 = MaxRetries + 1 */
	InitialDelay      time.Duration /* 首次退避基准 */
	MaxDelay          time.Duration /* 退避上限 */
	BackoffMultiplier float64       /* 指数退避倍率 */
	RetryOn           []Kind        /* 可重试的错误类别 */

	/* Classifier 可选的自定义分类器，为空时使用 Classify */
	Classifier func(error) Kind
}

/* retryable 判断错误类别是否在策略的可重试集合内 */
func (p Policy) retryable(err error) bool {
	classify := p.Classifier
	if classify == nil {
		classify = Classify
	}
	kind := classify(err)
	for _, k := range p.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

/*
各依赖类别的命名预设（冻结常量，调用方按依赖类型选用）：
  - DatabaseQuick：面向用户的快速数据库调用，短延迟、少重试
  - ColdStart：冷启动型基础设施（暂停后恢复的托管数据库），
    更长的初始延迟、更多重试、更高的上限
  - ExternalAPI：外部/AI API，仅对限流和 5xx/网络重置重试
*/
var (
	DatabaseQuick = Policy{
		Name:              "database-quick",
		MaxRetries:        2,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
		RetryOn:           []Kind{KindTimeout, KindConnectionReset, KindServerError},
	}

	ColdStart = Policy{
		Name:              "cold-start",
		MaxRetries:        5,
		InitialDelay:      2 * time.Second,
		MaxDelay:          20 * time.Second,
		BackoffMultiplier: 2,
		RetryOn:           []Kind{KindTimeout, KindConnectionReset, KindServerError},
	}

	ExternalAPI = Policy{
		Name:              "external-api",
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		RetryOn:           []Kind{KindRateLimited, KindServerError, KindConnectionReset},
	}
)

/*
PresetByName 按名称查找重试预设
功能：供配置和 handler 层以字符串引用预设，未知名称返回 DatabaseQuick
*/
func PresetByName(name string) Policy {
	switch name {
	case "cold-start":
		return ColdStart
	case "external-api":
		return ExternalAPI
	default:
		return DatabaseQuick
	}
}

/* 测试钩子：单测中替换以捕获退避时长、消除随机性 */
var (
	sleepFn = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	jitterFn = rand.Float64
)

/*
backoffDelay 计算第 attempt 次失败后的退避时长
功能：base = min(InitialDelay × Multiplier^attempt, MaxDelay)，
再叠加 [0, 0.3×base) 的独立随机抖动，避免多实例重试风暴同步。
*/
func backoffDelay(p Policy, attempt int) time.Duration {
	base := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		base *= p.BackoffMultiplier
	}
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}

	jitter := jitterFn() * 0.3 * base
	return time.Duration(base + jitter)
}

/*
WithRetry 带指数退避的重试执行器
功能：执行 op，失败时按策略分类错误；可重试且还有剩余次数则
退避后重试，否则原样返回最后一次错误。总尝试数为 MaxRetries+1。

退避等待会响应 ctx 取消：调用方放弃的请求不再白白等完退避。
最终失败以尝试次数记录日志；中间的瞬时失败只记 debug。
*/
func WithRetry[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	log := zap.L().Named("retry")

	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == policy.MaxRetries || !policy.retryable(err) {
			break
		}

		delay := backoffDelay(policy, attempt)
		metrics.RetryAttempts.WithLabelValues(policy.Name).Inc()
		log.Debug("操作失败，退避后重试",
			zap.String("preset", policy.Name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := sleepFn(ctx, delay); err != nil {
			/* 调用方已放弃，直接返回最后一次业务错误 */
			return zero, lastErr
		}
	}

	metrics.RetryExhausted.WithLabelValues(policy.Name).Inc()
	log.Warn("重试耗尽，返回最终错误",
		zap.String("preset", policy.Name),
		zap.Int("max_retries", policy.MaxRetries),
		zap.Error(lastErr))

	return zero, lastErr
}

/*
Retry 无返回值版本的 WithRetry
*/
func Retry(ctx context.Context, policy Policy, op func(context.Context) error) error {
	_, err := WithRetry(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
