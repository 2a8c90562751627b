package resilience

import (
	"context"
	"sync"
	"time"

	"flowdeck/internal/pkg/metrics"

	"go.uber.org/zap"
)

/*
Phase 熔断器状态
*/
type Phase int

const (
	PhaseClosed   Phase = iota /* 关闭（初始）：调用正常透传 */
	PhaseOpen                  /* 打开：调用立即失败，不碰被包装的操作 */
	PhaseHalfOpen              /* 半开：放行有限的试探调用 */
)

/* String 返回状态名称 */
func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

/*
Settings 单个熔断器的参数
*/
type Settings struct {
	FailureThreshold int           /* 连续失败多少次后打开 */
	ResetTimeout     time.Duration /* 打开后多久允许半开试探 */
	HalfOpenRequests int           /* 半开状态允许的并发试探数 */
}

/* withDefaults 填充零值参数 */
func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = time.Minute
	}
	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = 1
	}
	return s
}

/* breakerState 单个键的熔断器状态记录，仅由守护调用的结果驱动 */
type breakerState struct {
	phase            Phase
	failures         int
	lastFailureAt    time.Time
	halfOpenInFlight int
}

/*
Breakers 熔断器注册表
功能：按依赖名（键）维护相互独立的三态熔断器。
显式实例持有全部状态并注入调用方，而非包级共享 map，
测试可以并行创建隔离实例。
*/
type Breakers struct {
	mu     sync.Mutex
	states map[string]*breakerState
	logger *zap.Logger
	now    func() time.Time /* 测试中替换以控制时间 */

	/* OnTransition 状态迁移回调（可选），用于事件广播 */
	OnTransition func(key string, from, to Phase)
}

/*
NewBreakers 创建熔断器注册表
*/
func NewBreakers() *Breakers {
	return &Breakers{
		states: make(map[string]*breakerState),
		logger: zap.L().Named("circuit-breaker"),
		now:    time.Now,
	}
}

/*
Do 在熔断器保护下执行操作
功能：键对应的熔断器打开时立即返回 *CircuitOpenError，不调用 op；
否则执行 op 并按结果驱动状态机。典型用法是把 WithRetry 包在里层，
熔断器只看到重试耗尽后的最终失败。
*/
func (b *Breakers) Do(ctx context.Context, key string, settings Settings, op func(context.Context) error) error {
	settings = settings.withDefaults()

	if err := b.acquire(key, settings); err != nil {
		return err
	}

	err := op(ctx)
	b.record(key, settings, err == nil)
	return err
}

/*
Call 在熔断器保护下执行带返回值的操作
功能：Do 的泛型版本（Go 方法不支持类型参数，故为包级函数）
*/
func Call[T any](b *Breakers, ctx context.Context, key string, settings Settings, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Do(ctx, key, settings, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

/*
State 返回键对应熔断器的当前状态
功能：供监控端点与事件流查询；从未使用过的键返回 PhaseClosed
*/
func (b *Breakers) State(key string) Phase {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[key]
	if !ok {
		return PhaseClosed
	}
	return state.phase
}

/*
Snapshot 返回所有熔断器的状态快照
*/
func (b *Breakers) Snapshot() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make(map[string]string, len(b.states))
	for key, state := range b.states {
		result[key] = state.phase.String()
	}
	return result
}

/*
Reset 将键对应的熔断器重置为初始关闭状态
*/
func (b *Breakers) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, key)
	metrics.CircuitState.WithLabelValues(key).Set(0)
}

/*
acquire 判定本次调用是否放行
功能：打开状态下若冷却期已过则先迁移到半开再判定；
半开状态下超出试探名额的调用按半开拒绝
*/
func (b *Breakers) acquire(key string, settings Settings) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[key]
	if !ok {
		state = &breakerState{phase: PhaseClosed}
		b.states[key] = state
	}

	if state.phase == PhaseOpen {
		if b.now().Sub(state.lastFailureAt) >= settings.ResetTimeout {
			b.transition(key, state, PhaseHalfOpen)
			state.halfOpenInFlight = 0
		} else {
			return &CircuitOpenError{Key: key, State: "open"}
		}
	}

	if state.phase == PhaseHalfOpen {
		if state.halfOpenInFlight >= settings.HalfOpenRequests {
			return &CircuitOpenError{Key: key, State: "half-open"}
		}
		state.halfOpenInFlight++
	}

	return nil
}

/*
record 按调用结果驱动状态机
功能：
  - 关闭：成功清零失败计数；失败累加，达到阈值则打开
  - 半开：试探成功 → 关闭并清零；试探失败 → 立即重新打开并刷新失败时间
*/
func (b *Breakers) record(key string, settings Settings, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[key]
	if !ok {
		return
	}

	switch state.phase {
	case PhaseClosed:
		if success {
			state.failures = 0
			return
		}
		state.failures++
		state.lastFailureAt = b.now()
		if state.failures >= settings.FailureThreshold {
			b.transition(key, state, PhaseOpen)
		}

	case PhaseHalfOpen:
		if state.halfOpenInFlight > 0 {
			state.halfOpenInFlight--
		}
		if success {
			b.transition(key, state, PhaseClosed)
			state.failures = 0
			return
		}
		state.lastFailureAt = b.now()
		b.transition(key, state, PhaseOpen)

	case PhaseOpen:
		/* 打开期间完成的滞留调用只刷新失败时间 */
		if !success {
			state.lastFailureAt = b.now()
		}
	}
}

/* transition 执行状态迁移并记录日志/指标/回调，调用方需持有锁 */
func (b *Breakers) transition(key string, state *breakerState, to Phase) {
	from := state.phase
	if from == to {
		return
	}
	state.phase = to

	b.logger.Warn("熔断器状态迁移",
		zap.String("key", key),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", state.failures))

	metrics.CircuitTransitions.WithLabelValues(key, to.String()).Inc()
	metrics.CircuitState.WithLabelValues(key).Set(float64(to))

	if b.OnTransition != nil {
		/* 回调在锁外异步执行，避免订阅者阻塞状态机 */
		go b.OnTransition(key, from, to)
	}
}
