/*
Package metrics Prometheus 指标集合

控制面各组件的运行指标：限流判定、重试尝试、熔断器状态迁移、
会话缓存命中率。通过 /metrics 端点暴露（仅本地访问）。
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	/* RateLimitDecisions 限流判定计数，按预设和判定结果分类 */
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdeck_rate_limit_decisions_total",
		Help: "限流检查总数，按预设与判定结果（allowed/rejected）分类",
	}, []string{"preset", "decision"})

	/* RateLimitFallback 分布式存储不可用、降级为本地计数的次数 */
	RateLimitFallback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdeck_rate_limit_fallback_total",
		Help: "滑动窗口降级为本地固定窗口计数的次数",
	})

	/* RetryAttempts 重试尝试计数（不含首次调用） */
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdeck_retry_attempts_total",
		Help: "重试尝试总数，按预设分类",
	}, []string{"preset"})

	/* RetryExhausted 重试耗尽计数 */
	RetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdeck_retry_exhausted_total",
		Help: "重试耗尽后仍失败的总数，按预设分类",
	}, []string{"preset"})

	/* CircuitTransitions 熔断器状态迁移计数 */
	CircuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdeck_circuit_transitions_total",
		Help: "熔断器状态迁移总数，按键和目标状态分类",
	}, []string{"key", "to"})

	/* CircuitState 熔断器当前状态（0=closed, 1=open, 2=half-open） */
	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowdeck_circuit_state",
		Help: "熔断器当前状态：0=closed，1=open，2=half-open",
	}, []string{"key"})

	/* SessionCacheLookups 会话缓存查找计数 */
	SessionCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdeck_session_cache_lookups_total",
		Help: "会话缓存查找总数，按结果（hit/miss/bypass）分类",
	}, []string{"result"})
)
