/*
Package resilience 弹性原语

为易抖动的外部依赖（冷启动数据库、AI API、第三方接口）提供
重试执行器和熔断器。两者可组合使用：熔断器包在重试外层，
熔断器看到的是重试耗尽后的最终失败，而非瞬时抖动。
*/
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

/*
Kind 错误分类
功能：将任意 error 归入封闭集合，重试预设按类别声明可重试性，
替代对错误形状（status 字段、code 字段）的鸭子类型探测
*/
type Kind int

const (
	KindOther           Kind = iota /* 未知错误，默认不可重试 */
	KindTimeout                     /* 超时（含 context deadline） */
	KindConnectionReset             /* 连接被重置/拒绝，典型的依赖冷启动表现 */
	KindRateLimited                 /* 对端限流（HTTP 429） */
	KindServerError                 /* 对端服务错误（HTTP 5xx） */
)

/* String 返回类别名称 */
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionReset:
		return "connection_reset"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	default:
		return "other"
	}
}

/*
HTTPStatusError 携带 HTTP 状态码的错误
功能：调用外部 API 的代码用它包装非 2xx 响应，
分类器据状态码归类（429 → 限流，5xx → 服务错误）
*/
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("上游返回 HTTP %d: %s", e.StatusCode, e.Message)
}

/*
Classify 错误分类器
功能：将 error 归入封闭的 Kind 集合。顺序：
  1. context 取消/超时
  2. HTTPStatusError 状态码
  3. net.Error 超时
  4. 系统调用级连接错误（reset/refused）和意外 EOF
  5. 其余归为 Other
*/
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindOther
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			return KindRateLimited
		case statusErr.StatusCode >= 500:
			return KindServerError
		default:
			return KindOther
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindConnectionReset
	}

	return KindOther
}

/*
CircuitOpenError 熔断器打开错误
功能：熔断器处于打开（或半开名额已满）状态时返回，
调用方应比普通重试退避更长时间后再试
*/
type CircuitOpenError struct {
	Key   string /* 熔断器键（依赖名） */
	State string /* 拒绝时的状态：open / half-open */
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("服务暂时不可用 [%s]（熔断器状态: %s）", e.Key, e.State)
}

/* IsCircuitOpen 判断错误是否为熔断拒绝 */
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}
