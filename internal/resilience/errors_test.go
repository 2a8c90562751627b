package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

/* fakeNetTimeout 实现 net.Error 的超时错误 */
type fakeNetTimeout struct{}

func (fakeNetTimeout) Error() string   { return "i/o timeout" }
func (fakeNetTimeout) Timeout() bool   { return true }
func (fakeNetTimeout) Temporary() bool { return true }

/*
TestClassify 错误分类表
*/
func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOther},
		{"context 超时", context.DeadlineExceeded, KindTimeout},
		{"包装后的 context 超时", fmt.Errorf("查询失败: %w", context.DeadlineExceeded), KindTimeout},
		{"context 取消", context.Canceled, KindOther},
		{"HTTP 429", &HTTPStatusError{StatusCode: 429, Message: "too many requests"}, KindRateLimited},
		{"HTTP 503", &HTTPStatusError{StatusCode: 503, Message: "unavailable"}, KindServerError},
		{"HTTP 500", &HTTPStatusError{StatusCode: 500, Message: "boom"}, KindServerError},
		{"HTTP 404", &HTTPStatusError{StatusCode: 404, Message: "not found"}, KindOther},
		{"net 超时", fakeNetTimeout{}, KindTimeout},
		{"连接重置", syscall.ECONNRESET, KindConnectionReset},
		{"连接拒绝", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindConnectionReset},
		{"意外 EOF", io.ErrUnexpectedEOF, KindConnectionReset},
		{"普通错误", errors.New("唯一键冲突"), KindOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %s, 期望 %s", tc.err, got, tc.want)
			}
		})
	}
}

/*
TestClassify_OpError net.OpError 包装的超时
*/
func TestClassify_OpError(t *testing.T) {
	opErr := &net.OpError{Op: "read", Net: "tcp", Err: fakeNetTimeout{}}
	if got := Classify(opErr); got != KindTimeout {
		t.Errorf("OpError 超时分类错误: %s", got)
	}
}

/*
TestIsCircuitOpen 熔断错误判定
*/
func TestIsCircuitOpen(t *testing.T) {
	coe := &CircuitOpenError{Key: "payments", State: "open"}
	if !IsCircuitOpen(coe) {
		t.Error("直接的 CircuitOpenError 应判定为真")
	}
	if !IsCircuitOpen(fmt.Errorf("调用失败: %w", coe)) {
		t.Error("包装后的 CircuitOpenError 应判定为真")
	}
	if IsCircuitOpen(errors.New("其它错误")) {
		t.Error("普通错误不应判定为熔断")
	}
	if IsCircuitOpen(nil) {
		t.Error("nil 不应判定为熔断")
	}
}

/*
TestKindString 类别名称
*/
func TestKindString(t *testing.T) {
	pairs := map[Kind]string{
		KindOther:           "other",
		KindTimeout:         "timeout",
		KindConnectionReset: "connection_reset",
		KindRateLimited:     "rate_limited",
		KindServerError:     "server_error",
	}
	for kind, want := range pairs {
		if kind.String() != want {
			t.Errorf("Kind(%d).String() = %s, 期望 %s", kind, kind.String(), want)
		}
	}
}
