package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

/*
newTestBreakers 创建可控时钟的熔断器注册表
功能：返回注册表和推进时钟的函数
*/
func newTestBreakers(t *testing.T) (*Breakers, func(d time.Duration)) {
	t.Helper()
	current := time.Now()
	b := NewBreakers()
	b.logger = zap.NewNop()
	b.now = func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return b, advance
}

var testSettings = Settings{
	FailureThreshold: 3,
	ResetTimeout:     time.Minute,
	HalfOpenRequests: 1,
}

var depErr = errors.New("依赖不可用")

/* fail 在熔断器下执行一次必然失败的调用 */
func fail(b *Breakers, key string) error {
	return b.Do(context.Background(), key, testSettings, func(ctx context.Context) error {
		return depErr
	})
}

/* succeed 在熔断器下执行一次必然成功的调用 */
func succeed(b *Breakers, key string) error {
	return b.Do(context.Background(), key, testSettings, func(ctx context.Context) error {
		return nil
	})
}

/*
TestBreaker_OpensAfterThreshold 连续失败达到阈值后打开
*/
func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreakers(t)

	for i := 0; i < 2; i++ {
		if err := fail(b, "db"); !errors.Is(err, depErr) {
			t.Fatalf("阈值前应透传业务错误: %v", err)
		}
		if b.State("db") != PhaseClosed {
			t.Fatalf("第 %d 次失败后不应打开", i+1)
		}
	}

	_ = fail(b, "db")
	if b.State("db") != PhaseOpen {
		t.Fatal("达到阈值后应打开")
	}
}

/*
TestBreaker_OpenRejectsWithoutInvoking 打开状态立即拒绝，不调用操作
*/
func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b, _ := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		_ = fail(b, "db")
	}

	calls := 0
	err := b.Do(context.Background(), "db", testSettings, func(ctx context.Context) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Error("打开状态不应调用被保护的操作")
	}
	var coe *CircuitOpenError
	if !errors.As(err, &coe) {
		t.Fatalf("应返回 CircuitOpenError: %v", err)
	}
	if coe.Key != "db" || coe.State != "open" {
		t.Errorf("错误字段不匹配: %+v", coe)
	}
}

/*
TestBreaker_SuccessResetsFailureCount 成功清零失败计数，非连续失败不触发
*/
func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreakers(t)

	_ = fail(b, "db")
	_ = fail(b, "db")
	_ = succeed(b, "db")
	_ = fail(b, "db")
	_ = fail(b, "db")

	if b.State("db") != PhaseClosed {
		t.Error("中间成功应清零计数，4 次非连续失败不应打开")
	}
}

/*
TestBreaker_HalfOpenTrialSuccess 冷却后半开，试探成功关闭
*/
func TestBreaker_HalfOpenTrialSuccess(t *testing.T) {
	b, advance := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		_ = fail(b, "db")
	}

	advance(time.Minute)

	if err := succeed(b, "db"); err != nil {
		t.Fatalf("冷却后试探应被放行: %v", err)
	}
	if b.State("db") != PhaseClosed {
		t.Error("试探成功后应关闭")
	}

	/* 关闭后失败计数应已清零，重新累计 */
	_ = fail(b, "db")
	if b.State("db") != PhaseClosed {
		t.Error("关闭后单次失败不应立即打开")
	}
}

/*
TestBreaker_HalfOpenTrialFailure 试探失败立即重新打开并刷新冷却
*/
func TestBreaker_HalfOpenTrialFailure(t *testing.T) {
	b, advance := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		_ = fail(b, "db")
	}

	advance(time.Minute)
	if err := fail(b, "db"); !errors.Is(err, depErr) {
		t.Fatalf("试探调用应透传业务错误: %v", err)
	}
	if b.State("db") != PhaseOpen {
		t.Fatal("试探失败后应重新打开")
	}

	/* 冷却时间从试探失败重新计，半个窗口后仍拒绝 */
	advance(30 * time.Second)
	if err := succeed(b, "db"); !IsCircuitOpen(err) {
		t.Errorf("冷却未满应继续拒绝: %v", err)
	}
}

/*
TestBreaker_HalfOpenConcurrencyCap 半开名额用尽时按 half-open 拒绝
*/
func TestBreaker_HalfOpenConcurrencyCap(t *testing.T) {
	b, advance := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		_ = fail(b, "db")
	}
	advance(time.Minute)

	/* 第一个试探调用占住名额不返回 */
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), "db", testSettings, func(ctx context.Context) error {
			<-release
			return nil
		})
	}()

	/* 等待试探进入半开 */
	deadline := time.After(2 * time.Second)
	for b.State("db") != PhaseHalfOpen {
		select {
		case <-deadline:
			t.Fatal("等待半开状态超时")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	err := succeed(b, "db")
	var coe *CircuitOpenError
	if !errors.As(err, &coe) || coe.State != "half-open" {
		t.Errorf("名额用尽应按 half-open 拒绝: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("试探调用失败: %v", err)
	}
	if b.State("db") != PhaseClosed {
		t.Error("试探成功后应关闭")
	}
}

/*
TestBreaker_KeysIndependent 不同键的熔断器互不影响
*/
func TestBreaker_KeysIndependent(t *testing.T) {
	b, _ := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		_ = fail(b, "payments")
	}

	if b.State("payments") != PhaseOpen {
		t.Fatal("payments 应打开")
	}
	if b.State("search") != PhaseClosed {
		t.Error("未使用的键应为关闭")
	}
	if err := succeed(b, "search"); err != nil {
		t.Errorf("其它键应正常放行: %v", err)
	}
}

/*
TestBreaker_Reset 手动复位回到关闭状态
*/
func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		_ = fail(b, "db")
	}

	b.Reset("db")
	if b.State("db") != PhaseClosed {
		t.Error("复位后应关闭")
	}
	if err := succeed(b, "db"); err != nil {
		t.Errorf("复位后应放行: %v", err)
	}
}

/*
TestCall_Generic 泛型包装返回操作结果
*/
func TestCall_Generic(t *testing.T) {
	b, _ := newTestBreakers(t)

	result, err := Call(b, context.Background(), "db", testSettings, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || result != 7 {
		t.Errorf("Call 结果不匹配: %d, %v", result, err)
	}

	for i := 0; i < 3; i++ {
		_ = fail(b, "db")
	}
	_, err = Call(b, context.Background(), "db", testSettings, func(ctx context.Context) (int, error) {
		t.Fatal("打开状态不应调用操作")
		return 0, nil
	})
	if !IsCircuitOpen(err) {
		t.Errorf("应返回熔断错误: %v", err)
	}
}

/*
TestBreaker_Snapshot 快照包含全部键的状态名
*/
func TestBreaker_Snapshot(t *testing.T) {
	b, _ := newTestBreakers(t)
	_ = succeed(b, "search")
	for i := 0; i < 3; i++ {
		_ = fail(b, "db")
	}

	snap := b.Snapshot()
	if snap["search"] != "closed" {
		t.Errorf("search 状态不匹配: %s", snap["search"])
	}
	if snap["db"] != "open" {
		t.Errorf("db 状态不匹配: %s", snap["db"])
	}
}
