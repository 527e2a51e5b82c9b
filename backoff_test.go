package teleop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("重试应最终成功: %v", err)
	}
	if attempts != 3 {
		t.Errorf("尝试次数不匹配: 得到 %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	want := errors.New("persistent failure")
	attempts := 0
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		attempts++
		return want
	}, nil)

	if !errors.Is(err, want) {
		t.Fatalf("期望最后一次错误, 得到 %v", err)
	}
	if attempts != 2 {
		t.Errorf("尝试次数不匹配: 得到 %d", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("protocol violation")
	attempts := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return fatal
	}, func(err error) bool {
		return !errors.Is(err, fatal)
	})

	if !errors.Is(err, fatal) {
		t.Fatalf("期望立即传播, 得到 %v", err)
	}
	if attempts != 1 {
		t.Errorf("不可重试错误不应再尝试: 得到 %d", attempts)
	}
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error {
		return errors.New("failure")
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 得到 %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 50*time.Millisecond, func() error {
		time.Sleep(time.Second)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("期望 DeadlineExceeded, 得到 %v", err)
	}

	if err := WithTimeout(context.Background(), time.Second, func() error { return nil }); err != nil {
		t.Fatalf("快速操作不应超时: %v", err)
	}
}
