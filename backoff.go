package teleop

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WithTimeout 在超时限制内执行操作。
func WithTimeout(ctx context.Context, timeout time.Duration, operation func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- operation()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		zap.L().Warn("操作超时", zap.Duration("timeout", timeout))
		return ctx.Err()
	}
}

// Retry 以固定间隔重试操作。shouldRetry 返回false的错误立即向上传播，
// 不再重试（协议层错误不该靠重连掩盖）。返回最后一次错误。
func Retry(ctx context.Context, maxAttempts int, delay time.Duration, operation func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		lastErr = err
		zap.L().Warn("操作失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return lastErr
}
