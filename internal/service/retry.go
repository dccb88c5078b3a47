package service

import (
	"context"
	"time"
)

// RetryPolicy 有界重试：固定退避，仅重试可恢复错误
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	IsRetryable func(error) bool

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy 创建重试策略
func NewRetryPolicy(maxAttempts int, backoff time.Duration, isRetryable func(error) bool) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		IsRetryable: isRetryable,
		sleep:       sleepCtx,
	}
}

// Do 执行 op，返回总尝试次数和最后一次错误
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.Backoff); err != nil {
			return attempt, lastErr
		}
	}
	return p.MaxAttempts, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
