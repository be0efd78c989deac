package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff 根据任务选项构造退避策略，重试次数由 MaxRetries 限制。
func newBackOff(opts JobOptions) backoff.BackOff {
	if opts.MaxRetries <= 0 || opts.BackoffStrategy == BackoffNone || opts.BackoffStrategy == "" {
		return &backoff.StopBackOff{}
	}

	var b backoff.BackOff
	switch opts.BackoffStrategy {
	case BackoffFixed:
		b = backoff.NewConstantBackOff(opts.InitialBackoff)
	default:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = opts.InitialBackoff
		exp.MaxInterval = opts.MaxBackoff
		if opts.BackoffMultiplier > 0 {
			exp.Multiplier = opts.BackoffMultiplier
		}
		exp.RandomizationFactor = 0
		// 次数由 WithMaxRetries 控制，不按总耗时终止
		exp.MaxElapsedTime = 0
		b = exp
	}
	return backoff.WithMaxRetries(b, uint64(opts.MaxRetries))
}

// retry 执行 fn，失败时按选项重试。onRetry 在每次等待前调用，attempt 从 1 开始。
func retry(opts JobOptions, fn func() error, onRetry func(attempt int, err error, wait time.Duration)) error {
	attempt := 0
	return backoff.RetryNotify(fn, newBackOff(opts), func(err error, wait time.Duration) {
		attempt++
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	})
}
