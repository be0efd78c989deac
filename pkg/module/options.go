package module

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lk2023060901/modhost/pkg/logger"
)

// DefaultCycleTime 是两次 Work 调用之间的默认目标周期。
const DefaultCycleTime = 500 * time.Millisecond

// Observer 在每个周期结束后接收耗时信息。
type Observer interface {
	ObserveCycle(info Information, elapsed time.Duration, overBudget bool)
}

type options struct {
	dependencies []Information
	cycleTime    time.Duration
	clock        clock.Clock
	logger       logger.Logger
	observer     Observer
}

func defaultOptions() options {
	return options{
		cycleTime: DefaultCycleTime,
		clock:     clock.New(),
		logger:    logger.Nop(),
	}
}

// Option 模块构造选项。
type Option func(*options)

// WithDependencies 声明模块依赖，构造后不可修改。
func WithDependencies(deps ...Information) Option {
	return func(o *options) {
		o.dependencies = append(o.dependencies, deps...)
	}
}

// WithCycleTime 设置初始周期。
func WithCycleTime(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.cycleTime = d
	}
}

// WithClock 设置时间源，测试中可传入 clock.NewMock()。
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger 设置诊断日志。
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = logger.OrNop(l)
	}
}

// WithObserver 设置周期观察者。
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}
