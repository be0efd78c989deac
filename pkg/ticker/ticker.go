// Package ticker 提供按固定间隔执行回调的定时器，宿主用它周期性汇报模块状态。
package ticker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lk2023060901/modhost/pkg/logger"
)

// DefaultInterval 是间隔无效时使用的默认值。
const DefaultInterval = time.Second

// Handler 定时回调函数
type Handler func()

// Ticker 定时器
type Ticker struct {
	interval time.Duration
	handler  Handler
	clock    clock.Clock
	logger   logger.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	stoppedC chan struct{}
}

// Option 定时器选项
type Option func(*Ticker)

// WithClock 设置时间源
func WithClock(c clock.Clock) Option {
	return func(t *Ticker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger 设置回调 panic 时使用的日志
func WithLogger(l logger.Logger) Option {
	return func(t *Ticker) {
		t.logger = logger.OrNop(l)
	}
}

// New 创建定时器，interval 非正时使用 DefaultInterval
func New(interval time.Duration, handler Handler, opts ...Option) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Ticker{
		interval: interval,
		handler:  handler,
		clock:    clock.New(),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start 阻塞执行，直到 ctx 结束（返回 ctx.Err()）或 Stop（返回 nil）。
// 已在运行时立即返回 nil。
func (t *Ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.stoppedC = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		close(t.stoppedC)
		t.mu.Unlock()
	}()

	tk := t.clock.Ticker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-tk.C:
			t.fire()
		}
	}
}

func (t *Ticker) fire() {
	if t.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("ticker handler panicked", logger.Fields("panic", r)...)
		}
	}()
	t.handler()
}

// Stop 停止定时器并等待 Start 返回
func (t *Ticker) Stop() {
	t.mu.RLock()
	if !t.running {
		t.mu.RUnlock()
		return
	}
	stopCh := t.stopCh
	stoppedC := t.stoppedC
	t.mu.RUnlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-stoppedC
}

// IsRunning 是否正在运行
func (t *Ticker) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Interval 获取间隔时间
func (t *Ticker) Interval() time.Duration {
	return t.interval
}
