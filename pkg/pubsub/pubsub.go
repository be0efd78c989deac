// Package pubsub 提供按频道分发的进程内发布订阅总线，用于模块之间传递数据。
package pubsub

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"

	"github.com/lk2023060901/modhost/pkg/logger"
)

var (
	ErrClosed      = errors.New("pubsub: bus is closed")
	ErrEmptyName   = errors.New("pubsub: subscriber name is empty")
	ErrNilCallback = errors.New("pubsub: callback is nil")
)

const (
	// DefaultPoolSize 是异步发布协程池的默认容量。
	DefaultPoolSize = 64
	// closeTimeout 是 Close 等待异步任务结束的上限。
	closeTimeout = 3 * time.Second
)

// Handler 接收发布到频道上的消息。
type Handler[T any] func(payload T)

// Bus 是频道到具名订阅者的映射。
type Bus[T any] struct {
	channels cmap.ConcurrentMap[string, cmap.ConcurrentMap[string, Handler[T]]]
	pool     *ants.Pool
	logger   logger.Logger
	closed   atomic.Bool
}

type options struct {
	poolSize int
	logger   logger.Logger
}

// Option 总线构造选项。
type Option func(*options)

// WithPoolSize 设置异步发布协程池容量。
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithLogger 设置诊断日志。
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = logger.OrNop(l)
	}
}

// New 创建总线。
func New[T any](opts ...Option) (*Bus[T], error) {
	o := options{poolSize: DefaultPoolSize, logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bus[T]{
		channels: cmap.New[cmap.ConcurrentMap[string, Handler[T]]](),
		logger:   o.logger,
	}
	pool, err := ants.NewPool(o.poolSize, ants.WithPanicHandler(func(r any) {
		b.logger.Error("async publish panicked", logger.Fields("panic", r)...)
	}))
	if err != nil {
		return nil, errors.Wrap(err, "pubsub: create pool")
	}
	b.pool = pool
	return b, nil
}

// Subscribe 以生成的名称订阅频道，返回该名称供 Unsubscribe 使用。
func (b *Bus[T]) Subscribe(channel string, fn Handler[T]) (string, error) {
	name := uuid.NewString()
	if err := b.SubscribeNamed(channel, name, fn); err != nil {
		return "", err
	}
	return name, nil
}

// SubscribeNamed 以指定名称订阅频道，同名订阅者被替换。
func (b *Bus[T]) SubscribeNamed(channel, name string, fn Handler[T]) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if name == "" {
		return ErrEmptyName
	}
	if fn == nil {
		return ErrNilCallback
	}
	b.table(channel).Set(name, fn)
	return nil
}

// Unsubscribe 移除频道上的具名订阅者，返回是否存在。
func (b *Bus[T]) Unsubscribe(channel, name string) bool {
	subs, ok := b.channels.Get(channel)
	if !ok {
		return false
	}
	_, existed := subs.Pop(name)
	return existed
}

// Publish 同步调用频道上的所有订阅者，返回调用数量。
func (b *Bus[T]) Publish(channel string, payload T) int {
	if b.closed.Load() {
		return 0
	}
	subs, ok := b.channels.Get(channel)
	if !ok {
		return 0
	}
	// 先复制再调用，回调内可以安全地订阅或退订
	handlers := subs.Items()
	for name, fn := range handlers {
		b.call(channel, name, fn, payload)
	}
	return len(handlers)
}

// PublishAsync 在协程池中执行 Publish。
func (b *Bus[T]) PublishAsync(channel string, payload T) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.pool.Submit(func() { b.Publish(channel, payload) }); err != nil {
		return errors.Wrapf(err, "pubsub: publish %s", channel)
	}
	return nil
}

// Clear 移除频道上的全部订阅者。
func (b *Bus[T]) Clear(channel string) {
	b.channels.Remove(channel)
}

// ClearAll 移除全部频道。
func (b *Bus[T]) ClearAll() {
	b.channels.Clear()
}

// Subscribers 返回频道上的订阅者数量。
func (b *Bus[T]) Subscribers(channel string) int {
	subs, ok := b.channels.Get(channel)
	if !ok {
		return 0
	}
	return subs.Count()
}

// Channels 返回存在订阅表的频道名称。
func (b *Bus[T]) Channels() []string {
	return b.channels.Keys()
}

// Close 拒绝后续发布与订阅，并等待协程池中的任务结束。重复调用无副作用。
func (b *Bus[T]) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := b.pool.ReleaseTimeout(closeTimeout)
	b.channels.Clear()
	if err != nil {
		return errors.Wrap(err, "pubsub: release pool")
	}
	return nil
}

func (b *Bus[T]) table(channel string) cmap.ConcurrentMap[string, Handler[T]] {
	return b.channels.Upsert(channel, cmap.ConcurrentMap[string, Handler[T]]{},
		func(exist bool, inMap, _ cmap.ConcurrentMap[string, Handler[T]]) cmap.ConcurrentMap[string, Handler[T]] {
			if exist {
				return inMap
			}
			return cmap.New[Handler[T]]()
		})
}

func (b *Bus[T]) call(channel, name string, fn Handler[T], payload T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", logger.Fields(
				"channel", channel,
				"subscriber", name,
				"panic", r,
			)...)
		}
	}()
	fn(payload)
}
