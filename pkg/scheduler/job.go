package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
)

// JobID 任务唯一标识
type JobID = cron.EntryID

// Job 任务接口
type Job interface {
	// Run 执行任务，返回错误用于判断是否重试
	Run() error
	// Name 返回任务名称
	Name() string
}

// JobFunc 函数类型任务
type JobFunc func() error

// JobInfo 任务信息快照
type JobInfo struct {
	ID        JobID
	Name      string
	Spec      string
	LastRun   time.Time
	NextRun   time.Time
	RunCount  int64
	FailCount int64
	Running   bool
	Options   JobOptions
}

// jobEntry 内部任务条目，统计字段可在执行协程与查询协程之间并发访问
type jobEntry struct {
	id      atomic.Int64
	name    string
	spec    string
	run     JobFunc
	options JobOptions

	runCount  atomic.Int64
	failCount atomic.Int64
	running   atomic.Bool
	lastRun   atomic.Time
}

func newJobEntry(name, spec string, options JobOptions) *jobEntry {
	return &jobEntry{
		name:    name,
		spec:    spec,
		options: options,
	}
}

func (e *jobEntry) ID() JobID {
	return JobID(e.id.Load())
}

func (e *jobEntry) setID(id JobID) {
	e.id.Store(int64(id))
}

// tryAcquire 标记任务开始执行，skip 为 true 且任务已在执行时返回 false
func (e *jobEntry) tryAcquire(skip bool) bool {
	if skip {
		return e.running.CompareAndSwap(false, true)
	}
	e.running.Store(true)
	return true
}

func (e *jobEntry) info(next time.Time) *JobInfo {
	return &JobInfo{
		ID:        e.ID(),
		Name:      e.name,
		Spec:      e.spec,
		LastRun:   e.lastRun.Load(),
		NextRun:   next,
		RunCount:  e.runCount.Load(),
		FailCount: e.failCount.Load(),
		Running:   e.running.Load(),
		Options:   e.options,
	}
}

// JobOption 任务选项函数
type JobOption func(*jobEntry)

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(n int) JobOption {
	return func(e *jobEntry) {
		e.options.MaxRetries = n
	}
}

// WithBackoffStrategy 设置退避策略
func WithBackoffStrategy(strategy BackoffStrategy) JobOption {
	return func(e *jobEntry) {
		e.options.BackoffStrategy = strategy
	}
}

// WithInitialBackoff 设置初始退避时间
func WithInitialBackoff(d time.Duration) JobOption {
	return func(e *jobEntry) {
		e.options.InitialBackoff = d
	}
}

// WithMaxBackoff 设置最大退避时间
func WithMaxBackoff(d time.Duration) JobOption {
	return func(e *jobEntry) {
		e.options.MaxBackoff = d
	}
}

// WithBackoffMultiplier 设置退避乘数
func WithBackoffMultiplier(m float64) JobOption {
	return func(e *jobEntry) {
		e.options.BackoffMultiplier = m
	}
}

// WithJobOptions 设置完整的任务选项
func WithJobOptions(opts JobOptions) JobOption {
	return func(e *jobEntry) {
		e.options = opts
	}
}

// WithNoRetry 禁用重试
func WithNoRetry() JobOption {
	return func(e *jobEntry) {
		e.options.MaxRetries = 0
		e.options.BackoffStrategy = BackoffNone
	}
}
