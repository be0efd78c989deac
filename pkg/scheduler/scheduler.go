// Package scheduler 提供基于 cron 表达式的任务调度，用于按时间窗口启停模块。
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"

	"github.com/lk2023060901/modhost/pkg/logger"
)

// ErrJobNotFound 表示任务不存在
var ErrJobNotFound = errors.New("scheduler: job not found")

// Scheduler 调度器
type Scheduler struct {
	cron    *cron.Cron
	config  *Config
	logger  logger.Logger
	pool    *ants.Pool
	jobs    map[JobID]*jobEntry
	jobsMu  sync.RWMutex
	running bool
	runMu   sync.RWMutex
}

// SchedulerOption 调度器选项
type SchedulerOption func(*Scheduler)

// WithLogger 设置日志记录器
func WithLogger(l logger.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger.OrNop(l)
	}
}

// WithPool 设置协程池，调度器 Release 时一并释放
func WithPool(pool *ants.Pool) SchedulerOption {
	return func(s *Scheduler) {
		if pool != nil {
			s.pool = pool
		}
	}
}

// New 创建调度器
func New(cfg *Config, opts ...SchedulerOption) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = "Local"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "scheduler: invalid timezone %s", tz)
	}

	s := &Scheduler{
		config: cfg,
		logger: logger.Nop(),
		jobs:   make(map[JobID]*jobEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	cronOpts := []cron.Option{
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{l: s.logger}),
	}
	if cfg.WithSeconds {
		cronOpts = append(cronOpts, cron.WithSeconds())
	}
	s.cron = cron.New(cronOpts...)

	if s.pool == nil {
		size := cfg.PoolSize
		if size <= 0 {
			size = DefaultPoolSize
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return nil, errors.Wrap(err, "scheduler: create pool")
		}
		s.pool = pool
	}
	return s, nil
}

// AddJob 添加任务
func (s *Scheduler) AddJob(name, spec string, job Job, opts ...JobOption) (JobID, error) {
	if job == nil {
		return 0, errors.Newf("scheduler: job %s is nil", name)
	}
	return s.add(name, spec, job.Run, opts)
}

// AddFunc 添加函数任务
func (s *Scheduler) AddFunc(name, spec string, fn JobFunc, opts ...JobOption) (JobID, error) {
	if fn == nil {
		return 0, errors.Newf("scheduler: job %s is nil", name)
	}
	return s.add(name, spec, fn, opts)
}

func (s *Scheduler) add(name, spec string, run JobFunc, opts []JobOption) (JobID, error) {
	entry := newJobEntry(name, spec, s.config.DefaultJobOptions)
	entry.run = run
	for _, opt := range opts {
		opt(entry)
	}

	// 先登记再交给 cron，避免首次触发时查不到条目
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	id, err := s.cron.AddJob(spec, cron.FuncJob(func() { s.execute(entry) }))
	if err != nil {
		return 0, errors.Wrapf(err, "scheduler: add job %s", name)
	}
	entry.setID(id)
	s.jobs[id] = entry

	s.logger.Info("job added", logger.Fields(
		"job_id", id,
		"job_name", name,
		"spec", spec,
	)...)
	return id, nil
}

// execute 执行任务，附带跳过、日志、panic 恢复与重试
func (s *Scheduler) execute(entry *jobEntry) {
	if !entry.tryAcquire(s.config.SkipIfStillRunning) {
		s.logger.Debug("job skipped, still running", logger.Fields(
			"job_id", entry.ID(),
			"job_name", entry.name,
		)...)
		return
	}
	defer entry.running.Store(false)

	start := time.Now()
	entry.lastRun.Store(start)
	if s.config.Middleware.Logging {
		s.logger.Info("job started", logger.Fields(
			"job_id", entry.ID(),
			"job_name", entry.name,
		)...)
	}

	var jobErr error
	defer func() {
		entry.runCount.Inc()
		if jobErr != nil {
			entry.failCount.Inc()
		}
		if !s.config.Middleware.Logging {
			return
		}
		if jobErr != nil {
			s.logger.Error("job failed", logger.Fields(
				"job_id", entry.ID(),
				"job_name", entry.name,
				"duration", time.Since(start),
				"error", jobErr,
			)...)
			return
		}
		s.logger.Info("job completed", logger.Fields(
			"job_id", entry.ID(),
			"job_name", entry.name,
			"duration", time.Since(start),
		)...)
	}()

	if s.config.Middleware.Recovery {
		defer func() {
			if r := recover(); r != nil {
				jobErr = errors.Newf("scheduler: job %s panicked: %v", entry.name, r)
				s.logger.Error("job panicked", logger.Fields(
					"job_id", entry.ID(),
					"job_name", entry.name,
					"panic", r,
				)...)
			}
		}()
	}

	jobErr = retry(entry.options, entry.run, func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("job retry", logger.Fields(
			"job_id", entry.ID(),
			"job_name", entry.name,
			"attempt", attempt,
			"error", err,
			"backoff", wait,
		)...)
	})
}

// RemoveJob 移除任务
func (s *Scheduler) RemoveJob(id JobID) {
	s.cron.Remove(id)

	s.jobsMu.Lock()
	entry, exists := s.jobs[id]
	delete(s.jobs, id)
	s.jobsMu.Unlock()

	if exists {
		s.logger.Info("job removed", logger.Fields(
			"job_id", id,
			"job_name", entry.name,
		)...)
	}
}

// Start 启动调度器，重复调用无副作用
func (s *Scheduler) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started")
}

// Stop 停止调度器，返回的 ctx 在正在执行的任务结束后完成
func (s *Scheduler) Stop() context.Context {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return context.Background()
	}
	ctx := s.cron.Stop()
	s.running = false
	s.logger.Info("scheduler stopped")
	return ctx
}

// IsRunning 返回调度器是否正在运行
func (s *Scheduler) IsRunning() bool {
	s.runMu.RLock()
	defer s.runMu.RUnlock()
	return s.running
}

// GetJob 获取任务信息
func (s *Scheduler) GetJob(id JobID) (*JobInfo, bool) {
	s.jobsMu.RLock()
	entry, exists := s.jobs[id]
	s.jobsMu.RUnlock()

	if !exists {
		return nil, false
	}
	return entry.info(s.cron.Entry(id).Next), true
}

// ListJobs 按 ID 顺序列出所有任务
func (s *Scheduler) ListJobs() []*JobInfo {
	entries := s.cron.Entries()

	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	jobs := make([]*JobInfo, 0, len(s.jobs))
	for _, ce := range entries {
		if entry, ok := s.jobs[ce.ID]; ok {
			jobs = append(jobs, entry.info(ce.Next))
		}
	}
	return jobs
}

// RunNow 立即在协程池中执行任务（不影响调度）
func (s *Scheduler) RunNow(id JobID) error {
	s.jobsMu.RLock()
	entry, exists := s.jobs[id]
	s.jobsMu.RUnlock()

	if !exists {
		return errors.Wrapf(ErrJobNotFound, "id %d", id)
	}
	if err := s.pool.Submit(func() { s.execute(entry) }); err != nil {
		return errors.Wrapf(err, "scheduler: run job %s", entry.name)
	}
	return nil
}

// Entries 返回底层 cron entries（用于调试）
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Release 停止调度器并释放协程池
func (s *Scheduler) Release() {
	if s.IsRunning() {
		<-s.Stop().Done()
	}
	s.pool.Release()
}

// cronLogger 将 cron 内部日志转发到 logger.Logger
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, logger.Fields(keysAndValues...)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(logger.Fields(keysAndValues...), logger.Field{Key: "error", Value: err})...)
}
