// Package module 提供可插拔周期模块的生命周期引擎。
//
// 每个 Module 在构造时启动一个专属协程，该协程在空闲等待与定时工作循环之间切换：
// Start 激活循环，Stop 返回空闲，Kill 永久结束生命周期，Join 等待协程退出。
package module

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	"github.com/lk2023060901/modhost/pkg/logger"
)

// ErrNotKilled 表示在 Kill 之前调用了 Join。
var ErrNotKilled = errors.New("module: join called before kill")

// Worker 定义模块每个周期执行的工作。
type Worker interface {
	Work()
}

// StartHook 由需要在每次激活时初始化的模块实现。
type StartHook interface {
	OnStart()
}

// StopHook 由需要在每次停用时清理的模块实现。
type StopHook interface {
	OnStop()
}

// Binder 由需要访问自身引擎（记录错误、读取依赖）的模块实现，
// 在工作协程启动前调用。
type Binder interface {
	Bind(m *Module)
}

// WorkerFunc 将普通函数适配为 Worker。
type WorkerFunc func()

// Work 调用 f。
func (f WorkerFunc) Work() {
	f()
}

// Module 是可插拔周期模块的生命周期引擎。
type Module struct {
	info   Information
	deps   []Information
	worker Worker
	clock  clock.Clock

	running      atomic.Bool
	enabled      atomic.Bool
	tooExpensive atomic.Bool
	joined       atomic.Bool
	state        atomic.Int32
	cycleTime    atomic.Duration
	lastStart    atomic.Time
	lastEnd      atomic.Time

	wake chan struct{}
	done chan struct{}

	mu       sync.RWMutex
	err      error
	refs     map[string]Ref
	logger   logger.Logger
	observer Observer
}

// New 创建模块并立即启动其工作协程，协程进入空闲等待。
func New(info Information, w Worker, opts ...Option) *Module {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if w == nil {
		w = WorkerFunc(func() {})
	}

	m := &Module{
		info:     info,
		deps:     append([]Information(nil), o.dependencies...),
		worker:   w,
		clock:    o.clock,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		refs:     make(map[string]Ref),
		logger:   o.logger,
		observer: o.observer,
	}
	m.running.Store(true)
	m.cycleTime.Store(o.cycleTime)
	m.state.Store(int32(StateCreated))

	if b, ok := w.(Binder); ok {
		b.Bind(m)
	}

	go m.loop()
	return m
}

// Start 启用模块。已启用或已终止时返回 false。
func (m *Module) Start() bool {
	if !m.running.Load() {
		return false
	}
	if !m.enabled.CompareAndSwap(false, true) {
		return false
	}
	m.signal()
	return true
}

// Stop 停用模块，当前周期结束后协程回到空闲等待，之后可再次 Start。
func (m *Module) Stop() {
	m.enabled.Store(false)
	m.signal()
}

// Kill 永久结束生命周期并唤醒协程使其退出。
func (m *Module) Kill() {
	m.running.Store(false)
	m.enabled.Store(false)
	m.signal()
}

// Join 阻塞直到工作协程退出。仅第一次观察到退出的调用返回 true。
// 未先调用 Kill 时立即返回 ErrNotKilled。
func (m *Module) Join() (bool, error) {
	if m.running.Load() {
		return false, errors.Wrapf(ErrNotKilled, "%s", m.info)
	}
	<-m.done
	return m.joined.CompareAndSwap(false, true), nil
}

// Close 终止并回收模块：Kill、Join，然后释放依赖引用。
func (m *Module) Close() error {
	m.Kill()
	if _, err := m.Join(); err != nil {
		return err
	}
	m.mu.Lock()
	m.refs = make(map[string]Ref)
	m.mu.Unlock()
	return nil
}

// Done 返回在工作协程退出后关闭的通道。
func (m *Module) Done() <-chan struct{} {
	return m.done
}

// IsRunning 返回生命周期是否尚未被 Kill。
func (m *Module) IsRunning() bool {
	return m.running.Load()
}

// IsEnabled 返回模块是否处于启用状态。
func (m *Module) IsEnabled() bool {
	return m.enabled.Load()
}

// State 返回工作协程当前所处的状态。
func (m *Module) State() State {
	return State(m.state.Load())
}

// WorkTooExpensive 返回上一个周期的 Work 是否达到或超过周期时间。
func (m *Module) WorkTooExpensive() bool {
	return m.tooExpensive.Load()
}

// LastCycle 返回上一个周期 Work 的开始与结束时间。
func (m *Module) LastCycle() (start, end time.Time) {
	return m.lastStart.Load(), m.lastEnd.Load()
}

// CycleTime 返回目标周期。
func (m *Module) CycleTime() time.Duration {
	return m.cycleTime.Load()
}

// SetCycleTime 设置目标周期，运行中修改在下一个周期生效。
func (m *Module) SetCycleTime(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.cycleTime.Store(d)
}

// Information 返回模块身份。
func (m *Module) Information() Information {
	return m.info
}

// Dependencies 返回声明的依赖副本。
func (m *Module) Dependencies() []Information {
	return append([]Information(nil), m.deps...)
}

// Worker 返回模块的具体实现，调用方可通过类型断言访问其导出方法。
func (m *Module) Worker() Worker {
	return m.worker
}

// HasError 返回是否记录了错误。
func (m *Module) HasError() bool {
	return m.Err() != nil
}

// Err 返回记录的错误，nil 表示无错误。
func (m *Module) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// SetErr 记录错误，传入 nil 清除。由模块自身在 Work/OnStart/OnStop 中调用。
func (m *Module) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// SetDependency 注入已解析的依赖引用，仅由管理器调用。
func (m *Module) SetDependency(name string, ref Ref) {
	m.mu.Lock()
	m.refs[name] = ref
	m.mu.Unlock()
}

// HasDependency 判断名为 name 的依赖是否已注入。
func (m *Module) HasDependency(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.refs[name]
	return ok
}

// Dependency 返回名为 name 的依赖模块，未解析或已释放时返回 false。
func (m *Module) Dependency(name string) (*Module, bool) {
	m.mu.RLock()
	ref, ok := m.refs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ref.Resolve()
}

// DependencyAs 返回依赖模块的 Worker 并断言为 T。
func DependencyAs[T any](m *Module, name string) (T, bool) {
	var zero T
	dep, ok := m.Dependency(name)
	if !ok {
		return zero, false
	}
	w, ok := dep.Worker().(T)
	if !ok {
		return zero, false
	}
	return w, true
}

// SetLogger 替换诊断日志，供宿主在工厂创建模块之后注入。
func (m *Module) SetLogger(l logger.Logger) {
	m.mu.Lock()
	m.logger = logger.OrNop(l)
	m.mu.Unlock()
}

// Logger 返回模块的诊断日志。
func (m *Module) Logger() logger.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// SetObserver 替换周期观察者。
func (m *Module) SetObserver(obs Observer) {
	m.mu.Lock()
	m.observer = obs
	m.mu.Unlock()
}

// String 返回模块身份的字符串形式。
func (m *Module) String() string {
	return m.info.String()
}

func (m *Module) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Module) active() bool {
	return m.running.Load() && m.enabled.Load()
}

func (m *Module) loop() {
	defer func() {
		m.state.Store(int32(StateTerminated))
		m.Logger().Debug("module terminated", logger.Fields("module", m.info.String())...)
		close(m.done)
	}()

	for m.waitUntilEnabled() {
		m.activate()
	}
}

// waitUntilEnabled 阻塞直到模块被启用（返回 true）或被 Kill（返回 false）。
func (m *Module) waitUntilEnabled() bool {
	m.state.Store(int32(StateIdle))
	for {
		if !m.running.Load() {
			return false
		}
		if m.enabled.Load() {
			return true
		}
		<-m.wake
	}
}

func (m *Module) activate() {
	m.state.Store(int32(StateActive))
	m.Logger().Debug("module started", logger.Fields("module", m.info.String())...)
	if h, ok := m.worker.(StartHook); ok {
		m.guard("on_start", h.OnStart)
	}

	for m.active() {
		if wait := m.timeWork(); wait > 0 {
			m.sleep(wait)
		}
	}

	if h, ok := m.worker.(StopHook); ok {
		m.guard("on_stop", h.OnStop)
	}
	m.Logger().Debug("module stopped", logger.Fields("module", m.info.String())...)
}

// timeWork 执行一次 Work 并返回到下一个周期前需要等待的时间。
func (m *Module) timeWork() time.Duration {
	start := m.clock.Now()
	m.lastStart.Store(start)
	m.guard("work", m.worker.Work)
	end := m.clock.Now()
	m.lastEnd.Store(end)

	elapsed := end.Sub(start)
	cycle := m.cycleTime.Load()
	over := elapsed >= cycle
	if wasOver := m.tooExpensive.Swap(over); over && !wasOver {
		m.Logger().Warn("module work too expensive", logger.Fields(
			"module", m.info.String(),
			"elapsed", elapsed,
			"cycle_time", cycle,
		)...)
	}

	m.mu.RLock()
	obs := m.observer
	m.mu.RUnlock()
	if obs != nil {
		obs.ObserveCycle(m.info, elapsed, over)
	}

	if over {
		return 0
	}
	return cycle - elapsed
}

// sleep 等待 d 或在模块被停用/终止时提前返回。
func (m *Module) sleep(d time.Duration) {
	t := m.clock.Timer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return
		case <-m.wake:
			if !m.active() {
				return
			}
		}
	}
}

// guard 执行回调，将 panic 记录为模块错误。
func (m *Module) guard(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("module: %s panicked: %v", phase, r)
			m.SetErr(err)
			m.Logger().Error("module panicked", logger.Fields(
				"module", m.info.String(),
				"phase", phase,
				"error", err,
			)...)
		}
	}()
	fn()
}
