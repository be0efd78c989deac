// Package app 提供模块宿主进程的应用外壳：加载配置、构造日志与管理器、
// 按配置启动模块与时间窗口，并在收到信号后依次停止与回收。
package app

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lk2023060901/modhost/pkg/health"
	"github.com/lk2023060901/modhost/pkg/logger"
	"github.com/lk2023060901/modhost/pkg/manager"
	"github.com/lk2023060901/modhost/pkg/metrics"
	"github.com/lk2023060901/modhost/pkg/pubsub"
	"github.com/lk2023060901/modhost/pkg/scheduler"
	"github.com/lk2023060901/modhost/pkg/ticker"
)

var (
	errInitInProgress = errors.New("app: init already in progress")
	errConfigLocked   = errors.New("app: config is locked after init")
	errNotInitialized = errors.New("app: application not initialized")
	errClosed         = errors.New("app: application closed")
)

// Application 定义应用的生命周期入口。
type Application interface {
	// Name 返回应用名称，用于标识当前应用实例。
	Name() string

	// Init 加载配置，构造日志、总线、管理器与调度器。
	Init(ctx context.Context) error

	// Start 启动模块、调度器与管理端点。
	Start(ctx context.Context) error

	// Run 启动应用并阻塞运行，直到收到退出信号或上下文取消。
	Run(ctx context.Context) error

	// Shutdown 触发应用的优雅关闭流程，只执行一次。
	Shutdown(ctx context.Context) error

	// Stop 停止调度器与全部模块，模块协程保持空闲等待。
	Stop(ctx context.Context) error

	// Close 终止并回收全部模块与资源。
	Close() error
}

// Option 应用构造选项。
type Option func(*BaseApplication)

// WithManagerOptions 追加管理器构造选项，例如进程内模块或自定义 Loader。
func WithManagerOptions(opts ...manager.Option) Option {
	return func(a *BaseApplication) {
		a.managerOpts = append(a.managerOpts, opts...)
	}
}

// BaseApplication 提供 Application 的基础实现。
type BaseApplication struct {
	name        string
	managerOpts []manager.Option

	mu           sync.RWMutex
	configPath   string
	config       *Config
	initializing bool
	initialized  bool
	started      bool
	closed       bool

	registry  *logger.Registry
	log       logger.Logger
	bus       *pubsub.Bus[any]
	collector *metrics.Collector
	prom      *prometheus.Registry
	mgr       *manager.Manager
	sched     *scheduler.Scheduler
	status    *ticker.Ticker
	cancel    context.CancelFunc
	adminMux  http.Handler
	admin     *http.Server
	adminLn   net.Listener

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	shutdownErr  error
}

// NewBaseApplication 创建一个基础应用实例。
func NewBaseApplication(name string, opts ...Option) *BaseApplication {
	a := &BaseApplication{
		name:       name,
		log:        logger.Nop(),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name 返回应用名称，用于标识当前应用实例。
func (a *BaseApplication) Name() string {
	return a.name
}

// SetConfigPath 设置应用配置文件路径，需在 Init 前调用。
func (a *BaseApplication) SetConfigPath(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initializing || a.initialized {
		return errConfigLocked
	}
	a.configPath = path
	return nil
}

// SetConfig 直接设置应用配置，优先于配置文件，需在 Init 前调用。
func (a *BaseApplication) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initializing || a.initialized {
		return errConfigLocked
	}
	a.config = &cfg
	return nil
}

// Init 加载配置，构造日志、总线、管理器与调度器。重复调用无副作用。
func (a *BaseApplication) Init(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errClosed
	}
	if a.initialized {
		a.mu.Unlock()
		return nil
	}
	if a.initializing {
		a.mu.Unlock()
		return errInitInProgress
	}
	a.initializing = true
	configPath := a.configPath
	preset := a.config
	a.mu.Unlock()

	err := a.build(ctx, configPath, preset)

	a.mu.Lock()
	a.initializing = false
	a.initialized = err == nil
	a.mu.Unlock()
	return err
}

func (a *BaseApplication) build(_ context.Context, path string, preset *Config) (err error) {
	var cfg Config
	switch {
	case preset != nil:
		cfg = *preset
	case path != "":
		if cfg, err = LoadConfigFromFile(path); err != nil {
			return err
		}
	}

	// 构造失败时回收已创建的部分
	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	registry := logger.NewRegistry()
	if err := logger.InitFromConfig(registry, logger.Config{Loggers: cfg.Loggers}); err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = registry.Sync() })
	log := registry.Get(cfg.Host.Logger)

	bus, err := pubsub.New[any](pubsub.WithLogger(log))
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = bus.Close() })

	collector := metrics.NewCollector()
	prom := prometheus.NewRegistry()
	if err := prom.Register(collector); err != nil {
		return errors.Wrap(err, "app: register metrics")
	}
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	policy := manager.DuplicateAllow
	if cfg.Host.RejectDuplicates {
		policy = manager.DuplicateReject
	}
	mgrOpts := append([]manager.Option{
		manager.WithRecursive(cfg.Host.Modules.Recursive),
		manager.WithVerbose(cfg.Host.Verbose),
		manager.WithLogger(log),
		manager.WithObserver(collector),
		manager.WithDuplicatePolicy(policy),
	}, a.managerOpts...)
	mgr, err := manager.New(cfg.Host.Modules.Root, mgrOpts...)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = mgr.Close() })

	for _, mc := range cfg.Modules {
		m := mgr.ByName(mc.Name)
		if m == nil {
			log.Warn("module override ignored, module not loaded", logger.Fields("module", mc.Name)...)
			continue
		}
		if mc.CycleTime > 0 {
			m.SetCycleTime(mc.CycleTime)
		}
	}

	sched, err := scheduler.New(cfg.Scheduler, scheduler.WithLogger(log))
	if err != nil {
		return err
	}
	cleanup = append(cleanup, sched.Release)
	for _, sc := range cfg.Schedules {
		m := mgr.ByName(sc.Module)
		if m == nil {
			log.Warn("schedule ignored, module not loaded", logger.Fields("module", sc.Module)...)
			continue
		}
		if _, err := sched.AddWindow(sc.Module, sc.Start, sc.Stop, m); err != nil {
			return err
		}
	}

	var status *ticker.Ticker
	if cfg.Host.StatusInterval > 0 {
		status = ticker.New(cfg.Host.StatusInterval, func() { reportStatus(log, mgr) }, ticker.WithLogger(log))
	}

	var adminMux http.Handler
	if cfg.Admin.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prom, promhttp.HandlerOpts{}))
		hc := health.NewHandler(mgr, cfg.Admin.Health, prom)
		mux.HandleFunc("/live", hc.LiveEndpoint)
		mux.HandleFunc("/ready", hc.ReadyEndpoint)
		adminMux = mux
	}

	a.mu.Lock()
	a.config = &cfg
	a.registry = registry
	a.log = log
	a.bus = bus
	a.collector = collector
	a.prom = prom
	a.mgr = mgr
	a.sched = sched
	a.status = status
	a.adminMux = adminMux
	a.mu.Unlock()

	log.Info("application initialized", logger.Fields(
		"app", a.name,
		"modules", mgr.NamesString(),
		"schedules", len(cfg.Schedules),
	)...)
	return nil
}

// Start 启动模块、调度器与管理端点。
func (a *BaseApplication) Start(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errClosed
	}
	if a.started {
		return nil
	}

	if a.adminMux != nil {
		addr := a.config.Admin.Listen
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "app: listen %s", addr)
		}
		srv := &http.Server{
			Handler:           a.adminMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.admin = srv
		a.adminLn = ln
		log := a.log
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server failed", logger.Fields("error", err)...)
			}
		}()
		log.Info("admin server listening", logger.Fields("addr", ln.Addr().String())...)
	}

	started := 0
	for _, m := range a.mgr.Modules() {
		want := a.config.Host.Autostart
		if mc, ok := a.config.override(m.Information().Name()); ok && mc.Autostart != nil {
			want = *mc.Autostart
		}
		if want && m.Start() {
			started++
		}
	}

	a.sched.Start()
	if a.status != nil {
		tctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		go func(t *ticker.Ticker) { _ = t.Start(tctx) }(a.status)
	}

	a.started = true
	a.log.Info("application started", logger.Fields(
		"app", a.name,
		"started", started,
		"count", a.mgr.Count(),
	)...)
	return nil
}

// Run 启动应用并阻塞运行，直到收到退出信号或上下文取消。
func (a *BaseApplication) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		_ = a.Shutdown(context.Background())
		return ctx.Err()
	case sig := <-sigCh:
		a.log.Info("signal received", logger.Fields("signal", sig.String())...)
		_ = a.Shutdown(context.Background())
		return a.shutdownError()
	case <-a.shutdownCh:
		return a.shutdownError()
	}
}

// Shutdown 触发应用的优雅关闭流程：Stop 之后 Close，只执行一次。
func (a *BaseApplication) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		err := errors.CombineErrors(a.Stop(ctx), a.Close())
		a.mu.Lock()
		a.shutdownErr = err
		a.mu.Unlock()
		close(a.shutdownCh)
	})
	return a.shutdownError()
}

// Stop 停止调度器与全部模块，模块协程保持空闲等待。
func (a *BaseApplication) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	if a.cancel != nil {
		a.cancel()
		a.status.Stop()
		a.cancel = nil
	}

	var stopErr error
	if a.sched.IsRunning() {
		select {
		case <-a.sched.Stop().Done():
		case <-ctx.Done():
			stopErr = errors.Wrap(ctx.Err(), "app: wait scheduler jobs")
		}
	}
	a.mgr.StopAll()

	if a.admin != nil {
		if err := a.admin.Shutdown(ctx); err != nil {
			stopErr = errors.CombineErrors(stopErr, errors.Wrap(err, "app: shutdown admin server"))
		}
		a.admin = nil
		a.adminLn = nil
	}

	a.log.Info("application stopped", logger.Fields("app", a.name)...)
	return stopErr
}

// Close 终止并回收全部模块与资源；之后引用模块的依赖都不再能解析。重复调用返回 nil。
func (a *BaseApplication) Close() error {
	if err := a.Stop(context.Background()); err != nil {
		a.log.Warn("stop before close failed", logger.Fields("error", err)...)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if !a.initialized {
		return nil
	}

	a.sched.Release()
	err := a.mgr.Close()
	err = errors.CombineErrors(err, a.bus.Close())
	a.log.Info("application closed", logger.Fields("app", a.name)...)
	// 控制台输出 Sync 可能返回 EINVAL，这里忽略
	_ = a.registry.Sync()
	return err
}

// Manager 返回模块管理器，Init 之前为 nil。
func (a *BaseApplication) Manager() *manager.Manager {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mgr
}

// Bus 返回模块间数据总线，Init 之前为 nil。
func (a *BaseApplication) Bus() *pubsub.Bus[any] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bus
}

// Registry 返回具名日志注册表，Init 之前为 nil。
func (a *BaseApplication) Registry() *logger.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry
}

// Scheduler 返回时间窗口调度器，Init 之前为 nil。
func (a *BaseApplication) Scheduler() *scheduler.Scheduler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sched
}

// Metrics 返回指标注册表，Init 之前为 nil。
func (a *BaseApplication) Metrics() *prometheus.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.prom
}

// Config 返回生效的配置。
func (a *BaseApplication) Config() (Config, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.config == nil || !a.initialized {
		return Config{}, errNotInitialized
	}
	return *a.config, nil
}

// AdminAddr 返回管理端点实际监听的地址，未启动时为空。
func (a *BaseApplication) AdminAddr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.adminLn == nil {
		return ""
	}
	return a.adminLn.Addr().String()
}

func (a *BaseApplication) shutdownError() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.shutdownErr
}

func reportStatus(log logger.Logger, mgr *manager.Manager) {
	for _, m := range mgr.Modules() {
		start, end := m.LastCycle()
		fields := logger.Fields(
			"module", m.String(),
			"state", m.State().String(),
			"cycle_time", m.CycleTime(),
			"last_work", end.Sub(start),
			"too_expensive", m.WorkTooExpensive(),
		)
		if err := m.Err(); err != nil {
			log.Warn("module status", append(fields, logger.Field{Key: "error", Value: err})...)
			continue
		}
		log.Info("module status", fields...)
	}
}

var _ Application = (*BaseApplication)(nil)
