// Package manager 发现模块、解析依赖，并统一监管模块协程。
//
// 依赖解析在每批发现之后执行一次：对每个模块的每个声明依赖，按发现顺序线性查找
// Information 相同的模块，找到则注入非拥有引用，找不到则记录警告。
package manager

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/modhost/pkg/loader"
	"github.com/lk2023060901/modhost/pkg/logger"
	"github.com/lk2023060901/modhost/pkg/module"
)

// ErrIndexOutOfRange 表示可见模块下标越界。
var ErrIndexOutOfRange = errors.New("manager: module index out of range")

// Manager 拥有一批已加载的模块。
type Manager struct {
	root   string
	opts   options
	logger logger.Logger
	arena  *arena

	visible atomic.Int64
	closed  atomic.Bool
}

// New 扫描 root 下的插件并解析依赖，root 为空时只使用 WithModules 提供的模块。
func New(root string, opts ...Option) (*Manager, error) {
	o := options{logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loader == nil {
		o.loader = loader.New(loader.WithLogger(o.logger), loader.WithVerbose(o.verbose))
	}

	m := &Manager{
		root:   root,
		opts:   o,
		logger: o.logger,
		arena:  newArena(),
	}

	discovered, err := m.discover()
	if err != nil {
		for _, mod := range o.preloaded {
			_ = mod.Close()
		}
		return nil, err
	}
	for _, mod := range append(o.preloaded, discovered...) {
		m.adopt(mod)
	}
	m.resolve()

	m.logger.Info("modules loaded", logger.Fields(
		"root", root,
		"count", m.arena.len(),
		"names", m.NamesString(),
	)...)
	return m, nil
}

func (m *Manager) discover() ([]*module.Module, error) {
	if m.root == "" {
		return nil, nil
	}
	if m.opts.recursive {
		return m.opts.loader.LoadDirectoryRecursive(m.root)
	}
	return m.opts.loader.LoadDirectory(m.root)
}

// adopt 将模块纳入管理，按重复策略处理同名模块。
func (m *Manager) adopt(mod *module.Module) {
	name := mod.Information().Name()
	if prev := m.ByName(name); prev != nil {
		if m.opts.duplicates == DuplicateReject {
			m.logger.Warn("duplicate module rejected", logger.Fields("module", mod.String())...)
			_ = mod.Close()
			return
		}
		m.logger.Warn("duplicate module name", logger.Fields(
			"module", mod.String(),
			"first", prev.String(),
		)...)
	}

	if logger.IsNop(mod.Logger()) && !logger.IsNop(m.logger) {
		mod.SetLogger(m.logger.With(logger.Field{Key: "module", Value: name}))
	}
	if m.opts.observer != nil {
		mod.SetObserver(m.opts.observer)
	}
	m.arena.add(mod)
}

// resolve 为尚未解析的依赖注入引用，重复调用不会改变已解析的引用。
func (m *Manager) resolve() {
	mods := m.arena.snapshot()
	for _, mod := range mods {
		for _, dep := range mod.Dependencies() {
			if mod.HasDependency(dep.Name()) {
				continue
			}
			idx := indexOf(mods, dep)
			if idx < 0 {
				m.logger.Warn("dependency not found", logger.Fields(
					"module", mod.String(),
					"dependency", dep.String(),
				)...)
				continue
			}
			mod.SetDependency(dep.Name(), module.NewRef(m.arena, m.arena.handle(idx)))
			if m.opts.verbose {
				m.logger.Debug("dependency resolved", logger.Fields(
					"module", mod.String(),
					"dependency", dep.String(),
				)...)
			}
		}
	}
}

func indexOf(mods []*module.Module, info module.Information) int {
	for i, mod := range mods {
		if mod.Information().Equal(info) {
			return i
		}
	}
	return -1
}

// Root 返回扫描的根目录。
func (m *Manager) Root() string {
	return m.root
}

// Count 返回模块数量。
func (m *Manager) Count() int {
	return m.arena.len()
}

// Modules 按发现顺序返回模块列表副本。
func (m *Manager) Modules() []*module.Module {
	return m.arena.snapshot()
}

// Names 按发现顺序返回模块名称。
func (m *Manager) Names() []string {
	mods := m.arena.snapshot()
	names := make([]string, 0, len(mods))
	for _, mod := range mods {
		names = append(names, mod.Information().Name())
	}
	return names
}

// NamesString 返回每个名称后跟一个分号的拼接结果，例如 "A;B;"。
func (m *Manager) NamesString() string {
	var sb strings.Builder
	for _, name := range m.Names() {
		sb.WriteString(name)
		sb.WriteByte(';')
	}
	return sb.String()
}

// ByName 返回发现顺序中第一个名为 name 的模块，不存在时返回 nil。
func (m *Manager) ByName(name string) *module.Module {
	for _, mod := range m.arena.snapshot() {
		if mod.Information().Name() == name {
			return mod
		}
	}
	return nil
}

// ByInformation 返回发现顺序中第一个身份与 info 相同的模块，不存在时返回 nil。
func (m *Manager) ByInformation(info module.Information) *module.Module {
	mods := m.arena.snapshot()
	if i := indexOf(mods, info); i >= 0 {
		return mods[i]
	}
	return nil
}

// SetVisible 选择当前可见模块。
func (m *Manager) SetVisible(index int) error {
	if index < 0 || index >= m.arena.len() {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, count %d", index, m.arena.len())
	}
	m.visible.Store(int64(index))
	return nil
}

// Visible 返回当前可见模块，默认是第一个。
func (m *Manager) Visible() (*module.Module, error) {
	i := int(m.visible.Load())
	mod, ok := m.arena.at(i)
	if !ok {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, count %d", i, m.arena.len())
	}
	return mod, nil
}

// StartAll 启动所有模块，返回实际启动的数量。
func (m *Manager) StartAll() int {
	started := 0
	for _, mod := range m.arena.snapshot() {
		if mod.Start() {
			started++
		}
	}
	m.logger.Info("modules started", logger.Fields("started", started, "count", m.arena.len())...)
	return started
}

// StopAll 停止所有模块。
func (m *Manager) StopAll() {
	for _, mod := range m.arena.snapshot() {
		mod.Stop()
	}
}

// Close 停止并终止所有模块，并行等待全部协程退出后释放存储区。
// 释放后之前注入的依赖引用都不再能解析。重复调用返回 nil。
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	mods := m.arena.snapshot()
	for _, mod := range mods {
		mod.Stop()
	}
	for _, mod := range mods {
		mod.Kill()
	}

	var g errgroup.Group
	for _, mod := range mods {
		g.Go(func() error {
			_, err := mod.Join()
			return err
		})
	}
	err := g.Wait()

	m.arena.release()
	for _, mod := range mods {
		_ = mod.Close()
	}
	m.logger.Info("modules released", logger.Fields("count", len(mods))...)
	if err != nil {
		return errors.Wrap(err, "manager: join modules")
	}
	return nil
}

// Closed 返回是否已调用 Close。
func (m *Manager) Closed() bool {
	return m.closed.Load()
}
