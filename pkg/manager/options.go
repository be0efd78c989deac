package manager

import (
	"github.com/lk2023060901/modhost/pkg/loader"
	"github.com/lk2023060901/modhost/pkg/logger"
	"github.com/lk2023060901/modhost/pkg/module"
)

// DuplicatePolicy 决定发现同名模块时的处理方式。
type DuplicatePolicy int

const (
	// DuplicateAllow 保留重复模块，查找与依赖解析取发现顺序中的第一个。
	DuplicateAllow DuplicatePolicy = iota
	// DuplicateReject 关闭并丢弃后发现的同名模块。
	DuplicateReject
)

type options struct {
	recursive  bool
	verbose    bool
	logger     logger.Logger
	loader     *loader.Loader
	observer   module.Observer
	duplicates DuplicatePolicy
	preloaded  []*module.Module
}

// Option 管理器构造选项。
type Option func(*options)

// WithRecursive 递归扫描根目录。
func WithRecursive(v bool) Option {
	return func(o *options) { o.recursive = v }
}

// WithVerbose 输出加载与解析失败的诊断日志。
func WithVerbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// WithLogger 设置诊断日志，未设置日志的模块也会使用它。
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = logger.OrNop(l) }
}

// WithLoader 替换默认 Loader。
func WithLoader(l *loader.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithObserver 为所有模块设置周期观察者。
func WithObserver(obs module.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithDuplicatePolicy 设置同名模块处理方式。
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(o *options) { o.duplicates = p }
}

// WithModules 在目录扫描之前加入进程内创建的模块，所有权转移给管理器。
func WithModules(mods ...*module.Module) Option {
	return func(o *options) { o.preloaded = append(o.preloaded, mods...) }
}
