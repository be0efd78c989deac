// Package loader 将磁盘上的插件文件解析为存活的模块实例。
//
// 插件必须导出 ABIVersion 字符串变量与 Create 工厂函数，见 module.ABISymbol 与 module.FactorySymbol。
package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/modhost/pkg/logger"
	"github.com/lk2023060901/modhost/pkg/module"
)

// 加载失败的错误类别，返回时均以路径包装，可用 errors.Is 匹配。
var (
	ErrNotExist     = errors.New("loader: path does not exist")
	ErrNotFile      = errors.New("loader: path is not a regular file")
	ErrExtension    = errors.New("loader: unsupported file extension")
	ErrOpen         = errors.New("loader: open library failed")
	ErrSymbol       = errors.New("loader: symbol not found")
	ErrABIMismatch  = errors.New("loader: abi version mismatch")
	ErrFactory      = errors.New("loader: factory failed")
	ErrTypeMismatch = errors.New("loader: worker type mismatch")
)

// Loader 打开插件并调用其工厂。同一绝对路径只打开一次。
type Loader struct {
	opener  Opener
	logger  logger.Logger
	verbose bool

	mu   sync.Mutex
	libs map[string]Library
}

// Option Loader 构造选项。
type Option func(*Loader)

// WithOpener 替换平台动态库打开方式。
func WithOpener(o Opener) Option {
	return func(l *Loader) {
		if o != nil {
			l.opener = o
		}
	}
}

// WithLogger 设置诊断日志。
func WithLogger(lg logger.Logger) Option {
	return func(l *Loader) {
		l.logger = logger.OrNop(lg)
	}
}

// WithVerbose 控制加载失败是否写入诊断日志。
func WithVerbose(v bool) Option {
	return func(l *Loader) {
		l.verbose = v
	}
}

// New 创建 Loader，默认使用标准库 plugin。
func New(opts ...Option) *Loader {
	l := &Loader{
		opener: PluginOpener(),
		logger: logger.Nop(),
		libs:   make(map[string]Library),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load 打开 path 指向的插件并创建一个模块实例。
func (l *Loader) Load(path string) (*module.Module, error) {
	m, err := l.load(path)
	if err != nil {
		if l.verbose {
			l.logger.Warn("load module failed", logger.Fields("path", path, "error", err)...)
		}
		return nil, err
	}
	if l.verbose {
		l.logger.Debug("module loaded", logger.Fields("path", path, "module", m.String())...)
	}
	return m, nil
}

func (l *Loader) load(path string) (*module.Module, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrNotExist), "loader: stat %s", path)
	}
	if !fi.Mode().IsRegular() {
		return nil, errors.Wrapf(ErrNotFile, "%s", path)
	}
	if filepath.Ext(path) != Suffix {
		return nil, errors.Wrapf(ErrExtension, "%s", path)
	}

	lib, err := l.open(path)
	if err != nil {
		return nil, err
	}
	if err := checkABI(lib); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	factory, err := lookupFactory(lib)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	m, err := invoke(factory)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return m, nil
}

func (l *Loader) open(path string) (Library, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lib, ok := l.libs[abs]; ok {
		return lib, nil
	}
	lib, err := l.opener.Open(abs)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrOpen), "loader: open %s", path)
	}
	if lib == nil {
		return nil, errors.Wrapf(ErrOpen, "%s", path)
	}
	l.libs[abs] = lib
	return lib, nil
}

func checkABI(lib Library) error {
	sym, err := lib.Lookup(module.ABISymbol)
	if err != nil {
		return errors.Wrapf(errors.Mark(err, ErrSymbol), "loader: lookup %s", module.ABISymbol)
	}
	var got string
	switch v := sym.(type) {
	case *string:
		if v == nil {
			return errors.Wrapf(ErrABIMismatch, "%s is nil", module.ABISymbol)
		}
		got = *v
	case string:
		got = v
	default:
		return errors.Wrapf(ErrABIMismatch, "%s has type %T", module.ABISymbol, sym)
	}
	if got != module.ABIVersion {
		return errors.Wrapf(ErrABIMismatch, "got %q, want %q", got, module.ABIVersion)
	}
	return nil
}

func lookupFactory(lib Library) (module.Factory, error) {
	sym, err := lib.Lookup(module.FactorySymbol)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrSymbol), "loader: lookup %s", module.FactorySymbol)
	}
	switch f := sym.(type) {
	case func() *module.Module:
		if f != nil {
			return f, nil
		}
	case *func() *module.Module:
		if f != nil && *f != nil {
			return *f, nil
		}
	default:
		return nil, errors.Wrapf(ErrFactory, "%s has type %T", module.FactorySymbol, sym)
	}
	return nil, errors.Wrapf(ErrFactory, "%s is nil", module.FactorySymbol)
}

func invoke(factory module.Factory) (m *module.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, errors.Wrapf(ErrFactory, "panicked: %v", r)
		}
	}()
	m = factory()
	if m == nil {
		return nil, errors.Wrap(ErrFactory, "returned nil module")
	}
	return m, nil
}

// LoadAs 加载模块并断言其 Worker 为 T。断言失败时关闭已创建的模块并返回 ErrTypeMismatch。
func LoadAs[T any](l *Loader, path string) (*module.Module, T, error) {
	var zero T
	m, err := l.Load(path)
	if err != nil {
		return nil, zero, err
	}
	w, ok := m.Worker().(T)
	if !ok {
		_ = m.Close()
		err := errors.Wrapf(ErrTypeMismatch, "%s: worker is %T", path, m.Worker())
		if l.verbose {
			l.logger.Warn("load module failed", logger.Fields("path", path, "error", err)...)
		}
		return nil, zero, err
	}
	return m, w, nil
}

// LoadDirectory 加载 dir 下直接包含的插件文件，只保留加载成功的模块。
func (l *Loader) LoadDirectory(dir string) ([]*module.Module, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "loader: read dir %s", dir)
	}
	var mods []*module.Module
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Suffix {
			continue
		}
		if m, err := l.Load(filepath.Join(dir, e.Name())); err == nil {
			mods = append(mods, m)
		}
	}
	return mods, nil
}

// LoadDirectoryRecursive 与 LoadDirectory 相同，但会进入子目录。
// 无法读取的子目录被跳过。
func (l *Loader) LoadDirectoryRecursive(dir string) ([]*module.Module, error) {
	if _, err := os.ReadDir(dir); err != nil {
		return nil, errors.Wrapf(err, "loader: read dir %s", dir)
	}
	var mods []*module.Module
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if l.verbose {
				l.logger.Warn("skip unreadable path", logger.Fields("path", path, "error", err)...)
			}
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(d.Name()) != Suffix {
			return nil
		}
		if m, err := l.Load(path); err == nil {
			mods = append(mods, m)
		}
		return nil
	})
	if err != nil {
		return mods, errors.Wrapf(err, "loader: walk %s", dir)
	}
	return mods, nil
}
