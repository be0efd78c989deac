package logger

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	errEmptyLoggerName  = errors.New("logger: name is empty")
	errNilLogger        = errors.New("logger: logger is nil")
	errLoggerRegistered = errors.New("logger: name already registered")
)

// Registry 保存具名 Logger，由宿主显式创建并按引用传递。
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Logger
}

// NewRegistry 创建一个空的 Logger 注册表。
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Logger)}
}

// Register 注册具名 Logger。
func (r *Registry) Register(name string, l Logger) error {
	if name == "" {
		return errEmptyLoggerName
	}
	if l == nil {
		return errNilLogger
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return errors.Wrapf(errLoggerRegistered, "%s", name)
	}
	r.byName[name] = l
	return nil
}

// Get 按名称获取 Logger，若不存在返回 Nop。
func (r *Registry) Get(name string) Logger {
	if r == nil {
		return Nop()
	}
	r.mu.RLock()
	l := r.byName[name]
	r.mu.RUnlock()
	if l == nil {
		return Nop()
	}
	return l
}

// Names 返回已注册的 Logger 名称列表（按字典序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sync 刷新所有已注册 Logger，返回遇到的第一个错误。
func (r *Registry) Sync() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var first error
	for _, l := range r.byName {
		if err := l.Sync(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
