package manager

import (
	"sync"

	"github.com/lk2023060901/modhost/pkg/module"
)

// arena 按发现顺序保存模块，并对外发放 Handle。
// release 之后代数递增，之前发放的所有 Handle 都不再能解析。
type arena struct {
	mu         sync.RWMutex
	modules    []*module.Module
	generation uint64
}

func newArena() *arena {
	return &arena{generation: 1}
}

func (a *arena) add(m *module.Module) module.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modules = append(a.modules, m)
	return module.Handle{Index: len(a.modules) - 1, Generation: a.generation}
}

func (a *arena) handle(i int) module.Handle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return module.Handle{Index: i, Generation: a.generation}
}

func (a *arena) Resolve(h module.Handle) (*module.Module, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h.Generation != a.generation || h.Index < 0 || h.Index >= len(a.modules) {
		return nil, false
	}
	return a.modules[h.Index], true
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.modules)
}

func (a *arena) at(i int) (*module.Module, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.modules) {
		return nil, false
	}
	return a.modules[i], true
}

func (a *arena) snapshot() []*module.Module {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*module.Module(nil), a.modules...)
}

func (a *arena) release() []*module.Module {
	a.mu.Lock()
	defer a.mu.Unlock()
	mods := a.modules
	a.modules = nil
	a.generation++
	return mods
}

var _ module.Resolver = (*arena)(nil)
