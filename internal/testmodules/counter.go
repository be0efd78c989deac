// Package testmodules 提供示例插件与测试共用的模块实现。
package testmodules

import (
	"go.uber.org/atomic"

	"github.com/lk2023060901/modhost/pkg/logger"
	"github.com/lk2023060901/modhost/pkg/module"
)

const (
	CounterName   = "TestModule"
	DependentName = "ModuleWithDependency"
)

// Counter 每个周期计数加一。
type Counter struct {
	n atomic.Uint32
}

// NewCounter 创建计数模块。
func NewCounter(opts ...module.Option) *module.Module {
	return module.New(module.NewInformation(CounterName), &Counter{}, opts...)
}

func (c *Counter) Work() {
	c.n.Inc()
}

// Count 返回已执行的周期数。
func (c *Counter) Count() uint32 {
	return c.n.Load()
}

// Dependent 读取依赖的 Counter 并记录其最新计数。
type Dependent struct {
	m    *module.Module
	seen atomic.Uint32
	ok   atomic.Bool
}

// NewDependent 创建依赖 Counter 的模块。
func NewDependent(opts ...module.Option) *module.Module {
	opts = append([]module.Option{module.WithDependencies(module.NewInformation(CounterName))}, opts...)
	return module.New(module.NewInformation(DependentName), &Dependent{}, opts...)
}

func (d *Dependent) Bind(m *module.Module) {
	d.m = m
}

func (d *Dependent) Work() {
	c, ok := module.DependencyAs[*Counter](d.m, CounterName)
	if !ok {
		return
	}
	n := c.Count()
	d.seen.Store(n)
	d.ok.Store(true)
	d.m.Logger().Info("counter observed", logger.Fields("count", n)...)
}

// Seen 返回最近一次读到的计数，尚未读到时第二个返回值为 false。
func (d *Dependent) Seen() (uint32, bool) {
	return d.seen.Load(), d.ok.Load()
}
