// Package metrics 将模块周期耗时导出为 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lk2023060901/modhost/pkg/module"
)

const namespace = "modhost"

// Collector 同时实现 module.Observer 与 prometheus.Collector。
type Collector struct {
	cycles     *prometheus.CounterVec
	overBudget *prometheus.CounterVec
	work       *prometheus.HistogramVec
}

// NewCollector 创建指标收集器，buckets 为空时使用 prometheus.DefBuckets。
func NewCollector(buckets ...float64) *Collector {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	labels := []string{"module", "version"}
	return &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "cycles_total",
			Help:      "Number of completed work cycles.",
		}, labels),
		overBudget: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "over_budget_total",
			Help:      "Number of work cycles whose duration reached the cycle time.",
		}, labels),
		work: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "work_seconds",
			Help:      "Duration of a single Work call.",
			Buckets:   buckets,
		}, labels),
	}
}

// ObserveCycle 记录一个周期。
func (c *Collector) ObserveCycle(info module.Information, elapsed time.Duration, overBudget bool) {
	name, version := info.Name(), info.Version().String()
	c.cycles.WithLabelValues(name, version).Inc()
	if overBudget {
		c.overBudget.WithLabelValues(name, version).Inc()
	}
	c.work.WithLabelValues(name, version).Observe(elapsed.Seconds())
}

// Describe 实现 prometheus.Collector。
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.cycles.Describe(ch)
	c.overBudget.Describe(ch)
	c.work.Describe(ch)
}

// Collect 实现 prometheus.Collector。
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.cycles.Collect(ch)
	c.overBudget.Collect(ch)
	c.work.Collect(ch)
}

var (
	_ module.Observer      = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)
