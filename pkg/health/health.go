// Package health 为宿主进程提供存活与就绪检查。
//
// 就绪检查要求每个模块都没有记录错误且协程未退出；存活检查限制协程数量与常驻内存。
package health

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lk2023060901/modhost/pkg/module"
)

// Population 是被检查的模块集合，*manager.Manager 满足该接口。
type Population interface {
	Modules() []*module.Module
	Closed() bool
}

// Config 健康检查配置
type Config struct {
	// GoroutineThreshold 协程数上限，0 表示不检查
	GoroutineThreshold int `yaml:"goroutine_threshold"`
	// MaxRSSMB 常驻内存上限（MB），0 表示不检查
	MaxRSSMB uint64 `yaml:"max_rss_mb"`
}

// NewHandler 创建包含 /live 与 /ready 端点的处理器。reg 非 nil 时检查结果同时导出为指标。
func NewHandler(p Population, cfg Config, reg prometheus.Registerer) healthcheck.Handler {
	var h healthcheck.Handler
	if reg != nil {
		h = healthcheck.NewMetricsHandler(reg, "modhost")
	} else {
		h = healthcheck.NewHandler()
	}
	if cfg.GoroutineThreshold > 0 {
		h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(cfg.GoroutineThreshold))
	}
	if cfg.MaxRSSMB > 0 {
		h.AddLivenessCheck("rss", MemoryCheck(cfg.MaxRSSMB<<20))
	}
	h.AddReadinessCheck("modules", ModulesReady(p))
	return h
}

// ModulesReady 在存在出错或已终止的模块时失败。
func ModulesReady(p Population) healthcheck.Check {
	return func() error {
		if p.Closed() {
			return errors.New("health: modules released")
		}
		var bad []string
		for _, m := range p.Modules() {
			switch {
			case m.State() == module.StateTerminated:
				bad = append(bad, m.String()+": terminated")
			case m.HasError():
				bad = append(bad, m.String()+": "+m.Err().Error())
			}
		}
		if len(bad) > 0 {
			return errors.Newf("health: %d module(s) unhealthy: %s", len(bad), strings.Join(bad, "; "))
		}
		return nil
	}
}

// MemoryCheck 在当前进程常驻内存超过 limit 字节时失败。
func MemoryCheck(limit uint64) healthcheck.Check {
	return func() error {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return errors.Wrap(err, "health: inspect process")
		}
		mem, err := proc.MemoryInfo()
		if err != nil {
			return errors.Wrap(err, "health: read memory info")
		}
		if mem.RSS > limit {
			return errors.Newf("health: rss %d exceeds limit %d", mem.RSS, limit)
		}
		return nil
	}
}
