package app

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/lk2023060901/modhost/pkg/health"
	"github.com/lk2023060901/modhost/pkg/logger"
	"github.com/lk2023060901/modhost/pkg/scheduler"
)

// Config 表示应用配置结构。
type Config struct {
	// Loggers 表示日志配置段。
	Loggers []logger.NamedConfig `yaml:"loggers"`

	// Host 表示宿主行为配置段。
	Host HostConfig `yaml:"host"`

	// Modules 表示按模块名覆盖的运行参数。
	Modules []ModuleConfig `yaml:"modules"`

	// Schedules 表示按 cron 表达式启停模块的时间窗口。
	Schedules []ScheduleConfig `yaml:"schedules"`

	// Scheduler 表示调度器配置，为空时使用默认配置。
	Scheduler *scheduler.Config `yaml:"scheduler"`

	// Admin 表示指标与健康检查端点配置。
	Admin AdminConfig `yaml:"admin"`
}

// HostConfig 表示宿主行为配置。
type HostConfig struct {
	// Logger 表示宿主使用的具名日志，需在 loggers 中声明。
	Logger string `yaml:"logger"`
	// Modules 表示模块发现配置。
	Modules DiscoveryConfig `yaml:"modules"`
	// Verbose 表示是否记录加载与解析失败。
	Verbose bool `yaml:"verbose"`
	// Autostart 表示 Start 时是否启动全部模块。
	Autostart bool `yaml:"autostart"`
	// RejectDuplicates 表示是否丢弃后发现的同名模块。
	RejectDuplicates bool `yaml:"reject_duplicates"`
	// StatusInterval 表示状态汇报间隔，0 表示不汇报。
	StatusInterval time.Duration `yaml:"status_interval"`
}

// DiscoveryConfig 表示模块发现配置。
type DiscoveryConfig struct {
	// Root 表示插件根目录，为空时不扫描。
	Root string `yaml:"root"`
	// Recursive 表示是否扫描子目录。
	Recursive bool `yaml:"recursive"`
}

// ModuleConfig 表示单个模块的覆盖参数。
type ModuleConfig struct {
	Name      string        `yaml:"name"`
	CycleTime time.Duration `yaml:"cycle_time"`
	// Autostart 为空时沿用 host.autostart。
	Autostart *bool `yaml:"autostart"`
}

// ScheduleConfig 表示一个模块的启停时间窗口。
type ScheduleConfig struct {
	Module string `yaml:"module"`
	Start  string `yaml:"start"`
	Stop   string `yaml:"stop"`
}

// AdminConfig 表示指标与健康检查端点配置。
type AdminConfig struct {
	// Listen 表示监听地址，为空时不启动。
	Listen string `yaml:"listen"`
	// Health 表示存活检查阈值。
	Health health.Config `yaml:"health"`
}

// LoadConfigFromFile 从 YAML 文件加载应用配置。
func LoadConfigFromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "app: read config %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "app: parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 校验模块覆盖与时间窗口配置。
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Modules))
	for i, m := range c.Modules {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return errors.Newf("app: modules[%d]: name is empty", i)
		}
		if _, ok := seen[name]; ok {
			return errors.Newf("app: modules[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if m.CycleTime < 0 {
			return errors.Newf("app: modules[%d]: negative cycle_time %s", i, m.CycleTime)
		}
	}
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Module) == "" {
			return errors.Newf("app: schedules[%d]: module is empty", i)
		}
		if strings.TrimSpace(s.Start) == "" || strings.TrimSpace(s.Stop) == "" {
			return errors.Newf("app: schedules[%d]: start and stop are required", i)
		}
	}
	if c.Host.StatusInterval < 0 {
		return errors.Newf("app: host.status_interval is negative")
	}
	return nil
}

func (c Config) override(name string) (ModuleConfig, bool) {
	for _, m := range c.Modules {
		if strings.TrimSpace(m.Name) == name {
			return m, true
		}
	}
	return ModuleConfig{}, false
}
