package scheduler

import (
	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/modhost/pkg/logger"
)

// Switchable 是可以被时间窗口启停的对象，*module.Module 满足该接口。
type Switchable interface {
	Start() bool
	Stop()
	String() string
}

// Window 是一对启停任务。
type Window struct {
	Name    string
	StartID JobID
	StopID  JobID
}

// AddWindow 注册两个任务：按 startSpec 启动 target，按 stopSpec 停止 target。
// 窗口任务不重试，Start 返回 false（已启用或已终止）只记录调试日志。
func (s *Scheduler) AddWindow(name, startSpec, stopSpec string, target Switchable) (Window, error) {
	if target == nil {
		return Window{}, errors.Newf("scheduler: window %s has no target", name)
	}

	startID, err := s.AddFunc(name+"/start", startSpec, func() error {
		if !target.Start() {
			s.logger.Debug("window start ignored", logger.Fields(
				"window", name,
				"target", target.String(),
			)...)
		}
		return nil
	}, WithNoRetry())
	if err != nil {
		return Window{}, err
	}

	stopID, err := s.AddFunc(name+"/stop", stopSpec, func() error {
		target.Stop()
		return nil
	}, WithNoRetry())
	if err != nil {
		s.RemoveJob(startID)
		return Window{}, err
	}

	return Window{Name: name, StartID: startID, StopID: stopID}, nil
}

// RemoveWindow 移除窗口的两个任务。
func (s *Scheduler) RemoveWindow(w Window) {
	s.RemoveJob(w.StartID)
	s.RemoveJob(w.StopID)
}
