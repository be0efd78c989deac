package module

// State 表示模块生命周期状态。
type State int32

const (
	// StateCreated 表示模块已构造，工作协程尚未进入等待。
	StateCreated State = iota
	// StateIdle 表示工作协程在等待启用。
	StateIdle
	// StateActive 表示模块正在按周期执行 Work。
	StateActive
	// StateTerminated 表示工作协程已退出。
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
