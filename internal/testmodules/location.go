package testmodules

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/modhost/pkg/logger"
	"github.com/lk2023060901/modhost/pkg/module"
)

const (
	LocationFixName  = "LocationFix"
	LocationUserName = "LocationUser"

	// LocationChannel 是定位结果的发布频道。
	LocationChannel = "location"
)

var errNoFix = errors.New("testmodules: fix source exhausted")

// Mode 定位模式。
type Mode int

const (
	ModeNone Mode = iota
	ModeNoFix
	Mode2D
	Mode3D
)

// Fix 是一次定位结果。
type Fix struct {
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Altitude  float64   `json:"altitude"`
	Speed     float64   `json:"speed"`
	Climb     float64   `json:"climb"`
	Time      time.Time `json:"time"`
	Mode      Mode      `json:"mode"`
}

// HasFix 判断是否为二维或三维定位。
func (f Fix) HasFix() bool {
	return f.Mode == Mode2D || f.Mode == Mode3D
}

// Valid 判断经纬度是否有效。
func (f Fix) Valid() bool {
	return f.Longitude != 0 && f.Latitude != 0
}

// FixSource 提供定位结果。
type FixSource interface {
	Next() (Fix, error)
}

// ReplaySource 循环回放一组固定的定位结果。
type ReplaySource struct {
	mu    sync.Mutex
	fixes []Fix
	pos   int
}

// NewReplaySource 创建回放源。
func NewReplaySource(fixes ...Fix) *ReplaySource {
	return &ReplaySource{fixes: fixes}
}

func (s *ReplaySource) Next() (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fixes) == 0 {
		return Fix{}, errNoFix
	}
	f := s.fixes[s.pos%len(s.fixes)]
	s.pos++
	return f, nil
}

// Publisher 是 LocationFix 发布结果所需的总线能力。
type Publisher interface {
	Publish(channel string, payload any) int
}

// LocationFix 每个周期从 FixSource 读取一次定位，保存最新结果并发布有效定位。
type LocationFix struct {
	m   *module.Module
	src FixSource
	pub Publisher

	mu        sync.Mutex
	latest    Fix
	readError bool
}

// NewLocationFix 创建定位模块，pub 可为 nil。
func NewLocationFix(src FixSource, pub Publisher, opts ...module.Option) *module.Module {
	return module.New(module.NewInformation(LocationFixName), &LocationFix{src: src, pub: pub}, opts...)
}

func (l *LocationFix) Bind(m *module.Module) {
	l.m = m
}

func (l *LocationFix) OnStart() {
	l.mu.Lock()
	l.readError = false
	l.mu.Unlock()
	l.m.SetErr(nil)
}

func (l *LocationFix) OnStop() {
	if c, ok := l.src.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			l.m.SetErr(err)
		}
	}
}

func (l *LocationFix) Work() {
	fix, err := l.src.Next()
	l.mu.Lock()
	l.readError = err != nil
	if err == nil {
		l.latest = fix
	}
	l.mu.Unlock()

	if err != nil {
		l.m.SetErr(errors.Wrap(err, "testmodules: read fix"))
		return
	}
	if fix.HasFix() && l.pub != nil {
		l.pub.Publish(LocationChannel, fix)
	}
}

// Latest 返回最新定位结果的副本。
func (l *LocationFix) Latest() Fix {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest
}

// ReadError 返回上一次读取是否失败。
func (l *LocationFix) ReadError() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readError
}

// LocationUser 读取依赖的 LocationFix 并输出经纬度。
type LocationUser struct {
	m *module.Module

	mu   sync.Mutex
	last Fix
}

// NewLocationUser 创建依赖 LocationFix 的模块。
func NewLocationUser(opts ...module.Option) *module.Module {
	opts = append([]module.Option{module.WithDependencies(module.NewInformation(LocationFixName))}, opts...)
	return module.New(module.NewInformation(LocationUserName), &LocationUser{}, opts...)
}

func (u *LocationUser) Bind(m *module.Module) {
	u.m = m
}

func (u *LocationUser) Work() {
	lf, ok := module.DependencyAs[*LocationFix](u.m, LocationFixName)
	if !ok {
		return
	}
	fix := lf.Latest()
	u.mu.Lock()
	u.last = fix
	u.mu.Unlock()
	u.m.Logger().Info("location", logger.Fields("lng", fix.Longitude, "lat", fix.Latitude)...)
}

// Last 返回最近一次读到的定位。
func (u *LocationUser) Last() Fix {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}
