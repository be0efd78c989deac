package module

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const waitFor = 2 * time.Second

type counter struct {
	n atomic.Int64
}

func (c *counter) Work() {
	c.n.Inc()
}

func (c *counter) Count() int64 {
	return c.n.Load()
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Work()    { r.add("work") }
func (r *recorder) OnStart() { r.add("start") }
func (r *recorder) OnStop()  { r.add("stop") }

func waitState(t *testing.T, m *Module, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, waitFor, time.Millisecond)
}

func TestNewEntersIdle(t *testing.T) {
	m := New(NewInformation("TestModule"), &counter{})
	defer m.Close()

	waitState(t, m, StateIdle)
	assert.True(t, m.IsRunning())
	assert.False(t, m.IsEnabled())
	assert.False(t, m.HasError())
	assert.NoError(t, m.Err())
	assert.Equal(t, "TestModule 0.1.0", m.String())
}

func TestStartTwice(t *testing.T) {
	m := New(NewInformation("TestModule"), &counter{})
	defer m.Close()

	assert.True(t, m.Start())
	assert.False(t, m.Start())
	assert.True(t, m.IsEnabled())
}

func TestCycleTime(t *testing.T) {
	m := New(NewInformation("TestModule"), &counter{})
	defer m.Close()

	assert.Equal(t, DefaultCycleTime, m.CycleTime())
	m.SetCycleTime(800 * time.Millisecond)
	assert.Equal(t, 800*time.Millisecond, m.CycleTime())

	require.True(t, m.Start())
	m.SetCycleTime(300 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, m.CycleTime())

	m.SetCycleTime(-time.Second)
	assert.Equal(t, time.Duration(0), m.CycleTime())

	m2 := New(NewInformation("Other"), nil, WithCycleTime(-time.Second))
	defer m2.Close()
	assert.Equal(t, time.Duration(0), m2.CycleTime())
}

func TestStopThenStartAgain(t *testing.T) {
	c := &counter{}
	m := New(NewInformation("TestModule"), c, WithCycleTime(5*time.Millisecond))
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return c.Count() >= 1 }, waitFor, time.Millisecond)

	m.Stop()
	assert.False(t, m.IsEnabled())
	assert.True(t, m.IsRunning())
	waitState(t, m, StateIdle)

	before := c.Count()
	require.True(t, m.Start())
	require.Eventually(t, func() bool { return c.Count() > before }, waitFor, time.Millisecond)
}

func TestHookOrdering(t *testing.T) {
	r := &recorder{}
	m := New(NewInformation("Hooks"), r, WithCycleTime(2*time.Millisecond))
	defer m.Close()

	for range 2 {
		require.True(t, m.Start())
		require.Eventually(t, func() bool {
			ev := r.snapshot()
			return len(ev) > 0 && ev[len(ev)-1] == "work"
		}, waitFor, time.Millisecond)
		m.Stop()
		waitState(t, m, StateIdle)
	}

	ev := r.snapshot()
	require.NotEmpty(t, ev)
	assert.Equal(t, "start", ev[0])
	assert.Equal(t, "stop", ev[len(ev)-1])

	starts, stops := 0, 0
	active := false
	for _, e := range ev {
		switch e {
		case "start":
			assert.False(t, active, "start while already active")
			active = true
			starts++
		case "stop":
			assert.True(t, active, "stop without start")
			active = false
			stops++
		case "work":
			assert.True(t, active, "work outside of an activation")
		}
	}
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
}

func TestKillFromActiveRunsStopHook(t *testing.T) {
	r := &recorder{}
	m := New(NewInformation("Hooks"), r, WithCycleTime(time.Hour))

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return len(r.snapshot()) >= 2 }, waitFor, time.Millisecond)

	m.Kill()
	joined, err := m.Join()
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Equal(t, []string{"start", "work", "stop"}, r.snapshot())
	assert.Equal(t, StateTerminated, m.State())
}

func TestKillJoinWithinOneCycle(t *testing.T) {
	c := &counter{}
	m := New(NewInformation("TestModule"), c, WithCycleTime(200*time.Millisecond))

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return c.Count() >= 1 }, waitFor, time.Millisecond)

	begin := time.Now()
	m.Kill()
	joined, err := m.Join()
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Less(t, time.Since(begin), 200*time.Millisecond)
	assert.False(t, m.IsRunning())
	assert.False(t, m.IsEnabled())
}

func TestKillFromIdle(t *testing.T) {
	m := New(NewInformation("TestModule"), &counter{})
	m.Kill()

	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("worker did not exit")
	}
	assert.Equal(t, StateTerminated, m.State())
	assert.False(t, m.Start())
}

func TestJoinBeforeKill(t *testing.T) {
	m := New(NewInformation("TestModule"), &counter{})

	joined, err := m.Join()
	assert.False(t, joined)
	assert.True(t, errors.Is(err, ErrNotKilled))

	m.Kill()
	joined, err = m.Join()
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = m.Join()
	require.NoError(t, err)
	assert.False(t, joined)

	assert.NoError(t, m.Close())
}

func TestOverBudgetCycleDoesNotWait(t *testing.T) {
	mock := clock.NewMock()
	var n atomic.Int64
	w := WorkerFunc(func() {
		n.Inc()
		mock.Add(600 * time.Millisecond)
	})
	m := New(NewInformation("Slow"), w, WithClock(mock))
	defer m.Close()

	require.True(t, m.Start())
	// 时钟只在 Work 内部推进，若存在等待则第二次 Work 不会发生。
	require.Eventually(t, func() bool { return n.Load() >= 3 }, waitFor, time.Millisecond)
	assert.True(t, m.WorkTooExpensive())

	start, end := m.LastCycle()
	assert.False(t, start.IsZero())
	assert.False(t, end.Before(start))
}

func TestWorkWithinBudgetWaitsRemainder(t *testing.T) {
	mock := clock.NewMock()
	c := &counter{}
	m := New(NewInformation("TestModule"), c, WithClock(mock), WithCycleTime(100*time.Millisecond))
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return c.Count() == 1 }, waitFor, time.Millisecond)
	assert.False(t, m.WorkTooExpensive())

	time.Sleep(10 * time.Millisecond)
	mock.Add(99 * time.Millisecond)
	assert.EqualValues(t, 1, c.Count())

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return c.Count() == 2 }, waitFor, time.Millisecond)
}

func TestCounterEndToEnd(t *testing.T) {
	mock := clock.NewMock()
	c := &counter{}
	m := New(NewInformation("TestModule"), c, WithClock(mock))
	defer m.Close()

	require.Equal(t, 500*time.Millisecond, m.CycleTime())
	require.True(t, m.Start())
	require.Eventually(t, func() bool { return c.Count() == 1 }, waitFor, time.Millisecond)

	for elapsed := time.Duration(0); elapsed < 990*time.Millisecond; elapsed += 10 * time.Millisecond {
		mock.Add(10 * time.Millisecond)
	}

	m.Stop()
	waitState(t, m, StateIdle)
	assert.EqualValues(t, 2, c.Count())
	assert.False(t, m.HasError())
}

func TestPanicIsRecordedAsError(t *testing.T) {
	var n atomic.Int64
	m := New(NewInformation("Panicky"), WorkerFunc(func() {
		if n.Inc() == 1 {
			panic("boom")
		}
	}), WithCycleTime(time.Millisecond))
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return n.Load() >= 2 }, waitFor, time.Millisecond)
	require.True(t, m.HasError())
	assert.Contains(t, m.Err().Error(), "boom")
	assert.True(t, m.IsEnabled())

	m.SetErr(nil)
	assert.False(t, m.HasError())
}

type binder struct {
	counter
	bound *Module
}

func (b *binder) Bind(m *Module) {
	b.bound = m
}

func TestBinderReceivesModule(t *testing.T) {
	b := &binder{}
	m := New(NewInformation("Bound"), b)
	defer m.Close()

	assert.Same(t, m, b.bound)
	assert.Same(t, b, m.Worker())
}

type fakeResolver map[Handle]*Module

func (r fakeResolver) Resolve(h Handle) (*Module, bool) {
	m, ok := r[h]
	return m, ok
}

func TestDependencyReferences(t *testing.T) {
	dep := New(NewInformation("TestModule"), &counter{})
	defer dep.Close()
	m := New(NewInformation("ModuleWithDependency"), nil, WithDependencies(NewInformation("TestModule")))
	defer m.Close()

	_, ok := m.Dependency("TestModule")
	assert.False(t, ok)
	assert.False(t, m.HasDependency("TestModule"))

	h := Handle{Index: 0, Generation: 1}
	res := fakeResolver{h: dep}
	m.SetDependency("TestModule", NewRef(res, h))

	got, ok := m.Dependency("TestModule")
	require.True(t, ok)
	assert.Same(t, dep, got)
	assert.True(t, got.Information().Equal(NewInformation("TestModule")))

	c, ok := DependencyAs[*counter](m, "TestModule")
	require.True(t, ok)
	assert.Equal(t, int64(0), c.Count())

	_, ok = DependencyAs[*recorder](m, "TestModule")
	assert.False(t, ok)

	delete(res, h)
	_, ok = m.Dependency("TestModule")
	assert.False(t, ok)

	_, ok = Ref{}.Resolve()
	assert.False(t, ok)
}

type cycleObserver struct {
	mu     sync.Mutex
	cycles int
	over   int
}

func (o *cycleObserver) ObserveCycle(_ Information, _ time.Duration, overBudget bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles++
	if overBudget {
		o.over++
	}
}

func (o *cycleObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycles, o.over
}

func TestObserverSeesCycles(t *testing.T) {
	obs := &cycleObserver{}
	m := New(NewInformation("Observed"), &counter{}, WithCycleTime(0), WithObserver(obs))
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, func() bool {
		cycles, _ := obs.counts()
		return cycles >= 3
	}, waitFor, time.Millisecond)
	m.Stop()
	waitState(t, m, StateIdle)

	cycles, over := obs.counts()
	assert.Equal(t, cycles, over)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown", State(42).String())
}
