package testmodules

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/modhost/pkg/module"
)

type staticResolver struct {
	m *module.Module
}

func (r staticResolver) Resolve(module.Handle) (*module.Module, bool) {
	return r.m, r.m != nil
}

type capture struct {
	mu   sync.Mutex
	msgs map[string][]any
}

func (c *capture) Publish(channel string, payload any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msgs == nil {
		c.msgs = map[string][]any{}
	}
	c.msgs[channel] = append(c.msgs[channel], payload)
	return 1
}

func (c *capture) count(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs[channel])
}

func TestDependentReadsCounter(t *testing.T) {
	counter := NewCounter(module.WithCycleTime(time.Millisecond))
	defer counter.Close()
	dependent := NewDependent(module.WithCycleTime(time.Millisecond))
	defer dependent.Close()

	require.Len(t, dependent.Dependencies(), 1)
	assert.True(t, dependent.Dependencies()[0].Equal(counter.Information()))

	dependent.SetDependency(CounterName, module.NewRef(staticResolver{m: counter}, module.Handle{}))

	require.True(t, counter.Start())
	require.True(t, dependent.Start())

	d := dependent.Worker().(*Dependent)
	require.Eventually(t, func() bool {
		n, ok := d.Seen()
		return ok && n > 0
	}, 2*time.Second, time.Millisecond)
}

func TestDependentWithoutReference(t *testing.T) {
	dependent := NewDependent(module.WithCycleTime(time.Millisecond))
	defer dependent.Close()

	require.True(t, dependent.Start())
	time.Sleep(10 * time.Millisecond)

	_, ok := dependent.Worker().(*Dependent).Seen()
	assert.False(t, ok)
	assert.False(t, dependent.HasError())
}

func TestLocationFixPublishesOnlyFixes(t *testing.T) {
	src := NewReplaySource(
		Fix{Longitude: 13.4, Latitude: 52.5, Mode: Mode3D},
		Fix{Mode: ModeNoFix},
	)
	pub := &capture{}
	m := NewLocationFix(src, pub, module.WithCycleTime(time.Millisecond))
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return pub.count(LocationChannel) >= 2 }, 2*time.Second, time.Millisecond)
	m.Stop()

	lf := m.Worker().(*LocationFix)
	assert.False(t, lf.ReadError())
	assert.False(t, m.HasError())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, p := range pub.msgs[LocationChannel] {
		fix := p.(Fix)
		assert.True(t, fix.HasFix())
		assert.True(t, fix.Valid())
	}
}

func TestLocationFixReadError(t *testing.T) {
	m := NewLocationFix(NewReplaySource(), nil, module.WithCycleTime(time.Millisecond))
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, m.HasError, 2*time.Second, time.Millisecond)
	assert.True(t, m.Worker().(*LocationFix).ReadError())
}

func TestLocationUserReadsLatest(t *testing.T) {
	fix := Fix{Longitude: 2.35, Latitude: 48.85, Mode: Mode2D}
	producer := NewLocationFix(NewReplaySource(fix), nil, module.WithCycleTime(time.Millisecond))
	defer producer.Close()
	user := NewLocationUser(module.WithCycleTime(time.Millisecond))
	defer user.Close()

	user.SetDependency(LocationFixName, module.NewRef(staticResolver{m: producer}, module.Handle{}))
	require.True(t, producer.Start())
	require.True(t, user.Start())

	u := user.Worker().(*LocationUser)
	require.Eventually(t, func() bool { return u.Last() == fix }, 2*time.Second, time.Millisecond)
}

func TestFixValidity(t *testing.T) {
	assert.False(t, Fix{}.HasFix())
	assert.False(t, Fix{}.Valid())
	assert.True(t, Fix{Mode: Mode2D}.HasFix())
	assert.False(t, Fix{Longitude: 1}.Valid())
	assert.True(t, Fix{Longitude: 1, Latitude: 1}.Valid())
}
