package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newBus(t *testing.T) *Bus[string] {
	t.Helper()
	b, err := New[string]()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishOnlyReachesChannel(t *testing.T) {
	b := newBus(t)

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(ch string) Handler[string] {
		return func(p string) {
			mu.Lock()
			got[ch] = append(got[ch], p)
			mu.Unlock()
		}
	}

	_, err := b.Subscribe("location", record("location"))
	require.NoError(t, err)
	_, err = b.Subscribe("status", record("status"))
	require.NoError(t, err)

	assert.Equal(t, 1, b.Publish("location", "fix"))
	assert.Equal(t, 0, b.Publish("missing", "nobody"))

	assert.Equal(t, []string{"fix"}, got["location"])
	assert.Empty(t, got["status"])
}

func TestSubscribeGeneratesUniqueNames(t *testing.T) {
	b := newBus(t)

	a, err := b.Subscribe("ch", func(string) {})
	require.NoError(t, err)
	c, err := b.Subscribe("ch", func(string) {})
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 2, b.Subscribers("ch"))
}

func TestSubscribeNamedReplacesAndUnsubscribe(t *testing.T) {
	b := newBus(t)

	var first, second atomic.Int64
	require.NoError(t, b.SubscribeNamed("ch", "logger", func(string) { first.Inc() }))
	require.NoError(t, b.SubscribeNamed("ch", "logger", func(string) { second.Inc() }))
	assert.Equal(t, 1, b.Subscribers("ch"))

	b.Publish("ch", "x")
	assert.EqualValues(t, 0, first.Load())
	assert.EqualValues(t, 1, second.Load())

	assert.True(t, b.Unsubscribe("ch", "logger"))
	assert.False(t, b.Unsubscribe("ch", "logger"))
	assert.False(t, b.Unsubscribe("other", "logger"))
	assert.Equal(t, 0, b.Publish("ch", "y"))
}

func TestSubscribeValidation(t *testing.T) {
	b := newBus(t)

	assert.True(t, errors.Is(b.SubscribeNamed("ch", "", func(string) {}), ErrEmptyName))
	assert.True(t, errors.Is(b.SubscribeNamed("ch", "n", nil), ErrNilCallback))
	_, err := b.Subscribe("ch", nil)
	assert.True(t, errors.Is(err, ErrNilCallback))
}

func TestClear(t *testing.T) {
	b := newBus(t)

	_, _ = b.Subscribe("a", func(string) {})
	_, _ = b.Subscribe("b", func(string) {})

	b.Clear("a")
	assert.Equal(t, 0, b.Subscribers("a"))
	assert.Equal(t, 1, b.Subscribers("b"))
	assert.Equal(t, []string{"b"}, b.Channels())

	b.ClearAll()
	assert.Equal(t, 0, b.Subscribers("b"))
	assert.Empty(t, b.Channels())
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	b := newBus(t)

	var n atomic.Int64
	_, _ = b.Subscribe("ch", func(string) { panic("boom") })
	_, _ = b.Subscribe("ch", func(string) { n.Inc() })

	assert.NotPanics(t, func() { b.Publish("ch", "x") })
	assert.EqualValues(t, 1, n.Load())
}

func TestSubscribeFromCallback(t *testing.T) {
	b := newBus(t)

	_, _ = b.Subscribe("ch", func(string) {
		_, _ = b.Subscribe("ch", func(string) {})
	})
	b.Publish("ch", "x")
	assert.Equal(t, 2, b.Subscribers("ch"))
}

func TestPublishAsync(t *testing.T) {
	b := newBus(t)

	done := make(chan string, 1)
	_, _ = b.Subscribe("ch", func(p string) { done <- p })

	require.NoError(t, b.PublishAsync("ch", "async"))
	select {
	case p := <-done:
		assert.Equal(t, "async", p)
	case <-time.After(2 * time.Second):
		t.Fatal("async publish not delivered")
	}
}

func TestClosedBus(t *testing.T) {
	b, err := New[int](WithPoolSize(2))
	require.NoError(t, err)

	_, _ = b.Subscribe("ch", func(int) {})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.Equal(t, 0, b.Publish("ch", 1))
	assert.True(t, errors.Is(b.PublishAsync("ch", 1), ErrClosed))
	_, err = b.Subscribe("ch", func(int) {})
	assert.True(t, errors.Is(err, ErrClosed))
}
