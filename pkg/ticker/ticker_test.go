package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestNew(t *testing.T) {
	tk := New(100*time.Millisecond, func() {})

	if tk.Interval() != 100*time.Millisecond {
		t.Errorf("Interval() = %v, want %v", tk.Interval(), 100*time.Millisecond)
	}
	if tk.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
}

func TestNewWithInvalidInterval(t *testing.T) {
	tk := New(0, func() {})
	if tk.Interval() != DefaultInterval {
		t.Errorf("Interval() = %v, want %v (default)", tk.Interval(), DefaultInterval)
	}

	tk = New(-1*time.Second, func() {})
	if tk.Interval() != DefaultInterval {
		t.Errorf("Interval() = %v, want %v (default)", tk.Interval(), DefaultInterval)
	}
}

func waitRunning(t *testing.T, tk *Ticker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !tk.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("ticker did not start")
		}
		time.Sleep(time.Millisecond)
	}
	// 等待 Start 创建底层 Ticker
	time.Sleep(10 * time.Millisecond)
}

// tick 推进一个间隔并等待回调计数达到 want
func tick(t *testing.T, mock *clock.Mock, d time.Duration, count *int64, want int64) {
	t.Helper()
	mock.Add(d)
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(count) < want {
		if time.Now().After(deadline) {
			t.Fatalf("Handler called %d times, want %d", atomic.LoadInt64(count), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTickerFiresOnMockClock(t *testing.T) {
	mock := clock.NewMock()
	var count int64
	tk := New(time.Second, func() {
		atomic.AddInt64(&count, 1)
	}, WithClock(mock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tk.Start(ctx)
	}()
	waitRunning(t, tk)

	for i := int64(1); i <= 3; i++ {
		tick(t, mock, time.Second, &count, i)
	}
	mock.Add(500 * time.Millisecond)

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Start() = %v, want %v", err, context.Canceled)
	}
	if tk.IsRunning() {
		t.Error("IsRunning() = true after cancel, want false")
	}
	if got := atomic.LoadInt64(&count); got != 3 {
		t.Errorf("Handler called %d times, want 3", got)
	}
}

func TestTickerStopMethod(t *testing.T) {
	tk := New(10*time.Millisecond, func() {})

	done := make(chan error, 1)
	go func() {
		done <- tk.Start(context.Background())
	}()
	waitRunning(t, tk)

	tk.Stop()
	if err := <-done; err != nil {
		t.Errorf("Start() = %v, want nil", err)
	}
	if tk.IsRunning() {
		t.Error("IsRunning() = true after Stop(), want false")
	}
}

func TestTickerDoubleStart(t *testing.T) {
	tk := New(100*time.Millisecond, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- tk.Start(ctx)
	}()
	waitRunning(t, tk)

	// 再次启动应该立即返回
	if err := tk.Start(ctx); err != nil {
		t.Errorf("Second Start() returned error: %v", err)
	}

	cancel()
	<-done
}

func TestTickerStopNotRunning(t *testing.T) {
	tk := New(100*time.Millisecond, func() {})
	tk.Stop()
	tk.Stop()
}

func TestTickerHandlerPanic(t *testing.T) {
	mock := clock.NewMock()
	var count int64
	tk := New(time.Second, func() {
		if atomic.AddInt64(&count, 1) == 1 {
			panic("boom")
		}
	}, WithClock(mock))

	done := make(chan error, 1)
	go func() {
		done <- tk.Start(context.Background())
	}()
	waitRunning(t, tk)

	tick(t, mock, time.Second, &count, 1)
	tick(t, mock, time.Second, &count, 2)
	tk.Stop()
	<-done

	if got := atomic.LoadInt64(&count); got != 2 {
		t.Errorf("Handler called %d times, want 2", got)
	}
}

func TestTickerRestart(t *testing.T) {
	mock := clock.NewMock()
	var count int64
	tk := New(time.Second, func() {
		atomic.AddInt64(&count, 1)
	}, WithClock(mock))

	for i := int64(1); i <= 2; i++ {
		done := make(chan error, 1)
		go func() {
			done <- tk.Start(context.Background())
		}()
		waitRunning(t, tk)
		tick(t, mock, time.Second, &count, i)
		tk.Stop()
		<-done
	}

	if got := atomic.LoadInt64(&count); got != 2 {
		t.Errorf("Handler called %d times, want 2", got)
	}
}
