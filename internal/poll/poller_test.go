package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter returns an OnPoll that keeps polling until it has run n times.
func counter(n int32, calls *atomic.Int32) func(context.Context) (bool, error) {
	return func(context.Context) (bool, error) {
		return calls.Add(1) < n, nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPoller_CompletesWhenPollReturnsFalse(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		var completed, timedOut atomic.Bool

		p := New(Config{
			Interval:   time.Second,
			Timeout:    time.Minute,
			OnPoll:     counter(4, &calls),
			OnComplete: func() { completed.Store(true) },
			OnTimeout:  func() { timedOut.Store(true) },
			Logger:     quietLogger(),
		})

		start := time.Now()
		p.Start(t.Context())
		<-p.Done()

		assert.Equal(t, int32(4), calls.Load())
		assert.Equal(t, 3*time.Second, time.Since(start))
		assert.True(t, completed.Load())
		assert.False(t, timedOut.Load())
		assert.True(t, p.Completed())
	})
}

func TestPoller_FirstPollFalseCompletesSynchronously(t *testing.T) {
	var completed atomic.Bool
	p := New(Config{
		Interval:   time.Hour,
		OnPoll:     func(context.Context) (bool, error) { return false, nil },
		OnComplete: func() { completed.Store(true) },
		Logger:     quietLogger(),
	})

	p.Start(context.Background())
	assert.True(t, completed.Load(), "OnComplete runs before Start returns")

	select {
	case <-p.Done():
	default:
		t.Fatal("run should already be done")
	}
}

func TestPoller_TimeoutFires(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		var completed, timedOut atomic.Bool

		p := New(Config{
			Interval:   time.Second,
			Timeout:    3500 * time.Millisecond,
			OnPoll:     counter(1000, &calls),
			OnComplete: func() { completed.Store(true) },
			OnTimeout:  func() { timedOut.Store(true) },
			Logger:     quietLogger(),
		})

		start := time.Now()
		p.Start(t.Context())
		<-p.Done()

		assert.Equal(t, 3500*time.Millisecond, time.Since(start))
		assert.Equal(t, int32(4), calls.Load(), "initial poll plus ticks at 1s, 2s, 3s")
		assert.True(t, timedOut.Load())
		assert.False(t, completed.Load())
		assert.True(t, p.Completed())
	})
}

func TestPoller_NoTimeoutPollsUntilDone(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		p := New(Config{
			Interval: time.Minute,
			OnPoll:   counter(30, &calls),
			Logger:   quietLogger(),
		})

		p.Start(t.Context())
		<-p.Done()
		assert.Equal(t, int32(30), calls.Load())
	})
}

func TestPoller_StopEndsRunSilently(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		var callbacks atomic.Int32

		p := New(Config{
			Interval:   time.Second,
			Timeout:    time.Minute,
			OnPoll:     counter(1000, &calls),
			OnComplete: func() { callbacks.Add(1) },
			OnTimeout:  func() { callbacks.Add(1) },
			Logger:     quietLogger(),
		})

		p.Start(t.Context())
		time.Sleep(1500 * time.Millisecond)
		p.Stop()
		<-p.Done()

		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, int32(0), callbacks.Load())
		assert.False(t, p.Completed())
	})
}

func TestPoller_MarkCompletedStopsAtNextTick(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		var completed atomic.Bool

		p := New(Config{
			Interval:   time.Second,
			OnPoll:     counter(1000, &calls),
			OnComplete: func() { completed.Store(true) },
			Logger:     quietLogger(),
		})

		p.Start(t.Context())
		time.Sleep(500 * time.Millisecond)
		p.MarkCompleted()
		<-p.Done()

		assert.Equal(t, int32(1), calls.Load(), "no poll after being marked completed")
		assert.False(t, completed.Load())
		assert.True(t, p.Completed())
	})
}

func TestPoller_ResetRestartsRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		p := New(Config{
			Interval: time.Second,
			OnPoll:   counter(1000, &calls),
			Logger:   quietLogger(),
		})

		p.Start(t.Context())
		first := p.Done()
		time.Sleep(2500 * time.Millisecond)

		p.Reset(t.Context())
		<-first
		assert.Equal(t, int32(4), calls.Load(), "three polls from the first run, one from the reset")

		p.Stop()
		<-p.Done()
	})
}

func TestPoller_ParentContextCancelEndsRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		var completed atomic.Bool

		p := New(Config{
			Interval:   time.Second,
			OnPoll:     counter(1000, &calls),
			OnComplete: func() { completed.Store(true) },
			Logger:     quietLogger(),
		})

		ctx, cancel := context.WithCancel(t.Context())
		p.Start(ctx)
		time.Sleep(1500 * time.Millisecond)
		cancel()
		<-p.Done()

		assert.Equal(t, int32(2), calls.Load())
		assert.False(t, completed.Load())
	})
}

func TestPoller_PollErrorsKeepPolling(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		p := New(Config{
			Interval: time.Second,
			OnPoll: func(context.Context) (bool, error) {
				switch calls.Add(1) {
				case 1, 2:
					return false, errors.New("503 from job endpoint")
				case 3:
					return true, nil
				}
				return false, nil
			},
			Logger: quietLogger(),
		})

		p.Start(t.Context())
		<-p.Done()
		assert.Equal(t, int32(4), calls.Load())
		assert.True(t, p.Completed())
	})
}

func TestPoller_DoneBeforeStartIsClosed(t *testing.T) {
	p := New(Config{Interval: time.Second, OnPoll: func(context.Context) (bool, error) { return false, nil }})
	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed before the first Start")
	}
	assert.False(t, p.Completed())
}

func TestPoller_ResetWaitsForPreviousRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		var completions atomic.Int32
		release := make(chan struct{})

		p := New(Config{
			Interval: time.Second,
			OnPoll: func(context.Context) (bool, error) {
				// The first run finishes on its tick; the reset run keeps going.
				return calls.Add(1) != 2, nil
			},
			OnComplete: func() {
				if completions.Add(1) == 1 {
					<-release
				}
			},
			Logger: quietLogger(),
		})

		p.Start(t.Context())
		time.Sleep(1500 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, int32(1), completions.Load(), "first run is inside OnComplete")

		var reset atomic.Bool
		go func() {
			p.Reset(t.Context())
			reset.Store(true)
		}()
		synctest.Wait()
		assert.False(t, reset.Load(), "Reset waits for the previous run to end")

		close(release)
		synctest.Wait()
		assert.True(t, reset.Load())
		assert.False(t, p.Completed(), "the old run's completion does not leak into the new run")
		assert.Equal(t, int32(3), calls.Load())

		time.Sleep(2500 * time.Millisecond)
		assert.Equal(t, int32(5), calls.Load(), "the new run keeps polling")

		p.Stop()
		<-p.Done()
	})
}
