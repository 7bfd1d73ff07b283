package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func waitForAtLeast(t *testing.T, n *int64, want int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(n) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for calls >= %d, got %d", want, atomic.LoadInt64(n))
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("bad", "every minute please", func(context.Context) error { return nil })
	assert.Error(t, err)

	_, err = New("nil", "@every 1m", nil)
	assert.Error(t, err)
}

func TestNext_StandardSpecs(t *testing.T) {
	s, err := New("five", "*/5 * * * *", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(5*time.Minute), s.Next(epoch))

	s, err = New("every", "@every 30s", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(30*time.Second), s.Next(epoch))
}

func TestScheduler_TicksImmediatelyThenOnCadence(t *testing.T) {
	clk := NewFakeClock(epoch)
	var calls int64

	s, err := New("poller", "@every 1m", func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, WithClock(clk))
	require.NoError(t, err)

	require.True(t, s.Start())
	defer s.Stop()

	waitForAtLeast(t, &calls, 1, time.Second)
	require.True(t, clk.BlockUntil(1, time.Second))

	clk.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	clk.Advance(30 * time.Second)
	waitForAtLeast(t, &calls, 2, time.Second)
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	s, err := New("poller", "@every 1h", func(context.Context) error { return nil }, WithClock(NewFakeClock(epoch)))
	require.NoError(t, err)

	assert.False(t, s.Stop())
	assert.True(t, s.Start())
	assert.False(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.True(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.False(t, s.Stop())
}

func TestScheduler_TriggerNow(t *testing.T) {
	var calls int64
	s, err := New("poller", "@every 1h", func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, WithClock(NewFakeClock(epoch)))
	require.NoError(t, err)

	assert.False(t, s.TriggerNow())

	require.True(t, s.Start())
	defer s.Stop()
	waitForAtLeast(t, &calls, 1, time.Second)

	assert.True(t, s.TriggerNow())
	waitForAtLeast(t, &calls, 2, time.Second)
}

func TestScheduler_RecoversFromPanicAndErrors(t *testing.T) {
	clk := NewFakeClock(epoch)
	var calls int64

	s, err := New("poller", "@every 1m", func(context.Context) error {
		switch atomic.AddInt64(&calls, 1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("db down")
		}
		return nil
	}, WithClock(clk))
	require.NoError(t, err)

	require.True(t, s.Start())
	defer s.Stop()

	waitForAtLeast(t, &calls, 1, time.Second)
	require.True(t, clk.BlockUntil(1, time.Second))
	clk.Advance(time.Minute)
	waitForAtLeast(t, &calls, 2, time.Second)

	require.True(t, clk.BlockUntil(1, time.Second))
	clk.Advance(time.Minute)
	waitForAtLeast(t, &calls, 3, time.Second)
	assert.True(t, s.IsRunning())
}

func TestScheduler_StopWaitsForInFlightTick(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	s, err := New("slow", "@every 1h", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}, WithClock(NewFakeClock(epoch)))
	require.NoError(t, err)

	require.True(t, s.Start())
	<-started
	require.True(t, s.Stop())
	assert.True(t, finished.Load())
}

type stubLocker struct {
	grant    bool
	attempts int64
	released int64
}

func (l *stubLocker) TryLock(_ context.Context, _ string, _ time.Duration) (func(), bool, error) {
	atomic.AddInt64(&l.attempts, 1)
	if !l.grant {
		return nil, false, nil
	}
	return func() { atomic.AddInt64(&l.released, 1) }, true, nil
}

func TestScheduler_SkipsTickWithoutLease(t *testing.T) {
	var calls int64
	lk := &stubLocker{grant: false}

	s, err := New("poller", "@every 1h", func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, WithClock(NewFakeClock(epoch)), WithLocker(lk, time.Minute))
	require.NoError(t, err)

	require.True(t, s.Start())
	waitForAtLeast(t, &lk.attempts, 1, time.Second)
	s.Stop()

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestScheduler_ReleasesLeaseAfterTick(t *testing.T) {
	var calls int64
	lk := &stubLocker{grant: true}

	s, err := New("poller", "@every 1h", func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, WithClock(NewFakeClock(epoch)), WithLocker(lk, time.Minute))
	require.NoError(t, err)

	require.True(t, s.Start())
	waitForAtLeast(t, &lk.released, 1, time.Second)
	s.Stop()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestFakeClock_AdvanceFiresDueTimers(t *testing.T) {
	clk := NewFakeClock(epoch)
	early := clk.After(time.Second)
	late := clk.After(time.Minute)
	assert.Equal(t, 2, clk.Waiters())

	clk.Advance(2 * time.Second)
	select {
	case got := <-early:
		assert.Equal(t, epoch.Add(2*time.Second), got)
	default:
		t.Fatal("early timer did not fire")
	}
	select {
	case <-late:
		t.Fatal("late timer fired too soon")
	default:
	}
	assert.Equal(t, 1, clk.Waiters())
}
