package connpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSweeper struct {
	mu         sync.Mutex
	expired    int
	idle       int
	idleArgs   []time.Duration
	expiredErr error
	panicIdle  bool
}

func (f *fakeSweeper) CloseExpired() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired++
	return f.expiredErr
}

func (f *fakeSweeper) CloseIdle(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle++
	f.idleArgs = append(f.idleArgs, d)
	if f.panicIdle {
		panic("idle sweep exploded")
	}
	return nil
}

func (f *fakeSweeper) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired, f.idle
}

func waitForTimer(t *testing.T, fc *clockwork.FakeClock) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1), "reaper never armed its timer")
}

func TestReaper_SweepsOnEachInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper, WithReaperClock(fc))
	r.Start()
	defer r.Shutdown()

	for i := 1; i <= 3; i++ {
		waitForTimer(t, fc)
		fc.Advance(DefaultSweepInterval)

		require.Eventually(t, func() bool {
			expired, idle := sweeper.counts()
			return expired == i && idle == i
		}, 2*time.Second, time.Millisecond)
	}

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	for _, d := range sweeper.idleArgs {
		assert.Equal(t, DefaultIdleTimeout, d)
	}
}

func TestReaper_WaitsFullInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper, WithReaperClock(fc))
	r.Start()
	defer r.Shutdown()

	waitForTimer(t, fc)
	fc.Advance(DefaultSweepInterval - time.Second)

	assert.Never(t, func() bool {
		expired, _ := sweeper.counts()
		return expired > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestReaper_CustomIntervalAndIdleTimeout(t *testing.T) {
	fc := clockwork.NewFakeClock()
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper,
		WithReaperClock(fc),
		WithSweepInterval(time.Second),
		WithIdleTimeout(10*time.Second),
	)
	r.Start()
	defer r.Shutdown()

	waitForTimer(t, fc)
	fc.Advance(time.Second)

	require.Eventually(t, func() bool {
		_, idle := sweeper.counts()
		return idle == 1
	}, 2*time.Second, time.Millisecond)

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Second}, sweeper.idleArgs)
}

func TestReaper_ShutdownIsIdempotent(t *testing.T) {
	fc := clockwork.NewFakeClock()
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper, WithReaperClock(fc))
	r.Start()
	waitForTimer(t, fc)

	r.Shutdown()
	r.Shutdown()
	require.NoError(t, r.Close())

	assert.Equal(t, StateStopped, r.State())
	select {
	case <-r.Done():
	default:
		t.Fatal("Done should be closed after Shutdown")
	}

	expired, idle := sweeper.counts()
	assert.Zero(t, expired)
	assert.Zero(t, idle)
}

func TestReaper_NoSweepAfterShutdown(t *testing.T) {
	fc := clockwork.NewFakeClock()
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper, WithReaperClock(fc))
	r.Start()

	waitForTimer(t, fc)
	fc.Advance(DefaultSweepInterval)
	require.Eventually(t, func() bool {
		expired, _ := sweeper.counts()
		return expired == 1
	}, 2*time.Second, time.Millisecond)

	r.Shutdown()
	fc.Advance(10 * DefaultSweepInterval)

	assert.Never(t, func() bool {
		expired, idle := sweeper.counts()
		return expired != 1 || idle != 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestReaper_ShutdownInterruptsWait(t *testing.T) {
	r := NewReaper(&fakeSweeper{}, WithSweepInterval(time.Hour))
	r.Start()

	stopped := make(chan struct{})
	go func() {
		r.Shutdown()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not interrupt the sweep wait")
	}
}

func TestReaper_ConcurrentShutdown(t *testing.T) {
	r := NewReaper(&fakeSweeper{}, WithSweepInterval(time.Hour))
	r.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Shutdown()
		}()
	}
	wg.Wait()

	assert.Equal(t, StateStopped, r.State())
}

func TestReaper_StartAfterShutdownIsNoop(t *testing.T) {
	r := NewReaper(&fakeSweeper{})
	r.Shutdown()
	r.Start()

	assert.Equal(t, StateStopped, r.State())
	select {
	case <-r.Done():
	default:
		t.Fatal("Done should be closed for a reaper stopped before start")
	}
}

func TestReaper_StartTwiceRunsOneLoop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper, WithReaperClock(fc))
	r.Start()
	r.Start()
	defer r.Shutdown()

	waitForTimer(t, fc)
	fc.Advance(DefaultSweepInterval)

	require.Eventually(t, func() bool {
		expired, _ := sweeper.counts()
		return expired == 1
	}, 2*time.Second, time.Millisecond)
	assert.Never(t, func() bool {
		expired, _ := sweeper.counts()
		return expired > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestReaper_SweepFailuresAreLoggedAndLoopContinues(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	fc := clockwork.NewFakeClock()
	sweeper := &fakeSweeper{
		expiredErr: errors.New("close failed"),
		panicIdle:  true,
	}
	r := NewReaper(sweeper, WithReaperClock(fc), WithReaperLogger(zap.New(core)))
	r.Start()
	defer r.Shutdown()

	for i := 1; i <= 2; i++ {
		waitForTimer(t, fc)
		fc.Advance(DefaultSweepInterval)
		require.Eventually(t, func() bool {
			_, idle := sweeper.counts()
			return idle == i
		}, 2*time.Second, time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return logs.FilterMessage("idle connection reaper recovered from panic").Len() == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 2, logs.FilterMessage("idle connection reaper sweep failed").Len())
	assert.Equal(t, StateRunning, r.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "State(7)", State(7).String())
}
