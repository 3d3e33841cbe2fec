package recognize

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/user/appforge/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatcherRunsEveryEnqueuedSession(t *testing.T) {
	d := newDispatcher(4, zaptest.NewLogger(t))
	var mu sync.Mutex
	seen := make(map[types.SessionID]int)
	d.run = func(_ context.Context, id types.SessionID) error {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		return nil
	}
	d.Start(context.Background())
	defer d.Stop()

	for i := 0; i < 20; i++ {
		require.NoError(t, d.Enqueue(types.SessionID(fmt.Sprintf("s%d", i))))
	}
	require.True(t, d.WaitIdle(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 20)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcherBoundsParallelism(t *testing.T) {
	d := newDispatcher(2, zaptest.NewLogger(t))
	var running, peak atomic.Int64
	d.run = func(_ context.Context, _ types.SessionID) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	d.Start(context.Background())
	defer d.Stop()

	for i := 0; i < 8; i++ {
		require.NoError(t, d.Enqueue(types.SessionID(fmt.Sprintf("s%d", i))))
	}
	require.True(t, d.WaitIdle(5*time.Second))
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestDispatcherSerializesOneSession(t *testing.T) {
	d := newDispatcher(4, zaptest.NewLogger(t))
	var running, overlaps, runs atomic.Int64
	release := make(chan struct{})
	d.run = func(_ context.Context, _ types.SessionID) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		if runs.Add(1) == 1 {
			<-release
		}
		running.Add(-1)
		return nil
	}
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Enqueue("S1"))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Requests during a run collapse into a single rerun.
	require.NoError(t, d.Enqueue("S1"))
	require.NoError(t, d.Enqueue("S1"))
	close(release)

	require.True(t, d.WaitIdle(5*time.Second))
	assert.Equal(t, int64(2), runs.Load())
	assert.Zero(t, overlaps.Load())
}

func TestDispatcherLogsFailuresAndContinues(t *testing.T) {
	d := newDispatcher(1, zaptest.NewLogger(t))
	var runs atomic.Int64
	d.run = func(_ context.Context, id types.SessionID) error {
		runs.Add(1)
		if id == "bad" {
			return fmt.Errorf("boom")
		}
		return nil
	}
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Enqueue("bad"))
	require.NoError(t, d.Enqueue("good"))
	require.True(t, d.WaitIdle(5*time.Second))
	assert.Equal(t, int64(2), runs.Load())
}

func TestDispatcherRejectsWhenStopped(t *testing.T) {
	d := newDispatcher(1, zaptest.NewLogger(t))
	assert.ErrorIs(t, d.Enqueue("S1"), ErrDispatcherStopped)

	d.Start(context.Background())
	d.Stop()
	assert.ErrorIs(t, d.Enqueue("S1"), ErrDispatcherStopped)
}

func TestDispatcherRecognizesClosedSessions(t *testing.T) {
	f := newEngineFixture(t)
	f.seed(t, "S1", orderScenario())

	d := NewDispatcher(f.engine, 2, zaptest.NewLogger(t))
	d.Start(context.Background())
	defer d.Stop()

	d.OnSessionClosed(context.Background(), "S1")
	require.True(t, d.WaitIdle(5*time.Second))

	stored, err := f.patterns.ListBySession(context.Background(), "S1")
	require.NoError(t, err)
	assert.NotEmpty(t, stored)
}
