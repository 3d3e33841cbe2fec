package recognize

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/user/appforge/internal/types"
)

var ErrDispatcherStopped = errors.New("dispatcher is not running")

// lane is the per-session queue. Recognition replaces a session's whole
// pattern set, so requests arriving while a run is queued collapse into
// that run, and a request arriving mid-run queues exactly one rerun.
type lane struct {
	pending bool
}

// Dispatcher runs recognition in the background. Each session gets a lane
// that runs its requests one at a time in arrival order, while the
// semaphore bounds how many sessions recognize at once.
type Dispatcher struct {
	run       func(ctx context.Context, id types.SessionID) error
	semaphore *semaphore.Weighted
	log       *zap.Logger

	mu     sync.Mutex
	lanes  map[types.SessionID]*lane
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

// NewDispatcher creates a dispatcher that recognizes up to workers sessions
// concurrently.
func NewDispatcher(engine *Engine, workers int64, logger *zap.Logger) *Dispatcher {
	d := newDispatcher(workers, logger)
	d.run = func(ctx context.Context, id types.SessionID) error {
		_, err := engine.Recognize(ctx, id)
		return err
	}
	return d
}

func newDispatcher(workers int64, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		semaphore: semaphore.NewWeighted(workers),
		log:       logger.Named("dispatcher"),
		lanes:     make(map[types.SessionID]*lane),
	}
}

// Start initialises the dispatcher's context. Must be called before Enqueue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx, d.cancel = context.WithCancel(ctx)
}

// Stop cancels queued work and waits for in-flight runs to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Enqueue requests a recognition run for the session.
func (d *Dispatcher) Enqueue(id types.SessionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil || d.ctx.Err() != nil {
		return ErrDispatcherStopped
	}

	l, ok := d.lanes[id]
	if !ok {
		l = &lane{}
		d.lanes[id] = l
		d.wg.Add(1)
		go d.processLane(id, l)
	}
	l.pending = true
	return nil
}

// OnSessionClosed adapts Enqueue to the ingestion close hook.
func (d *Dispatcher) OnSessionClosed(_ context.Context, id types.SessionID) {
	if err := d.Enqueue(id); err != nil {
		d.log.Warn("recognition not scheduled", zap.String("session_id", string(id)), zap.Error(err))
	}
}

// processLane drains one session lane and removes it once empty, so idle
// sessions hold no goroutine.
func (d *Dispatcher) processLane(id types.SessionID, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if !l.pending || d.ctx.Err() != nil {
			delete(d.lanes, id)
			d.mu.Unlock()
			return
		}
		l.pending = false
		d.mu.Unlock()

		if err := d.semaphore.Acquire(d.ctx, 1); err != nil {
			continue
		}
		d.active.Add(1)
		if err := d.run(d.ctx, id); err != nil {
			d.log.Error("recognition failed", zap.String("session_id", string(id)), zap.Error(err))
		}
		d.active.Add(-1)
		d.semaphore.Release(1)
	}
}

// Pending returns the number of sessions with queued or running work.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}

// WaitIdle blocks until no lane has work, or the timeout expires. Returns
// true if idle, false if timed out.
func (d *Dispatcher) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if d.Pending() == 0 && d.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
