// Package capture is the client side of event collection: it buffers
// tracked events locally and ships them to the ingestion service in
// batches.
package capture

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/appforge/internal/types"
)

const (
	DefaultFlushSize     = 50
	DefaultFlushInterval = 5 * time.Second
)

type Options struct {
	SessionID     types.SessionID
	UserID        string
	Context       *types.ClientContext
	FlushSize     int
	FlushInterval time.Duration
	Retry         *RetryPolicy
	Logger        *zap.Logger

	// OnRejected is called when the sink refuses a batch outright. The
	// batch stays queued and is retried after the longest backoff.
	OnRejected func(events []*types.Event, err error)
}

// Buffer queues events and delivers them to a Sink. A batch that fails
// to deliver goes back to the head of the queue, so delivery is
// at-least-once; the ingestion side drops the duplicates.
type Buffer struct {
	sink      Sink
	sessionID types.SessionID
	userID    string
	context   *types.ClientContext
	size      int
	interval  time.Duration
	retry     *RetryPolicy
	log       *zap.Logger
	now       func() time.Time
	rejected  func(events []*types.Event, err error)

	mu        sync.Mutex
	queue     []*types.Event
	tracked   bool
	failures  int
	notBefore time.Time

	sendMu sync.Mutex
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBuffer(sink Sink, opts Options) *Buffer {
	if opts.FlushSize <= 0 {
		opts.FlushSize = DefaultFlushSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Buffer{
		sink:      sink,
		sessionID: opts.SessionID,
		userID:    opts.UserID,
		context:   opts.Context,
		size:      opts.FlushSize,
		interval:  opts.FlushInterval,
		retry:     opts.Retry,
		log:       opts.Logger.Named("capture"),
		now:       time.Now,
		rejected:  opts.OnRejected,
		kick:      make(chan struct{}, 1),
	}
}

// Track records an event of the given type for the buffer's session. The
// client context rides on the first tracked event only.
func (b *Buffer) Track(eventType types.EventType, metadata types.EventMetadata) *types.Event {
	ev := &types.Event{
		ID:        types.NewEventID(),
		SessionID: b.sessionID,
		UserID:    b.userID,
		Type:      eventType,
		Timestamp: b.now().UnixMilli(),
		Metadata:  metadata,
	}
	b.mu.Lock()
	if !b.tracked {
		ev.Context = b.context
		b.tracked = true
	}
	b.mu.Unlock()

	b.Add(ev)
	return ev
}

// Add queues an already-built event. Reaching the flush size wakes the
// background loop started by Start.
func (b *Buffer) Add(ev *types.Event) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	full := len(b.queue) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush delivers up to one batch of queued events. On failure the batch is
// put back at the head of the queue and the next timed flush is delayed
// by the retry policy's backoff. A batch the sink rejects outright waits
// the policy's MaxDelay and is reported to OnRejected; it is never dropped.
func (b *Buffer) Flush(ctx context.Context) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	n := min(len(b.queue), b.size)
	if n == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := make([]*types.Event, n)
	copy(batch, b.queue[:n])
	b.queue = b.queue[n:]
	b.mu.Unlock()

	err := b.sink.Submit(ctx, batch)
	if err == nil {
		b.mu.Lock()
		b.failures = 0
		b.notBefore = time.Time{}
		b.mu.Unlock()
		return nil
	}

	b.mu.Lock()
	b.queue = append(batch, b.queue...)
	b.failures++
	retryable := IsRetryable(err)
	delay := b.retry.MaxDelay
	if retryable {
		delay = b.retry.NextDelay(b.failures)
	}
	b.notBefore = b.now().Add(delay)
	failures := b.failures
	b.mu.Unlock()

	if !retryable {
		b.log.Error("batch rejected, re-queued",
			zap.Int("events", len(batch)),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if b.rejected != nil {
			b.rejected(batch, err)
		}
		return err
	}
	b.log.Warn("batch delivery failed, re-queued",
		zap.Int("events", len(batch)),
		zap.Int("failures", failures),
		zap.Duration("backoff", delay),
		zap.Error(err))
	return err
}

// flushDue drains whole batches while delivery succeeds and the backoff
// window has passed.
func (b *Buffer) flushDue(ctx context.Context) {
	for {
		b.mu.Lock()
		waiting := b.now().Before(b.notBefore)
		empty := len(b.queue) == 0
		b.mu.Unlock()
		if waiting || empty || ctx.Err() != nil {
			return
		}
		if err := b.Flush(ctx); err != nil {
			return
		}
	}
}

// Start runs the flush loop until ctx ends or Close is called.
func (b *Buffer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.flushDue(ctx)
			case <-b.kick:
				b.flushDue(ctx)
			}
		}
	}()
}

// Close stops the flush loop and delivers everything still queued,
// ignoring any backoff in effect. Each batch gets the retry policy's
// attempts; when they run out the error is returned and the undelivered
// events stay queued.
func (b *Buffer) Close(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	for b.Len() > 0 {
		if err := b.retry.Execute(ctx, b.Flush); err != nil {
			return err
		}
	}
	return nil
}
