package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/state"
	"github.com/user/appforge/internal/types"
)

type fixture struct {
	svc      *Service
	sessions *state.SessionStore
	events   *state.EventStore
	patterns *state.PatternStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		sessions: state.NewSessionStore(dir),
		events:   state.NewEventStore(dir),
		patterns: state.NewPatternStore(dir),
	}
	f.svc = NewService(f.sessions, f.events, f.patterns, zaptest.NewLogger(t), Options{MaxBatch: 100})
	return f
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func orderBatch(t *testing.T) []json.RawMessage {
	return []json.RawMessage{
		raw(t, map[string]any{"id": "e1", "sessionId": "S1", "userId": "u1", "type": "navigation", "timestamp": 1000,
			"metadata": map[string]any{"path": "/orders"}, "context": map[string]any{"device": "desktop"}}),
		raw(t, map[string]any{"id": "e2", "sessionId": "S1", "type": "interaction", "timestamp": 1500,
			"metadata": map[string]any{"screen": "/orders", "action": "click", "label": "New Order"}}),
		raw(t, map[string]any{"id": "e3", "sessionId": "S1", "type": "form", "timestamp": 2500,
			"metadata": map[string]any{"screen": "/orders", "action": "submit", "formName": "orderForm"}}),
	}
}

func TestIngestStoresEventsAndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, orderBatch(t))
	require.NoError(t, err)
	assert.Equal(t, &Result{Accepted: 3}, res)

	sess, err := f.sessions.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sess.EventCount)
	assert.Equal(t, int64(1000), sess.StartTime)
	assert.Equal(t, int64(2500), sess.LastEventTime)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, "desktop", sess.Metadata.Device)
	assert.True(t, sess.Active())

	events, err := f.events.List(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "/orders", events[0].Metadata.Screen, "path folded into screen")
	assert.Equal(t, "New Order", events[1].Metadata.Element, "label folded into element")
	assert.Equal(t, "orderForm", events[2].Metadata.Form)
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, orderBatch(t))
	require.NoError(t, err)
	res, err := f.svc.Ingest(ctx, orderBatch(t))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Accepted)
	assert.Equal(t, 3, res.Duplicates)

	sess, err := f.sessions.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sess.EventCount)

	n, err := f.events.Count(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestIngestDuplicateWithinBatch(t *testing.T) {
	f := newFixture(t)
	ev := map[string]any{"id": "e1", "sessionId": "S1", "type": "system", "timestamp": 10}

	res, err := f.svc.Ingest(context.Background(), []json.RawMessage{raw(t, ev), raw(t, ev)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 1, res.Duplicates)
}

func TestIngestRejectsItemsIndividually(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items := []json.RawMessage{
		raw(t, map[string]any{"id": "ok", "sessionId": "S1", "type": "navigation", "timestamp": "2026-01-02T03:04:05Z"}),
		raw(t, map[string]any{"id": "no-session", "type": "navigation", "timestamp": 1}),
		raw(t, map[string]any{"id": "bad-type", "sessionId": "S1", "type": "hover", "timestamp": 1}),
		raw(t, map[string]any{"id": "zero-ts", "sessionId": "S1", "type": "system", "timestamp": 0}),
		json.RawMessage(`{"id": "broken", "sessionId":`),
		raw(t, map[string]any{"id": "bad-fields", "sessionId": "S1", "type": "form", "timestamp": 5, "metadata": map[string]any{"fields": 3}}),
		raw(t, map[string]any{"id": "slash", "sessionId": "../S1", "type": "system", "timestamp": 5}),
	}
	res, err := f.svc.Ingest(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 6, res.Rejected)
	require.Len(t, res.Errors, 6)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, "no-session", res.Errors[0].ID)
	assert.Contains(t, res.Errors[0].Reason, "sessionId is required")
	assert.Contains(t, res.Errors[1].Reason, "type must be one of")
	assert.Equal(t, 4, res.Errors[3].Index)

	events, err := f.events.List(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), events[0].Timestamp)
}

func TestIngestBatchLimits(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	items := make([]json.RawMessage, 101)
	for i := range items {
		items[i] = raw(t, map[string]any{"id": fmt.Sprint(i), "sessionId": "S1", "type": "system", "timestamp": 1})
	}
	_, err = f.svc.Ingest(context.Background(), items)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIngestAssignsSeqInSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items := []json.RawMessage{
		raw(t, map[string]any{"id": "b", "sessionId": "S1", "type": "interaction", "timestamp": 100}),
		raw(t, map[string]any{"id": "a", "sessionId": "S1", "type": "interaction", "timestamp": 100}),
	}
	_, err := f.svc.Ingest(ctx, items)
	require.NoError(t, err)

	events, err := f.events.List(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, types.EventID("b"), events[0].ID)
	assert.Equal(t, types.EventID("a"), events[1].ID)
}

func TestIngestConcurrentBatchesSameSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for b := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var items []json.RawMessage
			for i := range 5 {
				items = append(items, raw(t, map[string]any{
					"id": fmt.Sprintf("b%d-e%d", b, i), "sessionId": "S1", "type": "interaction", "timestamp": 1000 + b*10 + i,
				}))
			}
			_, err := f.svc.Ingest(ctx, items)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := f.sessions.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), sess.EventCount)
	assert.Equal(t, int64(1074), sess.LastEventTime)
}

func TestIngestIntoClosedSessionExtendsEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, orderBatch(t))
	require.NoError(t, err)
	_, err = f.svc.CloseSession(ctx, "S1")
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, []json.RawMessage{raw(t, map[string]any{"id": "late", "sessionId": "S1", "type": "system", "timestamp": 9000})})
	require.NoError(t, err)

	sess, err := f.sessions.Get(ctx, "S1")
	require.NoError(t, err)
	require.NotNil(t, sess.EndTime)
	assert.Equal(t, int64(9000), *sess.EndTime)
	assert.GreaterOrEqual(t, *sess.EndTime, sess.StartTime)
}

func TestCloseSessionFiresHookOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var closed []types.SessionID
	f.svc.SetOnClosed(func(_ context.Context, id types.SessionID) { closed = append(closed, id) })

	_, err := f.svc.Ingest(ctx, orderBatch(t))
	require.NoError(t, err)

	sess, err := f.svc.CloseSession(ctx, "S1")
	require.NoError(t, err)
	require.NotNil(t, sess.EndTime)
	assert.Equal(t, int64(2500), *sess.EndTime)

	_, err = f.svc.CloseSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, []types.SessionID{"S1"}, closed)

	_, err = f.svc.CloseSession(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSweepIdleAndPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.UnixMilli(1_000_000)
	f.svc.now = func() time.Time { return base }

	_, err := f.svc.Ingest(ctx, []json.RawMessage{
		raw(t, map[string]any{"id": "e1", "sessionId": "old", "type": "system", "timestamp": base.Add(-2 * time.Hour).UnixMilli()}),
		raw(t, map[string]any{"id": "e1", "sessionId": "fresh", "type": "system", "timestamp": base.Add(-time.Minute).UnixMilli()}),
	})
	require.NoError(t, err)

	closed, err := f.svc.SweepIdle(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []types.SessionID{"old"}, closed)

	pruned, err := f.svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, pruned, "recently closed sessions are kept")

	f.svc.now = func() time.Time { return base.Add(48 * time.Hour) }
	pruned, err = f.svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = f.svc.Session(ctx, "old")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	n, err := f.events.Count(ctx, "old")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.Session(ctx, "fresh")
	assert.NoError(t, err)
}

func TestEventsRequiresKnownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Events(ctx, "missing", 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Ingest(ctx, orderBatch(t))
	require.NoError(t, err)
	events, err := f.svc.Events(ctx, "S1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventID("e2"), events[0].ID)
}

// failingPuts fails the next n session writes.
type failingPuts struct {
	types.SessionStore
	mu sync.Mutex
	n  int
}

func (f *failingPuts) Put(ctx context.Context, sess *types.Session) error {
	f.mu.Lock()
	fail := f.n > 0
	if fail {
		f.n--
	}
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("disk full")
	}
	return f.SessionStore.Put(ctx, sess)
}

func TestRetryAfterFailedSessionWriteCreatesSession(t *testing.T) {
	dir := t.TempDir()
	sessions := &failingPuts{SessionStore: state.NewSessionStore(dir), n: 1}
	events := state.NewEventStore(dir)
	svc := NewService(sessions, events, nil, zaptest.NewLogger(t), Options{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, orderBatch(t))
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.StorageUnavailable))

	res, err := svc.Ingest(ctx, orderBatch(t))
	require.NoError(t, err)
	assert.Equal(t, &Result{Duplicates: 3}, res)

	sess, err := svc.Session(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sess.EventCount)
	assert.Equal(t, int64(1000), sess.StartTime)
	assert.Equal(t, int64(2500), sess.LastEventTime)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, "desktop", sess.Metadata.Device)

	// a later duplicate-only batch leaves the rebuilt row alone
	_, err = svc.Ingest(ctx, orderBatch(t))
	require.NoError(t, err)
	again, err := svc.Session(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, sess.EventCount, again.EventCount)
}
