package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

func TestSessionStorePutGet(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	sess := &types.Session{ID: "S1", UserID: "u1", StartTime: 1000, LastEventTime: 2000, EventCount: 2}
	require.NoError(t, store.Put(ctx, sess))

	got, err := store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, int64(2), got.EventCount)
	assert.True(t, got.Active())
	assert.True(t, got.CreatedAt.Equal(fixed))

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSessionStorePutKeepsCreatedAt(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }
	sess := &types.Session{ID: "S1", StartTime: 1000}
	require.NoError(t, store.Put(ctx, sess))

	later := first.Add(time.Hour)
	store.now = func() time.Time { return later }
	sess.EventCount = 5
	require.NoError(t, store.Put(ctx, sess))

	got, err := store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(first))
	assert.True(t, got.UpdatedAt.Equal(later))
}

func TestSessionStoreListFilters(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	open := &types.Session{ID: "open", StartTime: 100, LastEventTime: 300}
	closed := &types.Session{ID: "closed", StartTime: 100, LastEventTime: 500}
	closed.Close()
	require.NoError(t, store.Put(ctx, open))
	require.NoError(t, store.Put(ctx, closed))

	all, err := store.List(ctx, types.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, types.SessionID("closed"), all[0].ID, "most recent activity first")

	active, err := store.List(ctx, types.SessionFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, types.SessionID("open"), active[0].ID)

	done, err := store.List(ctx, types.SessionFilter{ClosedOnly: true})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, types.SessionID("closed"), done[0].ID)
}

func TestSessionStoreDelete(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &types.Session{ID: "S1"}))
	require.NoError(t, store.Delete(ctx, "S1"))

	_, err := store.Get(ctx, "S1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "S1"), apperr.ErrNotFound)
}
