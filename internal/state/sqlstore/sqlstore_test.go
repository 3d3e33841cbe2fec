package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "appforge.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSessionRepo(t *testing.T) {
	repo := openTestDB(t).Sessions()
	ctx := context.Background()

	open := &types.Session{ID: "open", UserID: "u1", StartTime: 100, LastEventTime: 300, EventCount: 3,
		Metadata: types.ClientContext{Device: "desktop"}}
	closed := &types.Session{ID: "closed", StartTime: 100, LastEventTime: 500}
	closed.Close()
	require.NoError(t, repo.Put(ctx, open))
	require.NoError(t, repo.Put(ctx, closed))

	got, err := repo.Get(ctx, "open")
	require.NoError(t, err)
	assert.Equal(t, "desktop", got.Metadata.Device)
	assert.True(t, got.Active())

	open.EventCount = 4
	require.NoError(t, repo.Put(ctx, open))
	got, err = repo.Get(ctx, "open")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.EventCount)

	all, err := repo.List(ctx, types.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, types.SessionID("closed"), all[0].ID)

	active, err := repo.List(ctx, types.SessionFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, types.SessionID("open"), active[0].ID)

	require.NoError(t, repo.Delete(ctx, "open"))
	_, err = repo.Get(ctx, "open")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "open"), apperr.ErrNotFound)
}

func TestEventRepoAppendDedupsAndOrders(t *testing.T) {
	repo := openTestDB(t).Events()
	ctx := context.Background()

	batch := []*types.Event{
		{ID: "e1", Type: types.EventNavigation, Timestamp: 2000, Metadata: types.EventMetadata{Screen: "/orders"}},
		{ID: "e2", Type: types.EventInteraction, Timestamp: 1000, Context: &types.ClientContext{Locale: "en"}},
	}
	appended, err := repo.Append(ctx, "S1", batch)
	require.NoError(t, err)
	require.Len(t, appended, 2)
	assert.Equal(t, int64(1), appended[0].Seq)

	appended, err = repo.Append(ctx, "S1", []*types.Event{
		{ID: "e2", Type: types.EventInteraction, Timestamp: 1000},
		{ID: "e3", Type: types.EventInteraction, Timestamp: 2000},
		{ID: "e3", Type: types.EventInteraction, Timestamp: 2000},
	})
	require.NoError(t, err)
	require.Len(t, appended, 1)
	assert.Equal(t, int64(3), appended[0].Seq)

	events, err := repo.List(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []types.EventID{"e2", "e1", "e3"}, []types.EventID{events[0].ID, events[1].ID, events[2].ID})
	assert.Equal(t, "/orders", events[1].Metadata.Screen)
	require.NotNil(t, events[0].Context)
	assert.Equal(t, "en", events[0].Context.Locale)
	assert.Nil(t, events[1].Context)

	tail, err := repo.Tail(ctx, "S1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, types.EventID("e1"), tail[0].ID)
	assert.Equal(t, types.EventID("e3"), tail[1].ID)

	n, err := repo.Count(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, repo.DeleteSession(ctx, "S1"))
	n, err = repo.Count(ctx, "S1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPatternRepo(t *testing.T) {
	repo := openTestDB(t).Patterns()
	ctx := context.Background()

	mk := func(id string, session types.SessionID) *types.RecognizedPattern {
		return &types.RecognizedPattern{
			ID:         types.PatternID(id),
			SessionID:  session,
			Type:       types.PatternListView,
			Confidence: 0.7,
			EventIDs:   []types.EventID{"e1", "e2"},
			StartTime:  1,
			EndTime:    2,
			Metadata:   types.PatternMetadata{Entity: "order", Fields: []string{"total"}},
		}
	}
	require.NoError(t, repo.ReplaceForSession(ctx, "S1", []*types.RecognizedPattern{mk("p2", "S1"), mk("p1", "S1")}))
	require.NoError(t, repo.ReplaceForSession(ctx, "S2", []*types.RecognizedPattern{mk("p3", "S2")}))

	got, err := repo.ListBySession(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.PatternID("p2"), got[0].ID, "insertion order preserved")
	assert.Equal(t, []types.EventID{"e1", "e2"}, got[0].EventIDs)
	assert.Equal(t, []string{"total"}, got[0].Metadata.Fields)

	many, err := repo.GetMany(ctx, []types.PatternID{"p3", "p1"})
	require.NoError(t, err)
	assert.Equal(t, types.PatternID("p3"), many[0].ID)

	_, err = repo.GetMany(ctx, []types.PatternID{"p1", "missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, repo.ReplaceForSession(ctx, "S1", nil))
	got, err = repo.ListBySession(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestModelRepo(t *testing.T) {
	repo := openTestDB(t).Models()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := range 3 {
		require.NoError(t, repo.Create(ctx, &types.ApplicationModel{
			ID:         types.ModelID(fmt.Sprintf("m%d", i)),
			Version:    types.InitialVersion,
			Name:       "App",
			Entities:   []types.Entity{{Name: "order", Operations: []types.Operation{types.OpRead}}},
			Confidence: 0.6 + float64(i)*0.1,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
			UpdatedAt:  base,
		}))
	}
	err := repo.Create(ctx, &types.ApplicationModel{ID: "m0", Name: "dup"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Entities[0].Has(types.OpRead))

	page, total, err := repo.List(ctx, types.ModelFilter{MinConfidence: 0.65, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, types.ModelID("m1"), page[0].ID)

	updated, err := repo.Update(ctx, "m1", func(m *types.ApplicationModel) error {
		m.Name = "Renamed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	_, err = repo.Update(ctx, "nope", func(*types.ApplicationModel) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "m1"))
	_, err = repo.Get(ctx, "m1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
