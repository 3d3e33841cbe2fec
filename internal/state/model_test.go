package state

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

func newModel(id string, confidence float64, created time.Time) *types.ApplicationModel {
	return &types.ApplicationModel{
		ID:         types.ModelID(id),
		Version:    types.InitialVersion,
		Name:       "Orders",
		Entities:   []types.Entity{{Name: "order", Fields: []string{"total"}, Operations: []types.Operation{types.OpCreate}}},
		Confidence: confidence,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestModelStoreCreateGet(t *testing.T) {
	store := NewModelStore(t.TempDir())
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newModel("m1", 0.8, now)))
	err := store.Create(ctx, newModel("m1", 0.8, now))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Orders", got.Name)
	assert.True(t, got.Entities[0].Has(types.OpCreate))

	_, err = store.Get(ctx, "m2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = store.Get(ctx, "../m1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestModelStoreListPaginates(t *testing.T) {
	store := NewModelStore(t.TempDir())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		conf := 0.5 + float64(i)*0.1
		require.NoError(t, store.Create(ctx, newModel(fmt.Sprintf("m%d", i), conf, base.Add(time.Duration(i)*time.Minute))))
	}

	page, total, err := store.List(ctx, types.ModelFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, types.ModelID("m1"), page[0].ID)
	assert.Equal(t, types.ModelID("m2"), page[1].ID)

	confident, total, err := store.List(ctx, types.ModelFilter{MinConfidence: 0.75})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, confident, 2)

	empty, _, err := store.List(ctx, types.ModelFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestModelStoreUpdate(t *testing.T) {
	store := NewModelStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newModel("m1", 0.8, time.Now())))

	updated, err := store.Update(ctx, "m1", func(m *types.ApplicationModel) error {
		m.Name = "Renamed"
		m.ID = "hijack"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, types.ModelID("m1"), updated.ID)

	boom := errors.New("boom")
	_, err = store.Update(ctx, "m1", func(*types.ApplicationModel) error { return boom })
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name, "failed update leaves the model untouched")

	_, err = store.Update(ctx, "missing", func(*types.ApplicationModel) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestModelStoreDelete(t *testing.T) {
	store := NewModelStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newModel("m1", 0.8, time.Now())))

	require.NoError(t, store.Delete(ctx, "m1"))
	assert.ErrorIs(t, store.Delete(ctx, "m1"), apperr.ErrNotFound)
}
