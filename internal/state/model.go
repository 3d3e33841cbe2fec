package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

// ModelStore stores one JSON file per application model at models/<modelID>.json.
type ModelStore struct {
	root string
	mu   sync.RWMutex
}

// NewModelStore creates a new file-backed ModelStore rooted at the given directory.
func NewModelStore(root string) *ModelStore {
	return &ModelStore{root: root}
}

func (m *ModelStore) dir() string {
	return filepath.Join(m.root, "models")
}

func (m *ModelStore) modelPath(id types.ModelID) string {
	return filepath.Join(m.dir(), string(id)+".json")
}

func (m *ModelStore) load(id types.ModelID) (*types.ApplicationModel, error) {
	data, err := os.ReadFile(m.modelPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Missing("model", string(id))
		}
		return nil, fmt.Errorf("read model file: %w", err)
	}
	var model types.ApplicationModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("unmarshal model: %w", err)
	}
	return &model, nil
}

func (m *ModelStore) save(model *types.ApplicationModel) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	return writeAtomic(m.modelPath(model.ID), data)
}

// Create stores a new model. Returns an error if the id is already taken.
func (m *ModelStore) Create(_ context.Context, model *types.ApplicationModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !validSegment(string(model.ID)) {
		return apperr.Invalid("INVALID_MODEL_ID", "invalid model id %q", model.ID)
	}
	if _, err := os.Stat(m.modelPath(model.ID)); err == nil {
		return apperr.Invalid("MODEL_EXISTS", "model already exists: %s", model.ID)
	}
	return m.save(model)
}

// Get returns the model with the given id.
func (m *ModelStore) Get(_ context.Context, id types.ModelID) (*types.ApplicationModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !validSegment(string(id)) {
		return nil, apperr.Missing("model", string(id))
	}
	return m.load(id)
}

// List returns models at or above the minimum confidence, ordered by
// creation time then id, along with the total before pagination.
func (m *ModelStore) List(_ context.Context, filter types.ModelFilter) ([]*types.ApplicationModel, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.ApplicationModel{}, 0, nil
		}
		return nil, 0, fmt.Errorf("read models dir: %w", err)
	}

	var models []*types.ApplicationModel
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		model, err := m.load(types.ModelID(strings.TrimSuffix(name, ".json")))
		if err != nil {
			return nil, 0, err
		}
		if model.Confidence < filter.MinConfidence {
			continue
		}
		models = append(models, model)
	}
	sort.Slice(models, func(i, j int) bool {
		if !models[i].CreatedAt.Equal(models[j].CreatedAt) {
			return models[i].CreatedAt.Before(models[j].CreatedAt)
		}
		return models[i].ID < models[j].ID
	})

	total := len(models)
	return paginate(models, filter.Offset, filter.Limit), total, nil
}

// Update applies fn to the stored model and saves it. The whole
// read-modify-write runs under the store lock.
func (m *ModelStore) Update(_ context.Context, id types.ModelID, fn func(*types.ApplicationModel) error) (*types.ApplicationModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !validSegment(string(id)) {
		return nil, apperr.Missing("model", string(id))
	}
	model, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(model); err != nil {
		return nil, err
	}
	model.ID = id
	if err := m.save(model); err != nil {
		return nil, err
	}
	return model, nil
}

// Delete removes a model.
func (m *ModelStore) Delete(_ context.Context, id types.ModelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !validSegment(string(id)) {
		return apperr.Missing("model", string(id))
	}
	if err := os.Remove(m.modelPath(id)); err != nil {
		if os.IsNotExist(err) {
			return apperr.Missing("model", string(id))
		}
		return fmt.Errorf("remove model file: %w", err)
	}
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
