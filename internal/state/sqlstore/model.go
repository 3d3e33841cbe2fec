package sqlstore

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

type ModelRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewModelRepo(db *gorm.DB, baseLog *zap.Logger) *ModelRepo {
	return &ModelRepo{
		db:  db,
		log: baseLog.With(zap.String("repo", "ModelRepo")),
	}
}

func (r *ModelRepo) Create(ctx context.Context, model *types.ApplicationModel) error {
	if model.ID == "" {
		return apperr.Invalid("INVALID_MODEL_ID", "model id is required")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(modelToRow(model))
	if res.Error != nil {
		return apperr.Storage("create model", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Invalid("MODEL_EXISTS", "model already exists: %s", model.ID)
	}
	return nil
}

func (r *ModelRepo) Get(ctx context.Context, id types.ModelID) (*types.ApplicationModel, error) {
	return r.get(ctx, nil, id)
}

func (r *ModelRepo) get(ctx context.Context, tx *gorm.DB, id types.ModelID) (*types.ApplicationModel, error) {
	var row modelRow
	if err := pick(r.db, tx).WithContext(ctx).Where("id = ?", string(id)).First(&row).Error; err != nil {
		return nil, storageErr("get model", "model", string(id), err)
	}
	return row.toModel(), nil
}

// List returns models at or above the minimum confidence, oldest first,
// along with the total before pagination.
func (r *ModelRepo) List(ctx context.Context, filter types.ModelFilter) ([]*types.ApplicationModel, int, error) {
	q := r.db.WithContext(ctx).Model(&modelRow{}).Where("confidence >= ?", filter.MinConfidence)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Storage("count models", err)
	}

	q = q.Order("created_at ASC").Order("id ASC")
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []*modelRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, apperr.Storage("list models", err)
	}
	out := make([]*types.ApplicationModel, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, int(total), nil
}

// Update applies fn to the stored model and saves it inside one transaction.
func (r *ModelRepo) Update(ctx context.Context, id types.ModelID, fn func(*types.ApplicationModel) error) (*types.ApplicationModel, error) {
	var updated *types.ApplicationModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(model); err != nil {
			return err
		}
		model.ID = id
		if err := tx.Save(modelToRow(model)).Error; err != nil {
			return err
		}
		updated = model
		return nil
	})
	if err != nil {
		var typed *apperr.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, apperr.Storage("update model", err)
	}
	return updated, nil
}

func (r *ModelRepo) Delete(ctx context.Context, id types.ModelID) error {
	res := r.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&modelRow{})
	if res.Error != nil {
		return apperr.Storage("delete model", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Missing("model", string(id))
	}
	return nil
}
