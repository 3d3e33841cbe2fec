package sqlstore

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

type PatternRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewPatternRepo(db *gorm.DB, baseLog *zap.Logger) *PatternRepo {
	return &PatternRepo{
		db:  db,
		log: baseLog.With(zap.String("repo", "PatternRepo")),
	}
}

// ReplaceForSession swaps the session's stored pattern set in one transaction.
func (r *PatternRepo) ReplaceForSession(ctx context.Context, sessionID types.SessionID, patterns []*types.RecognizedPattern) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", string(sessionID)).Delete(&patternRow{}).Error; err != nil {
			return err
		}
		if len(patterns) == 0 {
			return nil
		}
		rows := make([]*patternRow, 0, len(patterns))
		for i, p := range patterns {
			rows = append(rows, patternToRow(p, i))
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return apperr.Storage("replace patterns", err)
	}
	return nil
}

func (r *PatternRepo) ListBySession(ctx context.Context, sessionID types.SessionID) ([]*types.RecognizedPattern, error) {
	var rows []*patternRow
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", string(sessionID)).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, apperr.Storage("list patterns", err)
	}
	out := make([]*types.RecognizedPattern, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toPattern())
	}
	return out, nil
}

// GetMany returns the patterns in the order requested. Any unknown id fails
// the whole call.
func (r *PatternRepo) GetMany(ctx context.Context, ids []types.PatternID) ([]*types.RecognizedPattern, error) {
	if len(ids) == 0 {
		return []*types.RecognizedPattern{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, string(id))
	}

	var rows []*patternRow
	if err := r.db.WithContext(ctx).Where("id IN ?", keys).Find(&rows).Error; err != nil {
		return nil, apperr.Storage("get patterns", err)
	}
	byID := make(map[types.PatternID]*patternRow, len(rows))
	for _, row := range rows {
		byID[types.PatternID(row.ID)] = row
	}

	out := make([]*types.RecognizedPattern, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			return nil, apperr.Missing("pattern", string(id))
		}
		out = append(out, row.toPattern())
	}
	return out, nil
}
