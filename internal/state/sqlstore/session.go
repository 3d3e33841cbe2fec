package sqlstore

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

type SessionRepo struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewSessionRepo(db *gorm.DB, baseLog *zap.Logger) *SessionRepo {
	return &SessionRepo{
		db:  db,
		log: baseLog.With(zap.String("repo", "SessionRepo")),
		now: time.Now,
	}
}

func (r *SessionRepo) Get(ctx context.Context, id types.SessionID) (*types.Session, error) {
	var row sessionRow
	if err := r.db.WithContext(ctx).Where("id = ?", string(id)).First(&row).Error; err != nil {
		return nil, storageErr("get session", "session", string(id), err)
	}
	return row.toSession(), nil
}

// List returns sessions matching the filter, most recently active first.
func (r *SessionRepo) List(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	q := r.db.WithContext(ctx).Model(&sessionRow{})
	if filter.ActiveOnly {
		q = q.Where("end_time IS NULL")
	}
	if filter.ClosedOnly {
		q = q.Where("end_time IS NOT NULL")
	}

	var rows []*sessionRow
	if err := q.Order("last_event_time DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, apperr.Storage("list sessions", err)
	}
	out := make([]*types.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toSession())
	}
	return out, nil
}

// Put upserts the session, stamping CreatedAt/UpdatedAt.
func (r *SessionRepo) Put(ctx context.Context, session *types.Session) error {
	now := r.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "start_time", "end_time", "last_event_time", "event_count", "metadata", "updated_at"}),
		}).
		Create(sessionToRow(session)).Error
	if err != nil {
		r.log.Warn("put session failed", zap.String("session", string(session.ID)), zap.Error(err))
		return apperr.Storage("put session", err)
	}
	return nil
}

func (r *SessionRepo) Delete(ctx context.Context, id types.SessionID) error {
	res := r.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&sessionRow{})
	if res.Error != nil {
		return apperr.Storage("delete session", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Missing("session", string(id))
	}
	return nil
}
