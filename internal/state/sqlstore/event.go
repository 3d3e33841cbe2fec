package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

type EventRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *zap.Logger) *EventRepo {
	return &EventRepo{
		db:  db,
		log: baseLog.With(zap.String("repo", "EventRepo")),
	}
}

// Append inserts the events whose ids are not yet stored for the session.
// Dedup and seq assignment run inside one transaction.
func (r *EventRepo) Append(ctx context.Context, sessionID types.SessionID, events []*types.Event) ([]*types.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	var appended []*types.Event
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(events))
		for _, ev := range events {
			ids = append(ids, string(ev.ID))
		}

		var existing []string
		if err := tx.Model(&eventRow{}).
			Where("session_id = ? AND id IN ?", string(sessionID), ids).
			Pluck("id", &existing).Error; err != nil {
			return err
		}
		seen := make(map[types.EventID]bool, len(existing)+len(events))
		for _, id := range existing {
			seen[types.EventID(id)] = true
		}

		var maxSeq int64
		if err := tx.Model(&eventRow{}).
			Where("session_id = ?", string(sessionID)).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}

		var rows []*eventRow
		for _, ev := range events {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			maxSeq++

			stored := *ev
			stored.SessionID = sessionID
			stored.Seq = maxSeq
			row, err := eventToRow(&stored)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			appended = append(appended, &stored)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		r.log.Warn("append events failed", zap.String("session", string(sessionID)), zap.Error(err))
		return nil, apperr.Storage("append events", err)
	}
	return appended, nil
}

// List returns the session's events ordered by (timestamp, seq).
func (r *EventRepo) List(ctx context.Context, sessionID types.SessionID) ([]*types.Event, error) {
	var rows []*eventRow
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", string(sessionID)).
		Order("timestamp ASC").Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, apperr.Storage("list events", err)
	}
	return rowsToEvents(rows)
}

// Tail returns the newest limit events, oldest first.
func (r *EventRepo) Tail(ctx context.Context, sessionID types.SessionID, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		return r.List(ctx, sessionID)
	}
	var rows []*eventRow
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", string(sessionID)).
		Order("timestamp DESC").Order("seq DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, apperr.Storage("tail events", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rowsToEvents(rows)
}

func (r *EventRepo) Count(ctx context.Context, sessionID types.SessionID) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&eventRow{}).Where("session_id = ?", string(sessionID)).Count(&n).Error; err != nil {
		return 0, apperr.Storage("count events", err)
	}
	return n, nil
}

func (r *EventRepo) DeleteSession(ctx context.Context, sessionID types.SessionID) error {
	if err := r.db.WithContext(ctx).Where("session_id = ?", string(sessionID)).Delete(&eventRow{}).Error; err != nil {
		return apperr.Storage("delete events", err)
	}
	return nil
}

func eventToRow(ev *types.Event) (*eventRow, error) {
	row := &eventRow{
		SessionID: string(ev.SessionID),
		ID:        string(ev.ID),
		Seq:       ev.Seq,
		UserID:    ev.UserID,
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Metadata:  datatypes.NewJSONType(ev.Metadata),
	}
	if ev.Context != nil {
		raw, err := json.Marshal(ev.Context)
		if err != nil {
			return nil, fmt.Errorf("marshal event context: %w", err)
		}
		row.Context = datatypes.JSON(raw)
	}
	return row, nil
}

func rowsToEvents(rows []*eventRow) ([]*types.Event, error) {
	out := make([]*types.Event, 0, len(rows))
	for _, row := range rows {
		ev := &types.Event{
			ID:        types.EventID(row.ID),
			SessionID: types.SessionID(row.SessionID),
			UserID:    row.UserID,
			Type:      types.EventType(row.Type),
			Timestamp: row.Timestamp,
			Seq:       row.Seq,
			Metadata:  row.Metadata.Data(),
		}
		if len(row.Context) > 0 {
			var cc types.ClientContext
			if err := json.Unmarshal(row.Context, &cc); err != nil {
				return nil, fmt.Errorf("unmarshal event context: %w", err)
			}
			ev.Context = &cc
		}
		out = append(out, ev)
	}
	return out, nil
}
