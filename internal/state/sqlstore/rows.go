package sqlstore

import (
	"time"

	"gorm.io/datatypes"

	"github.com/user/appforge/internal/types"
)

type sessionRow struct {
	ID            string                                  `gorm:"column:id;primaryKey"`
	UserID        string                                  `gorm:"column:user_id;index"`
	StartTime     int64                                   `gorm:"column:start_time;not null"`
	EndTime       *int64                                  `gorm:"column:end_time;index"`
	LastEventTime int64                                   `gorm:"column:last_event_time;not null;index"`
	EventCount    int64                                   `gorm:"column:event_count;not null"`
	Metadata      datatypes.JSONType[types.ClientContext] `gorm:"column:metadata"`
	CreatedAt     time.Time                               `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time                               `gorm:"column:updated_at;not null"`
}

func (sessionRow) TableName() string { return "session" }

func sessionToRow(s *types.Session) *sessionRow {
	return &sessionRow{
		ID:            string(s.ID),
		UserID:        s.UserID,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		LastEventTime: s.LastEventTime,
		EventCount:    s.EventCount,
		Metadata:      datatypes.NewJSONType(s.Metadata),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func (r *sessionRow) toSession() *types.Session {
	return &types.Session{
		ID:            types.SessionID(r.ID),
		UserID:        r.UserID,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		LastEventTime: r.LastEventTime,
		EventCount:    r.EventCount,
		Metadata:      r.Metadata.Data(),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// eventRow is keyed by (session_id, id): event ids are unique per session.
type eventRow struct {
	SessionID string                                  `gorm:"column:session_id;primaryKey"`
	ID        string                                  `gorm:"column:id;primaryKey"`
	Seq       int64                                   `gorm:"column:seq;not null"`
	UserID    string                                  `gorm:"column:user_id"`
	Type      string                                  `gorm:"column:type;not null"`
	Timestamp int64                                   `gorm:"column:timestamp;not null;index"`
	Metadata  datatypes.JSONType[types.EventMetadata] `gorm:"column:metadata"`
	Context   datatypes.JSON                          `gorm:"column:context"`
}

func (eventRow) TableName() string { return "event" }

type patternRow struct {
	ID         string                                    `gorm:"column:id;primaryKey"`
	SessionID  string                                    `gorm:"column:session_id;not null;index"`
	Position   int                                       `gorm:"column:position;not null"`
	Type       string                                    `gorm:"column:pattern_type;not null;index"`
	Confidence float64                                   `gorm:"column:confidence;not null"`
	EventIDs   datatypes.JSONType[[]types.EventID]       `gorm:"column:event_ids"`
	StartTime  int64                                     `gorm:"column:start_time;not null"`
	EndTime    int64                                     `gorm:"column:end_time;not null"`
	Metadata   datatypes.JSONType[types.PatternMetadata] `gorm:"column:metadata"`
}

func (patternRow) TableName() string { return "recognized_pattern" }

func patternToRow(p *types.RecognizedPattern, position int) *patternRow {
	return &patternRow{
		ID:         string(p.ID),
		SessionID:  string(p.SessionID),
		Position:   position,
		Type:       string(p.Type),
		Confidence: p.Confidence,
		EventIDs:   datatypes.NewJSONType(p.EventIDs),
		StartTime:  p.StartTime,
		EndTime:    p.EndTime,
		Metadata:   datatypes.NewJSONType(p.Metadata),
	}
}

func (r *patternRow) toPattern() *types.RecognizedPattern {
	return &types.RecognizedPattern{
		ID:         types.PatternID(r.ID),
		SessionID:  types.SessionID(r.SessionID),
		Type:       types.PatternType(r.Type),
		Confidence: r.Confidence,
		EventIDs:   r.EventIDs.Data(),
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Metadata:   r.Metadata.Data(),
	}
}

type modelRow struct {
	ID               string                                `gorm:"column:id;primaryKey"`
	Version          string                                `gorm:"column:version;not null"`
	Name             string                                `gorm:"column:name;not null"`
	Description      string                                `gorm:"column:description;type:text"`
	Entities         datatypes.JSONType[[]types.Entity]    `gorm:"column:entities"`
	Screens          datatypes.JSONType[[]types.Screen]    `gorm:"column:screens"`
	Workflows        datatypes.JSONType[[]types.Workflow]  `gorm:"column:workflows"`
	SourcePatternIDs datatypes.JSONType[[]types.PatternID] `gorm:"column:source_pattern_ids"`
	Confidence       float64                               `gorm:"column:confidence;not null;index"`
	CreatedAt        time.Time                             `gorm:"column:created_at;not null;index"`
	UpdatedAt        time.Time                             `gorm:"column:updated_at;not null"`
}

func (modelRow) TableName() string { return "application_model" }

func modelToRow(m *types.ApplicationModel) *modelRow {
	return &modelRow{
		ID:               string(m.ID),
		Version:          m.Version,
		Name:             m.Name,
		Description:      m.Description,
		Entities:         datatypes.NewJSONType(m.Entities),
		Screens:          datatypes.NewJSONType(m.Screens),
		Workflows:        datatypes.NewJSONType(m.Workflows),
		SourcePatternIDs: datatypes.NewJSONType(m.SourcePatternIDs),
		Confidence:       m.Confidence,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func (r *modelRow) toModel() *types.ApplicationModel {
	return &types.ApplicationModel{
		ID:               types.ModelID(r.ID),
		Version:          r.Version,
		Name:             r.Name,
		Description:      r.Description,
		Entities:         r.Entities.Data(),
		Screens:          r.Screens.Data(),
		Workflows:        r.Workflows.Data(),
		SourcePatternIDs: r.SourcePatternIDs.Data(),
		Confidence:       r.Confidence,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
