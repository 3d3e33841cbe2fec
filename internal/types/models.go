package types

import (
	"sort"
	"time"
)

type EventType string

const (
	EventInteraction EventType = "interaction"
	EventNavigation  EventType = "navigation"
	EventStateChange EventType = "state_change"
	EventForm        EventType = "form"
	EventWorkflow    EventType = "workflow"
	EventError       EventType = "error"
	EventSystem      EventType = "system"
)

// EventTypes is the closed set of accepted event types.
var EventTypes = []EventType{
	EventInteraction, EventNavigation, EventStateChange, EventForm,
	EventWorkflow, EventError, EventSystem,
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EventMetadata is the canonical metadata schema. Ingestion folds every
// client-side synonym into these fields.
type EventMetadata struct {
	Screen     string            `json:"screen,omitempty"`
	Component  string            `json:"component,omitempty"`
	Element    string            `json:"element,omitempty"`
	Action     string            `json:"action,omitempty"`
	Entity     string            `json:"entity,omitempty"`
	Form       string            `json:"form,omitempty"`
	Fields     []string          `json:"fields,omitempty"`
	Workflow   string            `json:"workflow,omitempty"`
	Step       string            `json:"step,omitempty"`
	Status     int               `json:"status,omitempty"`
	DurationMs int64             `json:"durationMs,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ClientContext describes the client a session was recorded on.
type ClientContext struct {
	Device   string `json:"device,omitempty"`
	Viewport string `json:"viewport,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

func (c ClientContext) IsZero() bool {
	return c == ClientContext{}
}

// Event is an immutable fact about one user action. Timestamp is in epoch
// milliseconds; Seq is the per-session arrival counter assigned at ingestion.
type Event struct {
	ID        EventID        `json:"id"`
	SessionID SessionID      `json:"sessionId"`
	UserID    string         `json:"userId,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Seq       int64          `json:"seq"`
	Metadata  EventMetadata  `json:"metadata"`
	Context   *ClientContext `json:"context,omitempty"`
}

// SortEvents orders events by (timestamp, seq).
func SortEvents(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].Seq < events[j].Seq
	})
}

// Session is a bounded window of events from one client context.
type Session struct {
	ID            SessionID     `json:"id"`
	UserID        string        `json:"userId,omitempty"`
	StartTime     int64         `json:"startTime"`
	EndTime       *int64        `json:"endTime,omitempty"`
	LastEventTime int64         `json:"lastEventTime"`
	EventCount    int64         `json:"eventCount"`
	Metadata      ClientContext `json:"metadata"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Active reports whether the session is still open.
func (s *Session) Active() bool {
	return s.EndTime == nil
}

// Observe widens the session's time bounds to include ts.
func (s *Session) Observe(ts int64) {
	if s.StartTime == 0 || ts < s.StartTime {
		s.StartTime = ts
	}
	if ts > s.LastEventTime {
		s.LastEventTime = ts
	}
	if s.EndTime != nil && ts > *s.EndTime {
		end := ts
		s.EndTime = &end
	}
}

// Close marks the session ended at its newest observed event.
func (s *Session) Close() {
	end := max(s.LastEventTime, s.StartTime)
	s.EndTime = &end
}

type PatternType string

const (
	PatternCRUDCreate             PatternType = "crud_create"
	PatternCRUDRead               PatternType = "crud_read"
	PatternCRUDUpdate             PatternType = "crud_update"
	PatternCRUDDelete             PatternType = "crud_delete"
	PatternListView               PatternType = "list_view"
	PatternDetailView             PatternType = "detail_view"
	PatternFilter                 PatternType = "filter"
	PatternSort                   PatternType = "sort"
	PatternSearch                 PatternType = "search"
	PatternNavigation             PatternType = "navigation"
	PatternFormSubmission         PatternType = "form_submission"
	PatternWorkflowStep           PatternType = "workflow_step"
	PatternRelationshipManagement PatternType = "relationship_management"
	PatternBatchOperation         PatternType = "batch_operation"
	PatternDataExport             PatternType = "data_export"
	PatternDataImport             PatternType = "data_import"
	PatternAuthentication         PatternType = "authentication"
	PatternAuthorization          PatternType = "authorization"
)

var PatternTypes = []PatternType{
	PatternCRUDCreate, PatternCRUDRead, PatternCRUDUpdate, PatternCRUDDelete,
	PatternListView, PatternDetailView, PatternFilter, PatternSort, PatternSearch,
	PatternNavigation, PatternFormSubmission, PatternWorkflowStep,
	PatternRelationshipManagement, PatternBatchOperation, PatternDataExport,
	PatternDataImport, PatternAuthentication, PatternAuthorization,
}

func (t PatternType) Valid() bool {
	for _, known := range PatternTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CRUDPattern returns the crud_* pattern type for an operation.
func CRUDPattern(op Operation) PatternType {
	return PatternType("crud_" + string(op))
}

type PatternMetadata struct {
	Entity        string    `json:"entity,omitempty"`
	Screen        string    `json:"screen,omitempty"`
	Fields        []string  `json:"fields,omitempty"`
	Components    []string  `json:"components,omitempty"`
	Operation     Operation `json:"operation,omitempty"`
	Workflow      string    `json:"workflow,omitempty"`
	Steps         []string  `json:"steps,omitempty"`
	Description   string    `json:"description,omitempty"`
	PolicyVersion string    `json:"policyVersion,omitempty"`
}

// RecognizedPattern is a confidence-scored behavioral unit detected in one
// session. EventIDs is ordered by the events' stored order.
type RecognizedPattern struct {
	ID         PatternID       `json:"id"`
	SessionID  SessionID       `json:"sessionId"`
	Type       PatternType     `json:"patternType"`
	Confidence float64         `json:"confidence"`
	EventIDs   []EventID       `json:"eventIds"`
	StartTime  int64           `json:"startTime"`
	EndTime    int64           `json:"endTime"`
	Metadata   PatternMetadata `json:"metadata"`
}

type Entity struct {
	Name       string      `json:"name"`
	Fields     []string    `json:"fields"`
	Operations []Operation `json:"operations"`
}

// Has reports whether op was recorded for the entity.
func (e Entity) Has(op Operation) bool {
	for _, recorded := range e.Operations {
		if recorded == op {
			return true
		}
	}
	return false
}

type Screen struct {
	Path       string   `json:"path"`
	Components []string `json:"components"`
	Actions    []string `json:"actions"`
}

type Workflow struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Steps      []string `json:"steps"`
	DurationMs int64    `json:"durationMs"`
}

// ApplicationModel is the structured description of an application distilled
// from recognized patterns.
type ApplicationModel struct {
	ID               ModelID     `json:"id"`
	Version          string      `json:"version"`
	Name             string      `json:"name"`
	Description      string      `json:"description,omitempty"`
	Entities         []Entity    `json:"entities"`
	Screens          []Screen    `json:"screens"`
	Workflows        []Workflow  `json:"workflows"`
	SourcePatternIDs []PatternID `json:"sourcePatternIds"`
	Confidence       float64     `json:"confidence"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

type ArtifactType string

const (
	ArtifactPage      ArtifactType = "page"
	ArtifactComponent ArtifactType = "component"
	ArtifactTypeDef   ArtifactType = "type"
	ArtifactStore     ArtifactType = "store"
	ArtifactAPI       ArtifactType = "api"
	ArtifactOther     ArtifactType = "other"
)

var ArtifactTypes = []ArtifactType{
	ArtifactPage, ArtifactComponent, ArtifactTypeDef, ArtifactStore, ArtifactAPI, ArtifactOther,
}

func (t ArtifactType) Valid() bool {
	for _, known := range ArtifactTypes {
		if t == known {
			return true
		}
	}
	return false
}

// GeneratedArtifact is one output file of a generation run.
type GeneratedArtifact struct {
	Path      string       `json:"path"`
	Type      ArtifactType `json:"type"`
	Content   string       `json:"content,omitempty"`
	SizeBytes int          `json:"sizeBytes"`
}
