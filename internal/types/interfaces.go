package types

import "context"

// SessionFilter narrows SessionStore.List.
type SessionFilter struct {
	ActiveOnly bool
	ClosedOnly bool
}

// ModelFilter narrows ModelStore.List. Limit <= 0 means no limit.
type ModelFilter struct {
	MinConfidence float64
	Limit         int
	Offset        int
}

type SessionStore interface {
	Get(ctx context.Context, id SessionID) (*Session, error)
	List(ctx context.Context, filter SessionFilter) ([]*Session, error)
	Put(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id SessionID) error
}

// EventStore persists events per session. Append ignores events whose id is
// already stored for the session, assigns Seq to the rest in slice order and
// returns only the newly stored events.
type EventStore interface {
	Append(ctx context.Context, sessionID SessionID, events []*Event) ([]*Event, error)
	List(ctx context.Context, sessionID SessionID) ([]*Event, error)
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
	DeleteSession(ctx context.Context, sessionID SessionID) error
}

// PatternStore keeps the latest recognition output per session.
type PatternStore interface {
	ReplaceForSession(ctx context.Context, sessionID SessionID, patterns []*RecognizedPattern) error
	ListBySession(ctx context.Context, sessionID SessionID) ([]*RecognizedPattern, error)
	GetMany(ctx context.Context, ids []PatternID) ([]*RecognizedPattern, error)
}

// ModelStore persists application models. Update runs fn on the stored
// model under the store's write lock and saves the result.
type ModelStore interface {
	Create(ctx context.Context, model *ApplicationModel) error
	Get(ctx context.Context, id ModelID) (*ApplicationModel, error)
	List(ctx context.Context, filter ModelFilter) ([]*ApplicationModel, int, error)
	Update(ctx context.Context, id ModelID, fn func(*ApplicationModel) error) (*ApplicationModel, error)
	Delete(ctx context.Context, id ModelID) error
}
