package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

// Session returns one session record.
func (s *Service) Session(ctx context.Context, id types.SessionID) (*types.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, apperr.Storage("get session", err)
	}
	return sess, nil
}

// Sessions lists session records, most recently active first.
func (s *Service) Sessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	sessions, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, apperr.Storage("list sessions", err)
	}
	return sessions, nil
}

// Events returns a session's events in stored order; limit > 0 keeps only
// the newest limit events.
func (s *Service) Events(ctx context.Context, id types.SessionID, limit int) ([]*types.Event, error) {
	if _, err := s.Session(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.events.Tail(ctx, id, limit)
	if err != nil {
		return nil, apperr.Storage("list events", err)
	}
	return events, nil
}

// CloseSession marks a session ended and fires the close hook. Closing a
// closed session returns it unchanged and does not fire the hook again.
func (s *Service) CloseSession(ctx context.Context, id types.SessionID) (*types.Session, error) {
	unlock := s.locks.Lock(id)
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, apperr.Storage("get session", err)
	}
	if !sess.Active() {
		unlock()
		return sess, nil
	}
	sess.Close()
	err = s.sessions.Put(ctx, sess)
	unlock()
	if err != nil {
		return nil, apperr.Storage("close session", err)
	}

	s.log.Info("session closed", zap.String("session", string(id)), zap.Int64("events", sess.EventCount))
	if s.onClosed != nil {
		s.onClosed(ctx, id)
	}
	return sess, nil
}

// SweepIdle closes every active session whose newest event is older than
// idleFor and returns the ids it closed.
func (s *Service) SweepIdle(ctx context.Context, idleFor time.Duration) ([]types.SessionID, error) {
	active, err := s.Sessions(ctx, types.SessionFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-idleFor).UnixMilli()

	var closed []types.SessionID
	for _, sess := range active {
		if sess.LastEventTime >= cutoff {
			continue
		}
		if _, err := s.CloseSession(ctx, sess.ID); err != nil {
			return closed, err
		}
		closed = append(closed, sess.ID)
	}
	s.metrics.SetActiveSessions(len(active) - len(closed))
	return closed, nil
}

// Prune deletes closed sessions, with their events and patterns, whose end
// time is older than olderThan. Returns the number of sessions removed.
func (s *Service) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	closed, err := s.Sessions(ctx, types.SessionFilter{ClosedOnly: true})
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan).UnixMilli()

	pruned := 0
	for _, sess := range closed {
		if sess.EndTime == nil || *sess.EndTime >= cutoff {
			continue
		}
		if err := s.deleteSession(ctx, sess.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	if pruned > 0 {
		s.log.Info("sessions pruned", zap.Int("count", pruned), zap.Duration("older_than", olderThan))
	}
	return pruned, nil
}

func (s *Service) deleteSession(ctx context.Context, id types.SessionID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.events.DeleteSession(ctx, id); err != nil {
		return apperr.Storage("delete events", err)
	}
	if s.patterns != nil {
		if err := s.patterns.ReplaceForSession(ctx, id, nil); err != nil {
			return apperr.Storage("delete patterns", err)
		}
	}
	if err := s.sessions.Delete(ctx, id); err != nil && !apperr.IsType(err, apperr.NotFound) {
		return apperr.Storage("delete session", err)
	}
	return nil
}
