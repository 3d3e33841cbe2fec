// Package ingest accepts event batches, validates and normalizes each
// event, and maintains the per-session records.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/logging"
	"github.com/user/appforge/internal/metrics"
	"github.com/user/appforge/internal/state"
	"github.com/user/appforge/internal/types"
	"github.com/user/appforge/internal/validate"
)

const DefaultMaxBatch = 500

// ItemError describes one rejected event of a batch.
type ItemError struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// Result summarizes one Ingest call. Accepted counts newly stored events;
// Duplicates counts events whose id was already stored for the session
// or repeated within the batch.
type Result struct {
	Accepted   int         `json:"accepted"`
	Rejected   int         `json:"rejected"`
	Duplicates int         `json:"duplicates"`
	Errors     []ItemError `json:"errors,omitempty"`
}

type Options struct {
	MaxBatch int
	Metrics  *metrics.Collector
	// OnClosed runs after a session is closed, outside the session lock.
	OnClosed func(ctx context.Context, id types.SessionID)
}

type Service struct {
	sessions types.SessionStore
	events   types.EventStore
	patterns types.PatternStore
	log      *zap.Logger
	metrics  *metrics.Collector
	maxBatch int
	onClosed func(ctx context.Context, id types.SessionID)
	now      func() time.Time

	locks state.KeyedLocks[types.SessionID]
}

// NewService wires the ingestion service. patterns may be nil; when set,
// Prune also clears a pruned session's stored patterns.
func NewService(sessions types.SessionStore, events types.EventStore, patterns types.PatternStore, logger *zap.Logger, opts Options) *Service {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	return &Service{
		sessions: sessions,
		events:   events,
		patterns: patterns,
		log:      logger.Named("ingest"),
		metrics:  opts.Metrics,
		maxBatch: opts.MaxBatch,
		onClosed: opts.OnClosed,
		now:      time.Now,
	}
}

// SetOnClosed replaces the close hook. Call before serving traffic.
func (s *Service) SetOnClosed(fn func(ctx context.Context, id types.SessionID)) {
	s.onClosed = fn
}

// Ingest validates and stores a batch. Each item is checked on its own;
// bad items are reported in Result.Errors while the rest are stored. A
// storage failure fails the whole call with a retryable error, which is
// safe to retry since stored ids are deduplicated.
func (s *Service) Ingest(ctx context.Context, items []json.RawMessage) (*Result, error) {
	if len(items) == 0 {
		return nil, apperr.Invalid("EMPTY_BATCH", "batch contains no events")
	}
	if len(items) > s.maxBatch {
		return nil, apperr.Invalid("BATCH_TOO_LARGE", "batch has %d events, limit is %d", len(items), s.maxBatch)
	}

	res := &Result{}
	groups := make(map[types.SessionID][]*types.Event)
	for i, item := range items {
		ev, err := decodeEvent(item)
		if err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, ItemError{Index: i, ID: peekID(item), Reason: err.Error()})
			continue
		}
		groups[ev.SessionID] = append(groups[ev.SessionID], ev)
	}

	ids := make([]types.SessionID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		group := groups[id]
		g.Go(func() error {
			stored, err := s.appendSession(gctx, id, group)
			if err != nil {
				return err
			}
			mu.Lock()
			res.Accepted += stored
			res.Duplicates += len(group) - stored
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error("ingest failed", zap.Int("events", len(items)), zap.Error(err))
		return nil, apperr.Storage("ingest batch", err)
	}

	s.metrics.Ingested("accepted", res.Accepted)
	s.metrics.Ingested("rejected", res.Rejected)
	s.metrics.Ingested("duplicate", res.Duplicates)
	s.log.Debug("batch ingested",
		zap.Int("sessions", len(groups)),
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected),
		zap.Int("duplicates", res.Duplicates))
	return res, nil
}

// appendSession stores one session's events and updates the session row
// under the session lock. Returns the number of newly stored events. A
// missing session row is rebuilt from every stored event, so a batch
// retried after a failed session write still creates the session.
func (s *Service) appendSession(ctx context.Context, id types.SessionID, group []*types.Event) (int, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	appended, err := s.events.Append(ctx, id, group)
	if err != nil {
		return 0, fmt.Errorf("append events for %s: %w", id, err)
	}

	sess, err := s.sessions.Get(ctx, id)
	switch {
	case apperr.IsType(err, apperr.NotFound):
		stored, err := s.events.List(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("list events for %s: %w", id, err)
		}
		if len(stored) == 0 {
			return 0, nil
		}
		sess = &types.Session{ID: id}
		observeEvents(sess, stored)
		sess.EventCount = int64(len(stored))
		s.log.Info("session opened", zap.String("session", string(id)), logging.User(stored[0].UserID))
	case err != nil:
		return 0, fmt.Errorf("load session %s: %w", id, err)
	case len(appended) == 0:
		return 0, nil
	default:
		observeEvents(sess, appended)
		sess.EventCount += int64(len(appended))
	}

	if err := s.sessions.Put(ctx, sess); err != nil {
		return 0, fmt.Errorf("save session %s: %w", id, err)
	}
	return len(appended), nil
}

func observeEvents(sess *types.Session, events []*types.Event) {
	for _, ev := range events {
		sess.Observe(ev.Timestamp)
		if sess.UserID == "" {
			sess.UserID = ev.UserID
		}
		if sess.Metadata.IsZero() && ev.Context != nil {
			sess.Metadata = *ev.Context
		}
	}
}

func decodeEvent(item json.RawMessage) (*types.Event, error) {
	var raw RawEvent
	if err := json.Unmarshal(item, &raw); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	if err := validate.Struct(&raw); err != nil {
		return nil, err
	}
	if raw.SessionID == "." || raw.SessionID == ".." {
		return nil, apperr.Invalid("INVALID_SESSION_ID", "sessionId %q is reserved", raw.SessionID)
	}
	md, err := Normalize(raw.Metadata)
	if err != nil {
		return nil, apperr.Invalid("INVALID_METADATA", "%v", err)
	}
	return &types.Event{
		ID:        types.EventID(raw.ID),
		SessionID: types.SessionID(raw.SessionID),
		UserID:    raw.UserID,
		Type:      types.EventType(raw.Type),
		Timestamp: int64(raw.Timestamp),
		Metadata:  md,
		Context:   raw.Context,
	}, nil
}

// peekID pulls the id out of an item that failed to decode, if it has one.
func peekID(item json.RawMessage) string {
	var head struct {
		ID any `json:"id"`
	}
	if json.Unmarshal(item, &head) != nil {
		return ""
	}
	if s, ok := head.ID.(string); ok {
		return s
	}
	return ""
}
