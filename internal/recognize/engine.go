// Package recognize turns a session's ordered events into confidence-scored
// usage patterns.
package recognize

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/metrics"
	"github.com/user/appforge/internal/types"
)

type Engine struct {
	sessions types.SessionStore
	events   types.EventStore
	patterns types.PatternStore
	log      *zap.Logger
	metrics  *metrics.Collector
	policy   atomic.Pointer[ScoringPolicy]
}

// NewEngine wires the engine. A nil policy selects DefaultPolicy; m may be nil.
func NewEngine(sessions types.SessionStore, events types.EventStore, patterns types.PatternStore, policy *ScoringPolicy, logger *zap.Logger, m *metrics.Collector) *Engine {
	if policy == nil {
		policy = DefaultPolicy()
	}
	e := &Engine{
		sessions: sessions,
		events:   events,
		patterns: patterns,
		log:      logger.Named("recognize"),
		metrics:  m,
	}
	e.policy.Store(policy)
	return e
}

// Policy returns the policy new recognition runs score with.
func (e *Engine) Policy() *ScoringPolicy {
	return e.policy.Load()
}

// SetPolicy swaps the scoring policy. Runs already in flight finish with
// the policy they started with.
func (e *Engine) SetPolicy(p *ScoringPolicy) {
	old := e.policy.Swap(p)
	e.log.Info("scoring policy updated", zap.String("from", old.Ref()), zap.String("to", p.Ref()))
}

// Recognize detects the patterns of one session and replaces the session's
// stored pattern set with them.
func (e *Engine) Recognize(ctx context.Context, sessionID types.SessionID) ([]*types.RecognizedPattern, error) {
	start := time.Now()
	if _, err := e.sessions.Get(ctx, sessionID); err != nil {
		return nil, apperr.Storage("load session", err)
	}
	events, err := e.events.List(ctx, sessionID)
	if err != nil {
		return nil, apperr.Storage("load events", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	policy := e.Policy()
	patterns := Detect(sessionID, events, policy)
	if err := e.patterns.ReplaceForSession(ctx, sessionID, patterns); err != nil {
		return nil, apperr.Storage("store patterns", err)
	}

	kinds := make([]string, len(patterns))
	for i, p := range patterns {
		kinds[i] = string(p.Type)
	}
	e.metrics.Recognized(time.Since(start), kinds)
	e.log.Debug("session recognized",
		zap.String("session_id", string(sessionID)),
		zap.Int("events", len(events)),
		zap.Int("patterns", len(patterns)),
		zap.String("policy", policy.Ref()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return patterns, nil
}

// Patterns returns the stored patterns of a known session.
func (e *Engine) Patterns(ctx context.Context, sessionID types.SessionID) ([]*types.RecognizedPattern, error) {
	if _, err := e.sessions.Get(ctx, sessionID); err != nil {
		return nil, apperr.Storage("load session", err)
	}
	patterns, err := e.patterns.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperr.Storage("load patterns", err)
	}
	if patterns == nil {
		patterns = []*types.RecognizedPattern{}
	}
	return patterns, nil
}
