package recognize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/metrics"
	"github.com/user/appforge/internal/state"
	"github.com/user/appforge/internal/types"
)

type engineFixture struct {
	engine   *Engine
	sessions *state.SessionStore
	events   *state.EventStore
	patterns *state.PatternStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	f := &engineFixture{
		sessions: state.NewSessionStore(dir),
		events:   state.NewEventStore(dir),
		patterns: state.NewPatternStore(dir),
	}
	f.engine = NewEngine(f.sessions, f.events, f.patterns, nil, zaptest.NewLogger(t), metrics.NewCollector("test"))
	return f
}

func (f *engineFixture) seed(t *testing.T, id types.SessionID, s *stream) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.sessions.Put(ctx, &types.Session{ID: id, StartTime: 1}))
	_, err := f.events.Append(ctx, id, s.events)
	require.NoError(t, err)
}

func TestRecognizePersistsPatterns(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seed(t, "S1", orderScenario())

	patterns, err := f.engine.Recognize(ctx, "S1")
	require.NoError(t, err)
	require.NotEmpty(t, patterns)

	stored, err := f.engine.Patterns(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, patterns, stored)
}

func TestRecognizeTwiceYieldsSameIDs(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seed(t, "S1", orderScenario())

	first, err := f.engine.Recognize(ctx, "S1")
	require.NoError(t, err)
	second, err := f.engine.Recognize(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := f.patterns.ListBySession(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, stored, len(first))
}

func TestRecognizeUnknownSession(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Recognize(ctx, "nope")
	assert.True(t, apperr.IsType(err, apperr.NotFound))

	stored, err := f.patterns.ListBySession(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = f.engine.Patterns(ctx, "nope")
	assert.True(t, apperr.IsType(err, apperr.NotFound))
}

func TestRecognizeEmptySession(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Put(ctx, &types.Session{ID: "empty"}))

	patterns, err := f.engine.Recognize(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, patterns)
	assert.Empty(t, patterns)
}

func TestSetPolicyAppliesToNextRun(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seed(t, "S1", orderScenario())

	strict := DefaultPolicy()
	strict.Name = "strict"
	strict.Cutoff = 0.99
	f.engine.SetPolicy(strict)
	assert.Equal(t, "strict@1.0", f.engine.Policy().Ref())

	patterns, err := f.engine.Recognize(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, patterns)
}
