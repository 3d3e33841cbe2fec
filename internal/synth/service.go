package synth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/metrics"
	"github.com/user/appforge/internal/types"
	"github.com/user/appforge/internal/validate"
)

// Source selects the stored patterns a model is synthesized from: every
// pattern of the listed sessions plus the listed pattern ids.
type Source struct {
	SessionIDs []types.SessionID `json:"sessionIds,omitempty"`
	PatternIDs []types.PatternID `json:"patternIds,omitempty"`
}

// Filter narrows List. Limit <= 0 means no limit.
type Filter = types.ModelFilter

// Page is one slice of a model listing.
type Page struct {
	Items  []*types.ApplicationModel `json:"items"`
	Total  int                       `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// ModelView is a model optionally expanded with its source patterns.
type ModelView struct {
	*types.ApplicationModel
	Patterns []*types.RecognizedPattern `json:"patterns,omitempty"`
}

type Service struct {
	sessions types.SessionStore
	patterns types.PatternStore
	models   types.ModelStore
	log      *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

func NewService(sessions types.SessionStore, patterns types.PatternStore, models types.ModelStore, logger *zap.Logger, m *metrics.Collector) *Service {
	return &Service{
		sessions: sessions,
		patterns: patterns,
		models:   models,
		log:      logger.Named("synth"),
		metrics:  m,
		now:      time.Now,
	}
}

// Synthesize builds a model from patterns and stores it.
func (s *Service) Synthesize(ctx context.Context, patterns []*types.RecognizedPattern, opts Options) (*types.ApplicationModel, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	model, err := Build(patterns, opts, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.models.Create(ctx, model); err != nil {
		return nil, apperr.Storage("create model", err)
	}
	s.metrics.Synthesized()
	s.log.Info("model synthesized",
		zap.String("model_id", string(model.ID)),
		zap.Int("patterns", len(patterns)),
		zap.Int("entities", len(model.Entities)),
		zap.Int("screens", len(model.Screens)),
		zap.Int("workflows", len(model.Workflows)),
		zap.Float64("confidence", model.Confidence),
	)
	return model, nil
}

// SynthesizeFrom resolves src against the stored patterns, then synthesizes.
// Unknown sessions or pattern ids fail the call before anything is built.
func (s *Service) SynthesizeFrom(ctx context.Context, src Source, opts Options) (*types.ApplicationModel, error) {
	patterns, err := s.resolve(ctx, src)
	if err != nil {
		return nil, err
	}
	return s.Synthesize(ctx, patterns, opts)
}

func (s *Service) resolve(ctx context.Context, src Source) ([]*types.RecognizedPattern, error) {
	if len(src.SessionIDs) == 0 && len(src.PatternIDs) == 0 {
		return nil, apperr.Invalid("MISSING_SOURCE", "a session id or pattern ids are required")
	}
	var out []*types.RecognizedPattern
	seen := make(map[types.PatternID]bool)
	add := func(patterns []*types.RecognizedPattern) {
		for _, p := range patterns {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	for _, id := range src.SessionIDs {
		if _, err := s.sessions.Get(ctx, id); err != nil {
			return nil, apperr.Storage("load session", err)
		}
		patterns, err := s.patterns.ListBySession(ctx, id)
		if err != nil {
			return nil, apperr.Storage("load patterns", err)
		}
		add(patterns)
	}
	if len(src.PatternIDs) > 0 {
		patterns, err := s.patterns.GetMany(ctx, src.PatternIDs)
		if err != nil {
			return nil, apperr.Storage("load patterns", err)
		}
		add(patterns)
	}
	return out, nil
}

// Get returns a model, with its source patterns when expand is set.
func (s *Service) Get(ctx context.Context, id types.ModelID, expand bool) (*ModelView, error) {
	model, err := s.models.Get(ctx, id)
	if err != nil {
		return nil, apperr.Storage("load model", err)
	}
	view := &ModelView{ApplicationModel: model}
	if expand && len(model.SourcePatternIDs) > 0 {
		patterns, err := s.storedPatterns(ctx, model.SourcePatternIDs)
		if err != nil {
			return nil, apperr.Storage("load patterns", err)
		}
		if missing := len(model.SourcePatternIDs) - len(patterns); missing > 0 {
			s.log.Debug("model sources no longer stored",
				zap.String("model_id", string(id)), zap.Int("missing", missing))
		}
		view.Patterns = patterns
	}
	return view, nil
}

// storedPatterns returns the patterns among ids that are still stored, in
// order. Sources replaced by a later recognition run are skipped.
func (s *Service) storedPatterns(ctx context.Context, ids []types.PatternID) ([]*types.RecognizedPattern, error) {
	patterns, err := s.patterns.GetMany(ctx, ids)
	if !apperr.IsType(err, apperr.NotFound) {
		return patterns, err
	}
	out := make([]*types.RecognizedPattern, 0, len(ids))
	for _, id := range ids {
		one, err := s.patterns.GetMany(ctx, []types.PatternID{id})
		switch {
		case apperr.IsType(err, apperr.NotFound):
			continue
		case err != nil:
			return nil, err
		}
		out = append(out, one...)
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, filter Filter) (*Page, error) {
	if filter.Limit < 0 || filter.Offset < 0 || filter.MinConfidence < 0 || filter.MinConfidence > 1 {
		return nil, apperr.Invalid("INVALID_FILTER", "limit and offset must not be negative and minConfidence must be in [0,1]")
	}
	items, total, err := s.models.List(ctx, filter)
	if err != nil {
		return nil, apperr.Storage("list models", err)
	}
	if items == nil {
		items = []*types.ApplicationModel{}
	}
	return &Page{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Update replaces the fields patch carries and bumps the patch version.
// Concurrent updates are last-write-wins; the store serializes each
// read-modify-write so every update sees a strictly higher version.
func (s *Service) Update(ctx context.Context, id types.ModelID, patch Patch) (*types.ApplicationModel, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}
	model, err := s.models.Update(ctx, id, func(m *types.ApplicationModel) error {
		next, err := types.BumpPatch(m.Version)
		if err != nil {
			return apperr.New(apperr.Validation, "INVALID_VERSION", "stored model has %v", err)
		}
		patch.apply(m)
		m.Version = next
		m.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, apperr.Storage("update model", err)
	}
	s.log.Info("model updated", zap.String("model_id", string(id)), zap.String("version", model.Version))
	return model, nil
}

func (s *Service) Delete(ctx context.Context, id types.ModelID) error {
	if err := s.models.Delete(ctx, id); err != nil {
		return apperr.Storage("delete model", err)
	}
	s.log.Info("model deleted", zap.String("model_id", string(id)))
	return nil
}
