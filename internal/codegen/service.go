package codegen

import (
	"context"

	"go.uber.org/zap"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/metrics"
	"github.com/user/appforge/internal/types"
)

// Request selects what GenerateByID renders. An empty Target uses the
// service default; empty FileTypes keeps every artifact.
type Request struct {
	ModelID   types.ModelID        `json:"modelId"`
	Target    string               `json:"target,omitempty"`
	FileTypes []types.ArtifactType `json:"fileTypes,omitempty"`
}

type Service struct {
	models        types.ModelStore
	defaultTarget string
	log           *zap.Logger
	metrics       *metrics.Collector
}

func NewService(models types.ModelStore, defaultTarget string, logger *zap.Logger, m *metrics.Collector) *Service {
	if defaultTarget == "" {
		defaultTarget = "react-ts"
	}
	return &Service{
		models:        models,
		defaultTarget: defaultTarget,
		log:           logger.Named("codegen"),
		metrics:       m,
	}
}

// DefaultTarget is the target used when a request names none.
func (s *Service) DefaultTarget() string { return s.defaultTarget }

// GenerateByID renders a snapshot of the stored model.
func (s *Service) GenerateByID(ctx context.Context, modelID types.ModelID, target string, fileTypes []types.ArtifactType) ([]types.GeneratedArtifact, error) {
	if modelID == "" {
		return nil, apperr.Invalid("MISSING_MODEL_ID", "modelId is required")
	}
	for _, t := range fileTypes {
		if !t.Valid() {
			return nil, apperr.Invalid("INVALID_FILE_TYPE", "unknown artifact type %q", t)
		}
	}
	if target == "" {
		target = s.defaultTarget
	}
	if _, err := Lookup(target); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := s.models.Get(ctx, modelID)
	if err != nil {
		return nil, apperr.Storage("get model", err)
	}
	artifacts, err := Generate(model, target)
	if err != nil {
		return nil, err
	}
	artifacts = FilterByType(artifacts, fileTypes...)
	for _, a := range artifacts {
		s.metrics.Generated(string(a.Type))
	}
	s.log.Info("artifacts generated",
		zap.String("model_id", string(modelID)),
		zap.String("model_version", model.Version),
		zap.String("target", target),
		zap.Int("artifacts", len(artifacts)),
	)
	return artifacts, nil
}

// Generate is GenerateByID for a Request.
func (s *Service) Generate(ctx context.Context, req Request) ([]types.GeneratedArtifact, error) {
	return s.GenerateByID(ctx, req.ModelID, req.Target, req.FileTypes)
}
