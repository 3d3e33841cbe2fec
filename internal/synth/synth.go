// Package synth distills recognized patterns into versioned application
// models and manages their lifecycle.
package synth

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

type Options struct {
	ID          types.ModelID `json:"id,omitempty"`
	Name        string        `json:"name,omitempty" validate:"omitempty,max=200"`
	Description string        `json:"description,omitempty" validate:"omitempty,max=2000"`
}

// Build aggregates patterns into a new model. It reads no state besides now,
// which stamps the timestamps and the default name. Invalid input fails the
// whole call; a half-built model is never returned.
func Build(patterns []*types.RecognizedPattern, opts Options, now time.Time) (*types.ApplicationModel, error) {
	if len(patterns) == 0 {
		return nil, apperr.New(apperr.NoPatterns, "NO_PATTERNS", "synthesis needs at least one pattern")
	}
	if err := checkPatterns(patterns); err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = types.NewModelID()
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "Application " + now.Format("2006-01-02")
	}

	var sum float64
	sources := make([]types.PatternID, 0, len(patterns))
	for _, p := range patterns {
		sum += p.Confidence
		sources = append(sources, p.ID)
	}

	stamp := now.UTC()
	return &types.ApplicationModel{
		ID:               id,
		Version:          types.InitialVersion,
		Name:             name,
		Description:      opts.Description,
		Entities:         entities(patterns),
		Screens:          screens(patterns),
		Workflows:        workflows(patterns),
		SourcePatternIDs: uniqueSorted(sources),
		Confidence:       math.Round(sum/float64(len(patterns))*1e4) / 1e4,
		CreatedAt:        stamp,
		UpdatedAt:        stamp,
	}, nil
}

func checkPatterns(patterns []*types.RecognizedPattern) error {
	var problems []string
	for i, p := range patterns {
		switch {
		case p == nil:
			problems = append(problems, fmt.Sprintf("pattern %d is empty", i))
		case p.ID == "":
			problems = append(problems, fmt.Sprintf("pattern %d has no id", i))
		case !p.Type.Valid():
			problems = append(problems, fmt.Sprintf("pattern %s has unknown type %q", p.ID, p.Type))
		case math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1:
			problems = append(problems, fmt.Sprintf("pattern %s has confidence %v outside [0,1]", p.ID, p.Confidence))
		case len(p.EventIDs) == 0:
			problems = append(problems, fmt.Sprintf("pattern %s has no events", p.ID))
		}
	}
	if len(problems) > 0 {
		return apperr.Invalid("INVALID_PATTERNS", "%s", strings.Join(problems, "; "))
	}
	return nil
}

// entities groups patterns by entity name and unions the operations their
// types and metadata imply along with their field names.
func entities(patterns []*types.RecognizedPattern) []types.Entity {
	type acc struct {
		fields []string
		ops    []types.Operation
	}
	byName := make(map[string]*acc)
	for _, p := range patterns {
		name := strings.ToLower(strings.TrimSpace(p.Metadata.Entity))
		if name == "" {
			continue
		}
		a := byName[name]
		if a == nil {
			a = &acc{}
			byName[name] = a
		}
		if op, ok := types.OperationFromPatternType(p.Type); ok {
			a.ops = append(a.ops, op)
		}
		if op, ok := types.ParseOperation(string(p.Metadata.Operation)); ok {
			a.ops = append(a.ops, op)
		}
		a.fields = append(a.fields, p.Metadata.Fields...)
	}

	out := make([]types.Entity, 0, len(byName))
	for name, a := range byName {
		out = append(out, types.Entity{
			Name:       name,
			Fields:     uniqueSorted(a.fields),
			Operations: types.SortOperations(a.ops),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// screens groups patterns by screen path, collecting the components seen
// there and the pattern types as the actions performed.
func screens(patterns []*types.RecognizedPattern) []types.Screen {
	type acc struct {
		components []string
		actions    []string
	}
	byPath := make(map[string]*acc)
	for _, p := range patterns {
		path := strings.TrimSpace(p.Metadata.Screen)
		if path == "" {
			continue
		}
		a := byPath[path]
		if a == nil {
			a = &acc{}
			byPath[path] = a
		}
		a.components = append(a.components, p.Metadata.Components...)
		a.actions = append(a.actions, string(p.Type))
	}

	out := make([]types.Screen, 0, len(byPath))
	for path, a := range byPath {
		out = append(out, types.Screen{
			Path:       path,
			Components: uniqueSorted(a.components),
			Actions:    uniqueSorted(a.actions),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// workflows builds one workflow per workflow_step pattern.
func workflows(patterns []*types.RecognizedPattern) []types.Workflow {
	out := []types.Workflow{}
	seen := make(map[string]bool)
	for _, p := range patterns {
		if p.Type != types.PatternWorkflowStep {
			continue
		}
		id := types.NewWorkflowID(p.ID)
		if seen[id] {
			continue
		}
		seen[id] = true
		name := p.Metadata.Workflow
		if name == "" {
			name = p.Metadata.Description
		}
		steps := append([]string{}, p.Metadata.Steps...)
		out = append(out, types.Workflow{
			ID:         id,
			Name:       name,
			Steps:      steps,
			DurationMs: max(p.EndTime-p.StartTime, 0),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func uniqueSorted[T ~string](in []T) []T {
	seen := make(map[T]bool, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
