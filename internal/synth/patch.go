package synth

import (
	"slices"
	"sort"
	"strings"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
	"github.com/user/appforge/internal/validate"
)

// Patch carries the model fields an update replaces; nil fields are left
// alone. Nothing is recomputed from patterns.
type Patch struct {
	Name        *string           `json:"name,omitempty" validate:"omitempty,max=200"`
	Description *string           `json:"description,omitempty" validate:"omitempty,max=2000"`
	Entities    *[]types.Entity   `json:"entities,omitempty"`
	Screens     *[]types.Screen   `json:"screens,omitempty"`
	Workflows   *[]types.Workflow `json:"workflows,omitempty"`
	Confidence  *float64          `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

func (p Patch) validate() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return apperr.Invalid("INVALID_FIELDS", "name must not be empty")
	}
	if p.Entities != nil {
		for i, e := range *p.Entities {
			if strings.TrimSpace(e.Name) == "" {
				return apperr.Invalid("INVALID_FIELDS", "entities[%d].name is required", i)
			}
			for _, op := range e.Operations {
				if !slices.Contains(types.Operations, op) {
					return apperr.Invalid("INVALID_FIELDS", "entities[%d] has unknown operation %q", i, op)
				}
			}
		}
	}
	if p.Screens != nil {
		for i, s := range *p.Screens {
			if strings.TrimSpace(s.Path) == "" {
				return apperr.Invalid("INVALID_FIELDS", "screens[%d].path is required", i)
			}
		}
	}
	if p.Workflows != nil {
		for i, w := range *p.Workflows {
			if w.ID == "" || w.DurationMs < 0 {
				return apperr.Invalid("INVALID_FIELDS", "workflows[%d] needs an id and a non-negative duration", i)
			}
		}
	}
	return nil
}

// apply writes the patch onto m. Set-valued fields are re-sorted so
// generation over the patched model stays byte-stable.
func (p Patch) apply(m *types.ApplicationModel) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Entities != nil {
		entities := make([]types.Entity, len(*p.Entities))
		for i, e := range *p.Entities {
			entities[i] = types.Entity{
				Name:       e.Name,
				Fields:     uniqueSorted(e.Fields),
				Operations: types.SortOperations(e.Operations),
			}
		}
		sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
		m.Entities = entities
	}
	if p.Screens != nil {
		screens := make([]types.Screen, len(*p.Screens))
		for i, s := range *p.Screens {
			screens[i] = types.Screen{
				Path:       s.Path,
				Components: uniqueSorted(s.Components),
				Actions:    uniqueSorted(s.Actions),
			}
		}
		sort.Slice(screens, func(i, j int) bool { return screens[i].Path < screens[j].Path })
		m.Screens = screens
	}
	if p.Workflows != nil {
		workflows := make([]types.Workflow, len(*p.Workflows))
		for i, w := range *p.Workflows {
			w.Steps = append([]string{}, w.Steps...)
			workflows[i] = w
		}
		m.Workflows = workflows
	}
	if p.Confidence != nil {
		m.Confidence = *p.Confidence
	}
}
