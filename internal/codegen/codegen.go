// Package codegen renders an application model into source artifacts for a
// target profile. Rendering is a pure function of the model and the target:
// the same inputs always produce byte-identical artifacts in path order.
package codegen

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"text/template"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

//go:embed templates
var templateFS embed.FS

// Profile is one code generation target.
type Profile struct {
	Name        string
	Description string
	layout      layout
	tmpl        *template.Template
}

// layout places each artifact kind in the generated tree.
type layout struct {
	typeFile     func(e *entityView) string
	apiFile      func(e *entityView) string
	pageFile     func(s *screenView) string
	workflowFile func(w *workflowView) string
	indexFile    string

	// componentsFile holds the stock widgets pages import; empty when the
	// profile's pages need none.
	componentsFile string
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"oneline": func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	},
	// quote renders a JavaScript string literal.
	"quote": func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	},
	// jsx renders a JSX attribute expression: {"value"}.
	"jsx": func(s string) string {
		b, _ := json.Marshal(s)
		return "{" + string(b) + "}"
	},
}

var profiles = map[string]*Profile{
	"react-ts": {
		Name:        "react-ts",
		Description: "React + TypeScript single page app",
		layout: layout{
			typeFile:     func(e *entityView) string { return "src/types/" + e.Pascal + ".ts" },
			apiFile:      func(e *entityView) string { return "src/api/" + e.Camel + "Api.ts" },
			pageFile:     func(s *screenView) string { return "src/pages/" + s.Component + ".tsx" },
			workflowFile: func(w *workflowView) string { return "src/workflows/" + w.Camel + ".ts" },
			indexFile:    "src/routes.ts",

			componentsFile: "src/components/index.tsx",
		},
		tmpl: mustParse("react-ts"),
	},
	"go-chi": {
		Name:        "go-chi",
		Description: "Go HTTP service on chi with HTML pages",
		layout: layout{
			typeFile:     func(e *entityView) string { return "internal/model/" + e.Snake + ".go" },
			apiFile:      func(e *entityView) string { return "internal/handler/" + e.Snake + "_handler.go" },
			pageFile:     func(s *screenView) string { return "web/templates/" + s.File },
			workflowFile: func(w *workflowView) string { return "internal/workflow/" + w.Snake + ".go" },
			indexFile:    "internal/handler/routes.go",
		},
		tmpl: mustParse("go-chi"),
	},
}

func mustParse(profile string) *template.Template {
	return template.Must(template.New(profile).
		Funcs(funcs).
		ParseFS(templateFS, "templates/"+profile+"/*.tmpl"))
}

// Targets lists the supported target names, sorted.
func Targets() []string {
	out := make([]string, 0, len(profiles))
	for name := range profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the named profile.
func Lookup(target string) (*Profile, error) {
	p, ok := profiles[target]
	if !ok {
		return nil, apperr.New(apperr.UnsupportedTarget, "UNSUPPORTED_TARGET",
			"unsupported target %q (supported: %s)", target, strings.Join(Targets(), ", "))
	}
	return p, nil
}

// Generate renders model for target.
func Generate(model *types.ApplicationModel, target string) ([]types.GeneratedArtifact, error) {
	p, err := Lookup(target)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, apperr.Invalid("INVALID_MODEL", "model is required")
	}
	return p.Render(model)
}

// Render renders model with this profile's templates.
func (p *Profile) Render(model *types.ApplicationModel) ([]types.GeneratedArtifact, error) {
	v := newView(model)
	var out []types.GeneratedArtifact
	emit := func(path string, typ types.ArtifactType, name string, data *view) error {
		var buf bytes.Buffer
		if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
			return fmt.Errorf("render %s: %w", path, err)
		}
		out = append(out, types.GeneratedArtifact{
			Path:      path,
			Type:      typ,
			Content:   buf.String(),
			SizeBytes: buf.Len(),
		})
		return nil
	}

	for _, e := range v.Entities {
		if err := emit(p.layout.typeFile(e), types.ArtifactTypeDef, "type.tmpl", v.withEntity(e)); err != nil {
			return nil, err
		}
		if !e.HasOps() {
			continue
		}
		if err := emit(p.layout.apiFile(e), types.ArtifactAPI, "api.tmpl", v.withEntity(e)); err != nil {
			return nil, err
		}
	}
	for _, s := range v.Screens {
		if err := emit(p.layout.pageFile(s), types.ArtifactPage, "page.tmpl", v.withScreen(s)); err != nil {
			return nil, err
		}
	}
	if p.layout.componentsFile != "" && len(v.Widgets) > 0 {
		if err := emit(p.layout.componentsFile, types.ArtifactComponent, "components.tmpl", v.withWidgets()); err != nil {
			return nil, err
		}
	}
	for _, w := range v.Workflows {
		if err := emit(p.layout.workflowFile(w), types.ArtifactOther, "workflow.tmpl", v.withWorkflow(w)); err != nil {
			return nil, err
		}
	}
	if err := emit(p.layout.indexFile, types.ArtifactOther, "index.tmpl", v); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b types.GeneratedArtifact) int {
		return strings.Compare(a.Path, b.Path)
	})
	for i := 1; i < len(out); i++ {
		if out[i].Path == out[i-1].Path {
			return nil, fmt.Errorf("duplicate artifact path %s", out[i].Path)
		}
	}
	return out, nil
}

// FilterByType keeps the artifacts whose type is in want. An empty want
// keeps everything.
func FilterByType(artifacts []types.GeneratedArtifact, want ...types.ArtifactType) []types.GeneratedArtifact {
	out := make([]types.GeneratedArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		if len(want) == 0 || slices.Contains(want, a.Type) {
			out = append(out, a)
		}
	}
	return out
}

// Summaries returns the artifacts without content.
func Summaries(artifacts []types.GeneratedArtifact) []types.GeneratedArtifact {
	out := make([]types.GeneratedArtifact, len(artifacts))
	for i, a := range artifacts {
		a.Content = ""
		out[i] = a
	}
	return out
}
