package codegen

import (
	"slices"
	"strings"

	"github.com/user/appforge/internal/types"
)

// view is the data every template renders against. Exactly one of Entity,
// Screen and Workflow is set for per-item templates; the index sees the
// lists.
type view struct {
	Model     modelMeta
	Entity    *entityView
	Screen    *screenView
	Workflow  *workflowView
	Entities  []*entityView
	Screens   []*screenView
	Workflows []*workflowView

	// Widgets is every stock widget the screens reference, sorted.
	Widgets []string
}

type modelMeta struct {
	Name    string
	Version string
}

type entityView struct {
	names
	Name         string
	PluralPascal string
	Route        string
	Fields       []names
	Create       bool
	Read         bool
	Update       bool
	Delete       bool
}

func (e *entityView) HasOps() bool {
	return e.Create || e.Read || e.Update || e.Delete
}

type screenView struct {
	names
	Path string
	// Route is Path as a chi pattern; empty when an earlier screen already
	// claimed the same pattern.
	Route      string
	Component  string
	File       string
	Components []componentView
	Widgets    []string
	Actions    []string
}

type componentView struct {
	Name   string
	Widget string
	Class  string
}

type workflowView struct {
	names
	ID         string
	Name       string
	Steps      []string
	DurationMs int64
}

// widgetRules maps component name words to the stock widgets a profile
// ships. Anything unmatched becomes an inert Placeholder.
var widgetRules = []struct {
	widget string
	words  []string
}{
	{"DataTable", []string{"table", "list", "grid", "rows"}},
	{"SearchBox", []string{"search", "query"}},
	{"FilterBar", []string{"filter", "filters"}},
	{"Form", []string{"form"}},
	{"Button", []string{"button", "btn", "cta"}},
}

const placeholderWidget = "Placeholder"

func widgetFor(component string) string {
	words := splitWords(component)
	for _, rule := range widgetRules {
		for _, w := range words {
			if slices.Contains(rule.words, w) {
				return rule.widget
			}
		}
	}
	return placeholderWidget
}

func newView(m *types.ApplicationModel) *view {
	v := &view{Model: modelMeta{Name: m.Name, Version: m.Version}}

	entities := namer{}
	for _, e := range m.Entities {
		words := splitWords(e.Name)
		ev := &entityView{
			names:  entities.claim(words),
			Name:   e.Name,
			Create: e.Has(types.OpCreate),
			Read:   e.Has(types.OpRead),
			Update: e.Has(types.OpUpdate),
			Delete: e.Has(types.OpDelete),
		}
		pl := makeNames(pluralWords(words), strings.TrimPrefix(ev.Snake, makeNames(words, "").Snake))
		ev.PluralPascal = pl.Pascal
		ev.Route = pl.Kebab
		fields := namer{"id": true}
		for _, f := range e.Fields {
			fw := splitWords(f)
			if len(fw) == 0 || strings.Join(fw, "_") == "id" {
				continue
			}
			ev.Fields = append(ev.Fields, fields.claim(fw))
		}
		v.Entities = append(v.Entities, ev)
	}

	screens := namer{}
	routes := map[string]bool{}
	used := map[string]bool{}
	for _, s := range m.Screens {
		sv := &screenView{
			names:   screens.claim(screenWords(s.Path)),
			Path:    s.Path,
			Actions: s.Actions,
		}
		if route := chiRoute(s.Path); !routes[route] {
			routes[route] = true
			sv.Route = route
		}
		sv.Component = sv.Pascal + "Page"
		sv.File = sv.Kebab + ".html"
		widgets := map[string]bool{}
		for _, c := range s.Components {
			w := widgetFor(c)
			widgets[w] = true
			used[w] = true
			sv.Components = append(sv.Components, componentView{
				Name:   c,
				Widget: w,
				Class:  makeNames(splitWords(w), "").Kebab,
			})
		}
		for w := range widgets {
			sv.Widgets = append(sv.Widgets, w)
		}
		slices.Sort(sv.Widgets)
		v.Screens = append(v.Screens, sv)
	}
	for w := range used {
		v.Widgets = append(v.Widgets, w)
	}
	slices.Sort(v.Widgets)

	workflows := namer{}
	for _, w := range m.Workflows {
		v.Workflows = append(v.Workflows, &workflowView{
			names:      workflows.claim(splitWords(w.Name)),
			ID:         w.ID,
			Name:       w.Name,
			Steps:      w.Steps,
			DurationMs: w.DurationMs,
		})
	}
	return v
}

// chiRoute turns a recorded screen path into a chi pattern: a leading
// slash, ":name" and "{name}" segments as URL parameters with unique
// identifier names, other braces and wildcards dropped, and no query or
// fragment.
func chiRoute(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	params := namer{}
	var segs []string
	for _, seg := range strings.Split(path, "/") {
		name, isParam := strings.CutPrefix(seg, ":")
		if !isParam && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name, isParam = seg[1:len(seg)-1], true
		}
		if isParam {
			if i := strings.IndexByte(name, ':'); i >= 0 {
				name = name[:i]
			}
			segs = append(segs, "{"+params.claim(splitWords(name)).Camel+"}")
			continue
		}
		seg = strings.NewReplacer("{", "", "}", "", "*", "").Replace(seg)
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return "/" + strings.Join(segs, "/")
}

func (v *view) withWidgets() *view {
	return &view{Model: v.Model, Widgets: v.Widgets}
}

func (v *view) withEntity(e *entityView) *view {
	return &view{Model: v.Model, Entity: e}
}

func (v *view) withScreen(s *screenView) *view {
	return &view{Model: v.Model, Screen: s}
}

func (v *view) withWorkflow(w *workflowView) *view {
	return &view{Model: v.Model, Workflow: w}
}
