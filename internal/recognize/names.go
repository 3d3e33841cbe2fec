package recognize

import (
	"strings"
	"unicode"

	"github.com/user/appforge/internal/types"
)

// tokens splits a label into lowercase words at separators, camelCase
// humps and letter/digit boundaries: "deleteBtn" -> [delete btn],
// "New Order" -> [new order], "HTMLTable2" -> [html table 2].
func tokens(s string) []string {
	runes := []rune(s)
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			case unicode.IsDigit(r) != unicode.IsDigit(prev):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

type wordSet map[string]bool

func words(ws ...string) wordSet {
	set := make(wordSet, len(ws))
	for _, w := range ws {
		set[w] = true
	}
	return set
}

func (s wordSet) any(toks []string) bool {
	for _, t := range toks {
		if s[t] {
			return true
		}
	}
	return false
}

func (s wordSet) leading(toks []string) bool {
	return len(toks) > 0 && s[toks[0]]
}

// compound matches multi-word keywords such as "sign in" or "access
// denied" that tokens splits apart.
func (s wordSet) compound(toks []string) bool {
	for i := 0; i+1 < len(toks); i++ {
		if s[toks[i]+toks[i+1]] {
			return true
		}
	}
	return false
}

var (
	listWords     = words("list", "table", "grid", "row", "rows", "item", "items")
	detailWords   = words("detail", "details", "selected", "selection", "all")
	filterWords   = words("filter", "filters", "facet", "facets")
	sortWords     = words("sort", "sorting", "sorted")
	searchWords   = words("search", "query", "find", "lookup")
	exportWords   = words("export", "download")
	importWords   = words("import", "upload")
	relationWords = words("link", "unlink", "attach", "detach", "assign", "unassign", "associate", "dissociate")
	selectWords   = words("select", "selected", "check", "checkbox", "tick")
	authWords     = words("login", "logout", "signin", "signout", "signup", "register", "authenticate", "auth")
	authzWords    = words("permission", "permissions", "forbidden", "unauthorized", "denied", "accessdenied")
	startWords    = words("start", "open", "focus", "begin", "init")
	submitWords   = words("submit", "send", "save", "finish", "done")
	noiseWords    = words("btn", "button", "link", "icon", "menu", "cta", "the", "a", "an", "form", "page", "modal", "dialog", "panel", "card", "section", "tab", "box", "bar", "container", "widget", "detail", "details", "selected", "selection", "all")
)

// labelOperation reads a CRUD naming convention off a label and returns the
// operation plus the entity words that follow or precede the verb.
func labelOperation(label string) (types.Operation, string, bool) {
	toks := tokens(label)
	for i, t := range toks {
		op, ok := types.ParseOperation(t)
		if !ok {
			continue
		}
		rest := make([]string, 0, len(toks)-1)
		rest = append(rest, toks[:i]...)
		rest = append(rest, toks[i+1:]...)
		return op, entityFromWords(rest), true
	}
	return "", "", false
}

// actionOperation reports the CRUD operation an explicit action tag names,
// either whole ("crud_delete", "edit") or as its leading word ("create_order").
func actionOperation(action string) (types.Operation, bool) {
	if action == "" {
		return "", false
	}
	if op, ok := types.ParseOperation(action); ok {
		return op, true
	}
	toks := tokens(action)
	if len(toks) == 0 {
		return "", false
	}
	return types.ParseOperation(toks[0])
}

func entityFromWords(toks []string) string {
	var kept []string
	for _, t := range toks {
		if noiseWords[t] || unicode.IsDigit(rune(t[0])) {
			continue
		}
		if _, verb := types.ParseOperation(t); verb {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return ""
	}
	kept[len(kept)-1] = singular(kept[len(kept)-1])
	return strings.Join(kept, "_")
}

// singular strips common English plural endings.
func singular(w string) string {
	switch {
	case len(w) > 3 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "xes"),
		strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"):
		return w[:len(w)-2]
	case len(w) > 1 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us"):
		return w[:len(w)-1]
	}
	return w
}

// formEntity strips a trailing "form" word: "orderForm" -> "order".
func formEntity(form string) string {
	toks := tokens(form)
	if len(toks) > 1 && toks[len(toks)-1] == "form" {
		toks = toks[:len(toks)-1]
	}
	return entityFromWords(toks)
}

// pathSegments splits a screen path, dropping empty segments and any query.
func pathSegments(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// isIDSegment recognizes record identifiers in paths: numbers, uuids,
// long hex strings and route placeholders such as ":id" or "{id}".
func isIDSegment(seg string) bool {
	if strings.HasPrefix(seg, ":") || (strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")) {
		return true
	}
	digits, hex := true, len(seg) >= 8
	for _, r := range seg {
		if !unicode.IsDigit(r) {
			digits = false
		}
		if !unicode.Is(unicode.ASCII_Hex_Digit, r) && r != '-' {
			hex = false
		}
	}
	return digits || hex
}

// idPath reports whether the path addresses one record and returns the
// entity named by the collection segment before the id.
func idPath(path string) (string, bool) {
	segs := pathSegments(path)
	for i := len(segs) - 1; i > 0; i-- {
		if isIDSegment(segs[i]) {
			return entityFromWords(tokens(segs[i-1])), true
		}
	}
	return "", false
}

// screenEntity names the entity of a screen from its last non-id segment.
func screenEntity(path string) string {
	segs := pathSegments(path)
	for i := len(segs) - 1; i >= 0; i-- {
		if isIDSegment(segs[i]) {
			continue
		}
		if e := entityFromWords(tokens(segs[i])); e != "" {
			return e
		}
	}
	return ""
}

// inferEntity applies the entity rules in order: an explicit entity tag,
// then the form name, then the screen path.
func inferEntity(md types.EventMetadata) string {
	if md.Entity != "" {
		return entityFromWords(tokens(md.Entity))
	}
	if md.Form != "" {
		if e := formEntity(md.Form); e != "" {
			return e
		}
	}
	return screenEntity(md.Screen)
}

// labelOf is the visible name of the element an event touched.
func labelOf(md types.EventMetadata) string {
	if md.Element != "" {
		return md.Element
	}
	return md.Component
}

// uiTokens are the naming words of an event's element and component.
func uiTokens(md types.EventMetadata) []string {
	toks := tokens(md.Element)
	toks = append(toks, tokens(md.Component)...)
	return toks
}
