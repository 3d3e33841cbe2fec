package recognize

import (
	"slices"

	"github.com/user/appforge/internal/types"
)

// keywordRule detects a pattern from the words an event's action tag or
// labels carry. Matching events on one screen, each within the gap of the
// previous, merge into a single candidate.
type keywordRule struct {
	typ   types.PatternType
	words wordSet
	kinds []types.EventType
	// leading restricts label matches to the first label word, for verbs
	// such as "link" that also appear as nouns.
	leading bool
	// screens also matches screen path segments.
	screens bool
	// tagged reports additional explicit signals an event carries.
	tagged func(ev *types.Event) bool
}

var (
	userInput = []types.EventType{types.EventInteraction, types.EventStateChange}

	filterRule   = keywordRule{typ: types.PatternFilter, words: filterWords, kinds: userInput}
	sortRule     = keywordRule{typ: types.PatternSort, words: sortWords, kinds: userInput}
	searchRule   = keywordRule{typ: types.PatternSearch, words: searchWords, kinds: userInput}
	exportRule   = keywordRule{typ: types.PatternDataExport, words: exportWords, kinds: userInput}
	importRule   = keywordRule{typ: types.PatternDataImport, words: importWords, kinds: userInput}
	relationRule = keywordRule{typ: types.PatternRelationshipManagement, words: relationWords, kinds: userInput, leading: true}

	authRule = keywordRule{
		typ:     types.PatternAuthentication,
		words:   authWords,
		kinds:   []types.EventType{types.EventNavigation, types.EventInteraction, types.EventForm, types.EventStateChange},
		screens: true,
	}

	authzRule = keywordRule{
		typ:   types.PatternAuthorization,
		words: authzWords,
		kinds: []types.EventType{types.EventError, types.EventInteraction, types.EventNavigation, types.EventStateChange},
		tagged: func(ev *types.Event) bool {
			return ev.Type == types.EventError && (ev.Metadata.Status == 401 || ev.Metadata.Status == 403)
		},
	}
)

func (r keywordRule) match(ev *types.Event) (semantic, naming bool) {
	md := ev.Metadata
	action := tokens(md.Action)
	semantic = r.words.any(action) || r.words.compound(action)
	if r.tagged != nil && r.tagged(ev) {
		semantic = true
	}
	if r.leading {
		naming = r.words.leading(tokens(md.Element)) || r.words.leading(tokens(md.Component))
	} else {
		ui := uiTokens(md)
		naming = r.words.any(ui) || r.words.compound(ui)
	}
	if r.screens && !naming {
		for _, seg := range pathSegments(md.Screen) {
			toks := tokens(seg)
			if r.words.any(toks) || r.words.compound(toks) {
				naming = true
				break
			}
		}
	}
	return semantic, naming
}

func keywordDetector(r keywordRule) detector {
	return func(d *detection) []candidate {
		var out []candidate
		var cur *candidate
		var lastTs int64
		var lastScreen string
		flush := func() {
			if cur != nil {
				cur.md.Entity = d.entity(cur.idx)
				cur.md.Components = d.components(cur.idx)
				out = append(out, *cur)
				cur = nil
			}
		}
		for i, ev := range d.events {
			var semantic, naming bool
			if slices.Contains(r.kinds, ev.Type) {
				semantic, naming = r.match(ev)
			}
			if !semantic && !naming {
				if ev.Type == types.EventNavigation {
					flush()
				}
				continue
			}
			if cur != nil && (ev.Timestamp-lastTs > d.gap || ev.Metadata.Screen != lastScreen) {
				flush()
			}
			if cur == nil {
				cur = &candidate{typ: r.typ, md: types.PatternMetadata{Screen: ev.Metadata.Screen}}
			} else {
				cur.sig.engaged++
			}
			cur.idx = append(cur.idx, i)
			cur.sig.semantic = cur.sig.semantic || semantic
			cur.sig.naming = cur.sig.naming || naming
			lastTs, lastScreen = ev.Timestamp, ev.Metadata.Screen
		}
		flush()
		return out
	}
}
