package recognize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/appforge/internal/types"
)

// candidate is a detector finding before scoring and overlap resolution.
// idx indexes the ordered event slice of the detection.
type candidate struct {
	typ        types.PatternType
	idx        []int
	sig        signals
	md         types.PatternMetadata
	confidence float64
}

type detection struct {
	events []*types.Event
	policy *ScoringPolicy
	gap    int64
}

type detector func(d *detection) []candidate

var detectors = []detector{
	explicitCRUD,
	heuristicCRUD,
	navigation,
	formSubmission,
	listView,
	detailView,
	batchOperation,
	workflowSteps,
	keywordDetector(filterRule),
	keywordDetector(sortRule),
	keywordDetector(searchRule),
	keywordDetector(exportRule),
	keywordDetector(importRule),
	keywordDetector(relationRule),
	keywordDetector(authRule),
	keywordDetector(authzRule),
}

// Detect runs every detector over a session's events and returns the
// scored patterns that survive the cutoff and same-type overlap rules,
// sorted by (startTime, type, id). It reads no clock, so the same events
// and policy always produce the same patterns.
func Detect(sessionID types.SessionID, events []*types.Event, policy *ScoringPolicy) []*types.RecognizedPattern {
	out := []*types.RecognizedPattern{}
	if len(events) < 2 {
		return out
	}
	ordered := append([]*types.Event(nil), events...)
	types.SortEvents(ordered)
	d := &detection{events: ordered, policy: policy, gap: policy.gapMs()}

	var kept []candidate
	for _, detect := range detectors {
		for _, c := range detect(d) {
			if len(c.idx) == 0 {
				continue
			}
			c.idx = uniqueInts(c.idx)
			c.confidence = policy.score(c.typ, c.sig)
			if c.confidence < policy.Cutoff {
				continue
			}
			kept = append(kept, c)
		}
	}

	for _, c := range resolveOverlaps(kept) {
		out = append(out, d.pattern(sessionID, c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// resolveOverlaps keeps, among same-type candidates sharing events, the
// one with more events, then the earlier start, then the lower first seq.
// Events are ordered by (timestamp, seq), so the lowest index decides both
// tie-breaks at once.
func resolveOverlaps(cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.typ != b.typ {
			return a.typ < b.typ
		}
		if len(a.idx) != len(b.idx) {
			return len(a.idx) > len(b.idx)
		}
		for k := range a.idx {
			if a.idx[k] != b.idx[k] {
				return a.idx[k] < b.idx[k]
			}
		}
		return a.confidence > b.confidence
	})

	used := make(map[types.PatternType]map[int]bool)
	var out []candidate
	for _, c := range cands {
		taken := used[c.typ]
		if taken == nil {
			taken = make(map[int]bool)
			used[c.typ] = taken
		}
		overlaps := false
		for _, i := range c.idx {
			if taken[i] {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		for _, i := range c.idx {
			taken[i] = true
		}
		out = append(out, c)
	}
	return out
}

func (d *detection) pattern(sessionID types.SessionID, c candidate) *types.RecognizedPattern {
	ids := make([]types.EventID, len(c.idx))
	for k, i := range c.idx {
		ids[k] = d.events[i].ID
	}
	md := c.md
	md.Fields = sortedSet(md.Fields)
	md.Components = sortedSet(md.Components)
	md.PolicyVersion = d.policy.Ref()
	if md.Description == "" {
		md.Description = describe(c.typ, md)
	}
	return &types.RecognizedPattern{
		ID:         types.NewPatternID(sessionID, c.typ, ids),
		SessionID:  sessionID,
		Type:       c.typ,
		Confidence: c.confidence,
		EventIDs:   ids,
		StartTime:  d.events[c.idx[0]].Timestamp,
		EndTime:    d.events[c.idx[len(c.idx)-1]].Timestamp,
		Metadata:   md,
	}
}

// gapsIn counts consecutive members of idx further apart than the threshold.
func (d *detection) gapsIn(idx []int) int {
	n := 0
	for k := 1; k < len(idx); k++ {
		if d.events[idx[k]].Timestamp-d.events[idx[k-1]].Timestamp > d.gap {
			n++
		}
	}
	return n
}

// engagement follows a navigation event with the interactions on the same
// screen, each within the gap of the one before, stopping at the next
// navigation or once the user is seen on another screen.
func (d *detection) engagement(nav int) []int {
	screen := d.events[nav].Metadata.Screen
	idx := []int{nav}
	prev := d.events[nav].Timestamp
	for j := nav + 1; j < len(d.events); j++ {
		ev := d.events[j]
		if ev.Type == types.EventNavigation || ev.Timestamp-prev > d.gap {
			break
		}
		if ev.Metadata.Screen != "" && ev.Metadata.Screen != screen {
			break
		}
		if ev.Type == types.EventInteraction {
			idx = append(idx, j)
			prev = ev.Timestamp
		}
	}
	return idx
}

// segment is a run of events on one screen between two navigations.
type segment struct {
	screen string
	idx    []int
}

// segments groups the events keep accepts by screen within each stretch
// between navigations; events without a screen inherit the last navigated one.
func (d *detection) segments(keep func(*types.Event) bool) []segment {
	var out []segment
	pos := make(map[string]int)
	stretch, navScreen := 0, ""
	for i, ev := range d.events {
		if ev.Type == types.EventNavigation {
			stretch++
			navScreen = ev.Metadata.Screen
			continue
		}
		if !keep(ev) {
			continue
		}
		screen := ev.Metadata.Screen
		if screen == "" {
			screen = navScreen
		}
		key := fmt.Sprintf("%d\x00%s", stretch, screen)
		k, ok := pos[key]
		if !ok {
			k = len(out)
			pos[key] = k
			out = append(out, segment{screen: screen})
		}
		out[k].idx = append(out[k].idx, i)
	}
	return out
}

func (d *detection) components(idx []int) []string {
	var out []string
	for _, i := range idx {
		if c := labelOf(d.events[i].Metadata); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (d *detection) fields(idx []int) []string {
	var out []string
	for _, i := range idx {
		out = append(out, d.events[i].Metadata.Fields...)
	}
	return out
}

// entity returns the first entity any of the events names, preferring
// explicit tags over names inferred from forms and screens.
func (d *detection) entity(idx []int) string {
	for _, i := range idx {
		if md := d.events[i].Metadata; md.Entity != "" {
			return inferEntity(md)
		}
	}
	for _, i := range idx {
		if e := inferEntity(d.events[i].Metadata); e != "" {
			return e
		}
	}
	return ""
}

// crudOp reports the operation an event performs and whether an explicit
// action tag named it rather than the event's label.
func crudOp(ev *types.Event) (types.Operation, bool, bool) {
	if op, ok := actionOperation(ev.Metadata.Action); ok {
		return op, true, true
	}
	if op, _, ok := labelOperation(labelOf(ev.Metadata)); ok {
		return op, false, true
	}
	return "", false, false
}

func explicitCRUD(d *detection) []candidate {
	var out []candidate
	for i, ev := range d.events {
		if ev.Type == types.EventError || ev.Type == types.EventSystem {
			continue
		}
		op, ok := actionOperation(ev.Metadata.Action)
		if !ok {
			continue
		}
		labelOp, hint, named := labelOperation(labelOf(ev.Metadata))
		entity := inferEntity(ev.Metadata)
		if ev.Metadata.Entity == "" && hint != "" {
			entity = hint
		}
		out = append(out, candidate{
			typ: types.CRUDPattern(op),
			idx: []int{i},
			sig: signals{semantic: true, naming: named && labelOp == op},
			md: types.PatternMetadata{
				Entity:     entity,
				Screen:     ev.Metadata.Screen,
				Fields:     ev.Metadata.Fields,
				Components: d.components([]int{i}),
				Operation:  op,
			},
		})
	}
	return out
}

func heuristicCRUD(d *detection) []candidate {
	var out []candidate
	for i, ev := range d.events {
		if ev.Type != types.EventInteraction {
			continue
		}
		if _, explicit := actionOperation(ev.Metadata.Action); explicit {
			continue
		}
		op, hint, ok := labelOperation(labelOf(ev.Metadata))
		if !ok {
			continue
		}
		c := candidate{
			typ: types.CRUDPattern(op),
			idx: []int{i},
			sig: signals{naming: true},
			md: types.PatternMetadata{
				Screen:     ev.Metadata.Screen,
				Components: d.components([]int{i}),
				Operation:  op,
			},
		}
		if op == types.OpCreate || op == types.OpUpdate {
			if form := d.pairedSubmit(i); len(form) > 0 {
				c.idx = append(c.idx, form...)
				c.sig.engaged = len(form)
				c.md.Fields = append(d.fields(form), d.fieldNames(form)...)
			}
		}
		switch {
		case ev.Metadata.Entity != "":
			c.md.Entity = inferEntity(ev.Metadata)
		case hint != "":
			c.md.Entity = hint
		default:
			c.md.Entity = d.entity(c.idx)
		}
		out = append(out, c)
	}
	return out
}

// pairedSubmit finds the form submit that completes the create or update
// started at trigger, returning that form's events up to the submit. Each
// event must follow the previous within the gap, and a new CRUD trigger
// ends the search.
func (d *detection) pairedSubmit(trigger int) []int {
	prev := d.events[trigger].Timestamp
	for j := trigger + 1; j < len(d.events); j++ {
		ev := d.events[j]
		if ev.Timestamp-prev > d.gap {
			return nil
		}
		prev = ev.Timestamp
		if ev.Type == types.EventInteraction {
			if _, _, ok := crudOp(ev); ok {
				return nil
			}
		}
		if !isSubmit(ev) {
			continue
		}
		key := formKey(ev.Metadata)
		var idx []int
		for k := trigger + 1; k <= j; k++ {
			if d.events[k].Type == types.EventForm && formKey(d.events[k].Metadata) == key {
				idx = append(idx, k)
			}
		}
		return idx
	}
	return nil
}

func formKey(md types.EventMetadata) string {
	switch {
	case md.Form != "":
		return md.Form
	case md.Component != "":
		return md.Component
	}
	return md.Screen
}

func isSubmit(ev *types.Event) bool {
	return ev.Type == types.EventForm && submitWords.any(tokens(ev.Metadata.Action))
}

func isFormStart(ev *types.Event) bool {
	toks := tokens(ev.Metadata.Action)
	return ev.Type == types.EventForm && startWords.any(toks) && !submitWords.any(toks)
}

// fieldNames lists the elements touched by field changes among idx.
func (d *detection) fieldNames(idx []int) []string {
	var out []string
	for _, i := range idx {
		ev := d.events[i]
		if ev.Type != types.EventForm || isSubmit(ev) || isFormStart(ev) {
			continue
		}
		if ev.Metadata.Element != "" {
			out = append(out, ev.Metadata.Element)
		}
	}
	return out
}

func navigation(d *detection) []candidate {
	var out []candidate
	for i, ev := range d.events {
		if ev.Type != types.EventNavigation {
			continue
		}
		idx := d.engagement(i)
		out = append(out, candidate{
			typ: types.PatternNavigation,
			idx: idx,
			sig: signals{engaged: len(idx) - 1},
			md: types.PatternMetadata{
				Entity:     d.entity(idx[:1]),
				Screen:     ev.Metadata.Screen,
				Components: d.components(idx[1:]),
			},
		})
	}
	return out
}

// formSubmission tracks one open run per form: a start event opens it,
// field changes extend it, a submit completes it. Runs never submitted are
// dropped; a second start discards the unsubmitted run before it.
func formSubmission(d *detection) []candidate {
	type run struct {
		idx     []int
		started bool
	}
	var out []candidate
	open := make(map[string]*run)
	for i, ev := range d.events {
		if ev.Type != types.EventForm {
			continue
		}
		key := formKey(ev.Metadata)
		switch {
		case isFormStart(ev):
			open[key] = &run{idx: []int{i}, started: true}
		case isSubmit(ev):
			r := open[key]
			if r == nil {
				r = &run{}
			}
			delete(open, key)
			r.idx = append(r.idx, i)
			changes := len(r.idx) - 1
			if r.started {
				changes--
			}
			c := candidate{
				typ: types.PatternFormSubmission,
				idx: r.idx,
				sig: signals{semantic: r.started, engaged: changes, gaps: d.gapsIn(r.idx)},
				md: types.PatternMetadata{
					Entity: d.entity(r.idx),
					Screen: ev.Metadata.Screen,
					Fields: append(d.fields(r.idx), d.fieldNames(r.idx)...),
				},
			}
			if ev.Metadata.Form != "" {
				c.md.Components = []string{ev.Metadata.Form}
			}
			out = append(out, c)
		default:
			r := open[key]
			if r == nil {
				r = &run{}
				open[key] = r
			}
			r.idx = append(r.idx, i)
		}
	}
	return out
}

func listView(d *detection) []candidate {
	var out []candidate
	segs := d.segments(func(ev *types.Event) bool {
		return ev.Type == types.EventInteraction && listWords.any(uiTokens(ev.Metadata))
	})
	for _, seg := range segs {
		if len(seg.idx) < d.policy.ListMinInteractions {
			continue
		}
		entity := d.entity(seg.idx)
		if entity == "" {
			entity = screenEntity(seg.screen)
		}
		out = append(out, candidate{
			typ: types.PatternListView,
			idx: seg.idx,
			sig: signals{
				naming:  true,
				engaged: len(seg.idx) - d.policy.ListMinInteractions,
				gaps:    d.gapsIn(seg.idx),
			},
			md: types.PatternMetadata{
				Entity:     entity,
				Screen:     seg.screen,
				Components: d.components(seg.idx),
				Operation:  types.OpRead,
			},
		})
	}
	return out
}

func detailView(d *detection) []candidate {
	var out []candidate
	for i, ev := range d.events {
		md := ev.Metadata
		if ev.Type == types.EventNavigation {
			pathEntity, ok := idPath(md.Screen)
			if !ok {
				continue
			}
			idx := d.engagement(i)
			entity := pathEntity
			if md.Entity != "" {
				entity = inferEntity(md)
			}
			out = append(out, candidate{
				typ: types.PatternDetailView,
				idx: idx,
				sig: signals{naming: true, engaged: len(idx) - 1},
				md: types.PatternMetadata{
					Entity:     entity,
					Screen:     md.Screen,
					Components: d.components(idx[1:]),
					Operation:  types.OpRead,
				},
			})
			continue
		}
		if ev.Type != types.EventInteraction && ev.Type != types.EventStateChange {
			continue
		}
		if !detailWords.any(uiTokens(md)) {
			continue
		}
		entity := entityFromWords(tokens(labelOf(md)))
		if md.Entity != "" || entity == "" {
			entity = inferEntity(md)
		}
		out = append(out, candidate{
			typ: types.PatternDetailView,
			idx: []int{i},
			sig: signals{naming: true},
			md: types.PatternMetadata{
				Entity:     entity,
				Screen:     md.Screen,
				Components: d.components([]int{i}),
				Operation:  types.OpRead,
			},
		})
	}
	return out
}

// batchOperation finds selections followed by one CRUD action on the same
// screen. A CRUD action with too few selections before it resets the count.
func batchOperation(d *detection) []candidate {
	var out []candidate
	segs := d.segments(func(ev *types.Event) bool {
		return ev.Type == types.EventInteraction || ev.Type == types.EventStateChange
	})
	for _, seg := range segs {
		var selects []int
		for _, i := range seg.idx {
			ev := d.events[i]
			if op, explicit, ok := crudOp(ev); ok {
				n := len(selects)
				if n >= d.policy.BatchMinSelections && ev.Timestamp-d.events[selects[n-1]].Timestamp <= d.gap {
					idx := append(append([]int(nil), selects...), i)
					entity := d.entity(idx)
					if entity == "" {
						entity = screenEntity(seg.screen)
					}
					out = append(out, candidate{
						typ: types.PatternBatchOperation,
						idx: idx,
						sig: signals{
							semantic: explicit,
							naming:   !explicit,
							engaged:  len(selects) - d.policy.BatchMinSelections,
							gaps:     d.gapsIn(selects),
						},
						md: types.PatternMetadata{
							Entity:     entity,
							Screen:     seg.screen,
							Components: d.components(idx),
							Operation:  op,
						},
					})
				}
				selects = nil
				continue
			}
			if selectWords.any(tokens(ev.Metadata.Action)) || selectWords.any(uiTokens(ev.Metadata)) {
				selects = append(selects, i)
			}
		}
	}
	return out
}

// workflowSteps groups workflow events by workflow name into one run per
// name, keeping steps in recorded order and collapsing immediate repeats.
func workflowSteps(d *detection) []candidate {
	var names []string
	runs := make(map[string][]int)
	for i, ev := range d.events {
		name := ev.Metadata.Workflow
		if ev.Type != types.EventWorkflow || name == "" {
			continue
		}
		if _, ok := runs[name]; !ok {
			names = append(names, name)
		}
		runs[name] = append(runs[name], i)
	}

	var out []candidate
	for _, name := range names {
		idx := runs[name]
		var steps []string
		for _, i := range idx {
			step := d.events[i].Metadata.Step
			if step == "" {
				step = d.events[i].Metadata.Action
			}
			if step == "" || (len(steps) > 0 && steps[len(steps)-1] == step) {
				continue
			}
			steps = append(steps, step)
		}
		out = append(out, candidate{
			typ: types.PatternWorkflowStep,
			idx: idx,
			sig: signals{semantic: true, engaged: len(idx) - 1, gaps: d.gapsIn(idx)},
			md: types.PatternMetadata{
				Entity:   d.entity(idx),
				Screen:   d.events[idx[0]].Metadata.Screen,
				Workflow: name,
				Steps:    steps,
			},
		})
	}
	return out
}

func describe(t types.PatternType, md types.PatternMetadata) string {
	subject := md.Entity
	if subject == "" {
		subject = md.Screen
	}
	switch t {
	case types.PatternCRUDCreate, types.PatternCRUDRead, types.PatternCRUDUpdate, types.PatternCRUDDelete:
		return strings.TrimSpace(string(md.Operation) + " " + subject)
	case types.PatternNavigation:
		return "navigate to " + md.Screen
	case types.PatternFormSubmission:
		if len(md.Components) > 0 {
			return "submit " + md.Components[0]
		}
		return "submit form on " + md.Screen
	case types.PatternWorkflowStep:
		return fmt.Sprintf("workflow %s (%d steps)", md.Workflow, len(md.Steps))
	}
	desc := strings.ReplaceAll(string(t), "_", " ")
	if subject != "" {
		desc += " " + subject
	}
	return desc
}

func uniqueInts(in []int) []int {
	sort.Ints(in)
	out := in[:0]
	for _, v := range in {
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func sortedSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
