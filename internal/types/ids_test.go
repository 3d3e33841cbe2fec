package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEventID(t *testing.T) {
	id := NewEventID()
	assert.Len(t, string(id), 36)
	assert.NotEqual(t, id, NewEventID())
}

func TestNewPatternIDIsContentDerived(t *testing.T) {
	events := []EventID{"e1", "e2"}
	a := NewPatternID("S1", PatternNavigation, events)
	b := NewPatternID("S1", PatternNavigation, []EventID{"e1", "e2"})

	assert.Equal(t, a, b)
	assert.Contains(t, string(a), "pat_")
	assert.NotEqual(t, a, NewPatternID("S1", PatternFormSubmission, events))
	assert.NotEqual(t, a, NewPatternID("S2", PatternNavigation, events))
	assert.NotEqual(t, a, NewPatternID("S1", PatternNavigation, []EventID{"e2", "e1"}))
}

func TestNewWorkflowID(t *testing.T) {
	assert.Equal(t, NewWorkflowID("pat_1"), NewWorkflowID("pat_1"))
	assert.NotEqual(t, NewWorkflowID("pat_1"), NewWorkflowID("pat_2"))
}
