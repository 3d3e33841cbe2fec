package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

type SessionID string
type EventID string
type PatternID string
type ModelID string

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewModelID() ModelID {
	return ModelID(uuid.New().String())
}

// NewPatternID derives a pattern id from its content, so recognizing the same
// stored events twice yields the same ids.
func NewPatternID(sessionID SessionID, patternType PatternType, eventIDs []EventID) PatternID {
	parts := make([]string, 0, len(eventIDs)+2)
	parts = append(parts, string(sessionID), string(patternType))
	for _, id := range eventIDs {
		parts = append(parts, string(id))
	}
	return PatternID("pat_" + contentHash(parts...))
}

// NewWorkflowID derives a workflow id from the pattern it was built from.
func NewWorkflowID(source PatternID) string {
	return "wf_" + contentHash(string(source))
}

func contentHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:12])
}
