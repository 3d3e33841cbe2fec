package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

// PatternStore keeps each session's recognized patterns in
// patterns/<sessionID>.json, replaced wholesale on every recognition run.
type PatternStore struct {
	root string
	mu   sync.RWMutex
}

// NewPatternStore creates a new file-backed PatternStore rooted at the given directory.
func NewPatternStore(root string) *PatternStore {
	return &PatternStore{root: root}
}

func (p *PatternStore) dir() string {
	return filepath.Join(p.root, "patterns")
}

func (p *PatternStore) sessionPath(sessionID types.SessionID) string {
	return filepath.Join(p.dir(), string(sessionID)+".json")
}

func (p *PatternStore) readFile(path string) ([]*types.RecognizedPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read patterns file: %w", err)
	}
	var patterns []*types.RecognizedPattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("unmarshal patterns: %w", err)
	}
	return patterns, nil
}

// ReplaceForSession overwrites the stored pattern set of a session.
func (p *PatternStore) ReplaceForSession(_ context.Context, sessionID types.SessionID, patterns []*types.RecognizedPattern) error {
	if !validSegment(string(sessionID)) {
		return apperr.Invalid("INVALID_SESSION_ID", "invalid session id %q", sessionID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if patterns == nil {
		patterns = []*types.RecognizedPattern{}
	}
	data, err := json.MarshalIndent(patterns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}
	return writeAtomic(p.sessionPath(sessionID), data)
}

// ListBySession returns the stored patterns of a session.
func (p *PatternStore) ListBySession(_ context.Context, sessionID types.SessionID) ([]*types.RecognizedPattern, error) {
	if !validSegment(string(sessionID)) {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.readFile(p.sessionPath(sessionID))
}

// GetMany returns the patterns with the given ids, in the order requested.
// Any unknown id fails the whole call.
func (p *PatternStore) GetMany(_ context.Context, ids []types.PatternID) ([]*types.RecognizedPattern, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	want := make(map[types.PatternID]*types.RecognizedPattern, len(ids))
	for _, id := range ids {
		want[id] = nil
	}

	entries, err := os.ReadDir(p.dir())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read patterns dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		patterns, err := p.readFile(filepath.Join(p.dir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, pat := range patterns {
			if _, ok := want[pat.ID]; ok {
				want[pat.ID] = pat
			}
		}
	}

	out := make([]*types.RecognizedPattern, 0, len(ids))
	for _, id := range ids {
		pat := want[id]
		if pat == nil {
			return nil, apperr.Missing("pattern", string(id))
		}
		out = append(out, pat)
	}
	return out, nil
}
