package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

// EventStore is a JSONL-backed append-only event store.
// Events are stored per-session in sessions/<sessionID>/events.jsonl.
type EventStore struct {
	root  string
	locks KeyedLocks[types.SessionID]
}

// NewEventStore creates a new file-backed EventStore rooted at the given directory.
func NewEventStore(root string) *EventStore {
	return &EventStore{root: root}
}

func (e *EventStore) eventsPath(sessionID types.SessionID) string {
	return filepath.Join(e.root, "sessions", string(sessionID), "events.jsonl")
}

// read loads every stored event in file order. Caller must hold the session lock.
func (e *EventStore) read(sessionID types.SessionID) ([]*types.Event, error) {
	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}
	return events, nil
}

// Append stores events not yet present for the session, assigning each a
// sequence number after the highest stored one.
func (e *EventStore) Append(_ context.Context, sessionID types.SessionID, events []*types.Event) ([]*types.Event, error) {
	if !validSegment(string(sessionID)) {
		return nil, apperr.Invalid("INVALID_SESSION_ID", "invalid session id %q", sessionID)
	}
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	existing, err := e.read(sessionID)
	if err != nil {
		return nil, err
	}
	seen := make(map[types.EventID]bool, len(existing)+len(events))
	var seq int64
	for _, ev := range existing {
		seen[ev.ID] = true
		seq = max(seq, ev.Seq)
	}

	var appended []*types.Event
	var buf []byte
	for _, ev := range events {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		seq++
		stored := *ev
		stored.SessionID = sessionID
		stored.Seq = seq

		data, err := json.Marshal(&stored)
		if err != nil {
			return nil, fmt.Errorf("marshal event: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
		appended = append(appended, &stored)
	}
	if len(appended) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(e.eventsPath(sessionID)), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	f, err := os.OpenFile(e.eventsPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write events: %w", err)
	}
	return appended, nil
}

// List returns all events of the session in stored order.
func (e *EventStore) List(_ context.Context, sessionID types.SessionID) ([]*types.Event, error) {
	if !validSegment(string(sessionID)) {
		return nil, nil
	}
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	events, err := e.read(sessionID)
	if err != nil {
		return nil, err
	}
	types.SortEvents(events)
	return events, nil
}

// Tail returns the last N events for the given session in stored order.
func (e *EventStore) Tail(ctx context.Context, sessionID types.SessionID, limit int) ([]*types.Event, error) {
	events, err := e.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Count returns the number of events for the given session.
func (e *EventStore) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	if !validSegment(string(sessionID)) {
		return 0, nil
	}
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return count, nil
}

// DeleteSession removes the session's event log.
func (e *EventStore) DeleteSession(_ context.Context, sessionID types.SessionID) error {
	if !validSegment(string(sessionID)) {
		return apperr.Invalid("INVALID_SESSION_ID", "invalid session id %q", sessionID)
	}
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	if err := os.RemoveAll(filepath.Dir(e.eventsPath(sessionID))); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}
