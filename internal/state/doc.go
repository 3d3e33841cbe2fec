// Package state provides filesystem-backed storage implementations.
//
// Layout under the data directory:
//
//	sessions/sessions.json          session index
//	sessions/<sessionID>/events.jsonl
//	patterns/<sessionID>.json       latest recognition output
//	models/<modelID>.json
package state

import "github.com/user/appforge/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.EventStore = (*EventStore)(nil)
var _ types.PatternStore = (*PatternStore)(nil)
var _ types.ModelStore = (*ModelStore)(nil)
