package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/appforge/internal/types"
)

// RawEvent is an event as submitted by a capture client, before its
// metadata is folded into the canonical schema.
type RawEvent struct {
	ID        string               `json:"id" validate:"required,max=128"`
	SessionID string               `json:"sessionId" validate:"required,max=128,excludesall=/\\"`
	UserID    string               `json:"userId,omitempty" validate:"max=256"`
	Type      string               `json:"type" validate:"required,oneof=interaction navigation state_change form workflow error system"`
	Timestamp Millis               `json:"timestamp" validate:"gt=0"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
	Context   *types.ClientContext `json:"context,omitempty"`
}

// Millis is an epoch-milliseconds timestamp that also accepts RFC 3339
// strings and numeric strings on the wire.
type Millis int64

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*m = Millis(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q is neither epoch milliseconds nor RFC 3339", s)
		}
		*m = Millis(t.UnixMilli())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*m = Millis(int64(f))
	return nil
}

// canonical maps every accepted metadata key to its canonical field.
var canonical = map[string]string{
	"entity":          "entity",
	"entityName":      "entity",
	"entity_name":     "entity",
	"screen":          "screen",
	"path":            "screen",
	"route":           "screen",
	"page":            "screen",
	"action":          "action",
	"semanticAction":  "action",
	"semantic_action": "action",
	"element":         "element",
	"elementId":       "element",
	"element_id":      "element",
	"target":          "element",
	"label":           "element",
	"component":       "component",
	"componentName":   "component",
	"component_name":  "component",
	"form":            "form",
	"formName":        "form",
	"form_name":       "form",
	"fields":          "fields",
	"field":           "fields",
	"fieldName":       "fields",
	"durationMs":      "durationMs",
	"duration":        "durationMs",
	"duration_ms":     "durationMs",
	"timing":          "durationMs",
	"workflow":        "workflow",
	"workflowName":    "workflow",
	"workflow_name":   "workflow",
	"step":            "step",
	"stepName":        "step",
	"step_name":       "step",
	"status":          "status",
	"statusCode":      "status",
	"status_code":     "status",
}

// Normalize folds a raw metadata map into the canonical schema. When two
// synonyms of one field are present, the canonical spelling wins, then
// the lexically first synonym. Scalars under unknown keys land in Extra.
func Normalize(raw map[string]any) (types.EventMetadata, error) {
	var md types.EventMetadata

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := canonical[keys[i]] == keys[i], canonical[keys[j]] == keys[j]
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})

	set := make(map[string]bool)
	for _, key := range keys {
		value := raw[key]
		if value == nil {
			continue
		}
		field, known := canonical[key]
		if !known {
			if key == "extra" {
				if nested, ok := value.(map[string]any); ok {
					for k, v := range nested {
						addExtra(&md, k, v)
					}
					continue
				}
			}
			addExtra(&md, key, value)
			continue
		}
		if set[field] {
			continue
		}

		switch field {
		case "fields":
			fields, err := toStrings(value)
			if err != nil {
				return md, fmt.Errorf("metadata.%s: %w", key, err)
			}
			md.Fields = fields
		case "durationMs":
			n, err := toInt(value)
			if err != nil {
				return md, fmt.Errorf("metadata.%s: %w", key, err)
			}
			md.DurationMs = n
		case "status":
			n, err := toInt(value)
			if err != nil {
				return md, fmt.Errorf("metadata.%s: %w", key, err)
			}
			md.Status = int(n)
		default:
			s, ok := scalar(value)
			if !ok {
				return md, fmt.Errorf("metadata.%s: expected a string", key)
			}
			s = strings.TrimSpace(s)
			switch field {
			case "entity":
				md.Entity = s
			case "screen":
				md.Screen = s
			case "action":
				md.Action = s
			case "element":
				md.Element = s
			case "component":
				md.Component = s
			case "form":
				md.Form = s
			case "workflow":
				md.Workflow = s
			case "step":
				md.Step = s
			}
		}
		set[field] = true
	}
	return md, nil
}

func addExtra(md *types.EventMetadata, key string, value any) {
	s, ok := scalar(value)
	if !ok {
		return
	}
	if md.Extra == nil {
		md.Extra = make(map[string]string)
	}
	if _, exists := md.Extra[key]; !exists {
		md.Extra[key] = s
	}
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

func toStrings(v any) ([]string, error) {
	var out []string
	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			s, ok := scalar(item)
			if !ok {
				return nil, fmt.Errorf("expected a list of strings")
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("expected a string or a list of strings")
	}
	return out, nil
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("expected a number")
	}
}
