package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/appforge/internal/codegen"
	"github.com/user/appforge/internal/ingest"
	"github.com/user/appforge/internal/metrics"
	"github.com/user/appforge/internal/recognize"
	"github.com/user/appforge/internal/state"
	"github.com/user/appforge/internal/synth"
	"github.com/user/appforge/internal/types"
)

func newTestServer(t *testing.T, limiter *CallerLimiter) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)
	m := metrics.NewCollector("test")
	sessions := state.NewSessionStore(dir)
	events := state.NewEventStore(dir)
	patterns := state.NewPatternStore(dir)
	models := state.NewModelStore(dir)

	srv := NewServer(Deps{
		Ingest:  ingest.NewService(sessions, events, patterns, logger, ingest.Options{Metrics: m}),
		Engine:  recognize.NewEngine(sessions, events, patterns, nil, logger, m),
		Models:  synth.NewService(sessions, patterns, models, logger, m),
		Codegen: codegen.NewService(models, "react-ts", logger, m),
		Limiter: limiter,
		Metrics: m,
	}, Options{CORSOrigins: []string{"*"}}, logger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, buf.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func orderEvents() map[string]any {
	return map[string]any{"events": []map[string]any{
		{"id": "e1", "sessionId": "S1", "type": "navigation", "timestamp": 1000,
			"metadata": map[string]any{"path": "/orders"}},
		{"id": "e2", "sessionId": "S1", "type": "interaction", "timestamp": 1500,
			"metadata": map[string]any{"screen": "/orders", "action": "click", "label": "New Order"}},
		{"id": "e3", "sessionId": "S1", "type": "form", "timestamp": 2500,
			"metadata": map[string]any{"screen": "/orders", "action": "submit", "formName": "orderForm"}},
	}}
}

func TestPipelineOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)

	res, body := do(t, ts, http.MethodPost, "/api/v1/events", orderEvents())
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, ingest.Result{Accepted: 3}, decode[ingest.Result](t, body))

	res, body = do(t, ts, http.MethodPost, "/api/v1/events", orderEvents())
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, ingest.Result{Duplicates: 3}, decode[ingest.Result](t, body))

	res, body = do(t, ts, http.MethodGet, "/api/v1/sessions?active=true", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	sessions := decode[[]types.Session](t, body)
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(3), sessions[0].EventCount)

	res, body = do(t, ts, http.MethodGet, "/api/v1/sessions/S1/events?limit=2", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]types.Event](t, body), 2)

	res, body = do(t, ts, http.MethodPost, "/api/v1/recognize", map[string]any{"sessionId": "S1"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	patterns := decode[[]types.RecognizedPattern](t, body)
	require.NotEmpty(t, patterns)

	res, body = do(t, ts, http.MethodGet, "/api/v1/sessions/S1/patterns", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]types.RecognizedPattern](t, body), len(patterns))

	res, body = do(t, ts, http.MethodPost, "/api/v1/models", map[string]any{"sessionId": "S1", "name": "Orders"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	model := decode[types.ApplicationModel](t, body)
	assert.Equal(t, "Orders", model.Name)
	assert.Equal(t, types.InitialVersion, model.Version)

	res, body = do(t, ts, http.MethodGet, "/api/v1/models/"+string(model.ID)+"?expand=patterns", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[synth.ModelView](t, body).Patterns, len(model.SourcePatternIDs))

	res, body = do(t, ts, http.MethodPatch, "/api/v1/models/"+string(model.ID), map[string]any{"name": "Renamed"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	updated := decode[types.ApplicationModel](t, body)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "1.0.1", updated.Version)

	res, body = do(t, ts, http.MethodGet, "/api/v1/models?limit=10", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	page := decode[synth.Page](t, body)
	assert.Equal(t, 1, page.Total)

	res, body = do(t, ts, http.MethodPost, "/api/v1/generate", map[string]any{"modelId": model.ID})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	summaries := decode[[]types.GeneratedArtifact](t, body)
	require.NotEmpty(t, summaries)
	for _, a := range summaries {
		assert.Empty(t, a.Content)
		assert.Positive(t, a.SizeBytes)
	}

	res, body = do(t, ts, http.MethodPost, "/api/v1/generate/preview",
		map[string]any{"modelId": model.ID, "target": "go-chi", "fileTypes": []string{"other"}})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	for _, a := range decode[[]types.GeneratedArtifact](t, body) {
		assert.Equal(t, types.ArtifactOther, a.Type)
		assert.Len(t, a.Content, a.SizeBytes)
	}

	res, body = do(t, ts, http.MethodPost, "/api/v1/sessions/S1/close", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	closed := decode[types.Session](t, body)
	assert.NotNil(t, closed.EndTime)

	res, _ = do(t, ts, http.MethodDelete, "/api/v1/models/"+string(model.ID), nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = do(t, ts, http.MethodGet, "/api/v1/models/"+string(model.ID), nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		typ    string
		code   string
	}{
		{"bad json", http.MethodPost, "/api/v1/events", "{", http.StatusBadRequest, "VALIDATION_ERROR", "INVALID_JSON"},
		{"empty body", http.MethodPost, "/api/v1/recognize", "", http.StatusBadRequest, "VALIDATION_ERROR", "EMPTY_BODY"},
		{"empty batch", http.MethodPost, "/api/v1/events", map[string]any{"events": []any{}}, http.StatusBadRequest, "VALIDATION_ERROR", "EMPTY_BATCH"},
		{"unknown session", http.MethodGet, "/api/v1/sessions/nope", nil, http.StatusNotFound, "NOT_FOUND", ""},
		{"missing session id", http.MethodPost, "/api/v1/recognize", map[string]any{}, http.StatusBadRequest, "VALIDATION_ERROR", "MISSING_SESSION_ID"},
		{"bad limit", http.MethodGet, "/api/v1/sessions/S1/events?limit=x", nil, http.StatusBadRequest, "VALIDATION_ERROR", "INVALID_QUERY"},
		{"bad confidence", http.MethodGet, "/api/v1/models?minConfidence=2", nil, http.StatusBadRequest, "VALIDATION_ERROR", "INVALID_QUERY"},
		{"no source", http.MethodPost, "/api/v1/models", map[string]any{"name": "x"}, http.StatusBadRequest, "VALIDATION_ERROR", "MISSING_SOURCE"},
		{"unknown model", http.MethodPost, "/api/v1/generate", map[string]any{"modelId": "nope"}, http.StatusNotFound, "NOT_FOUND", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := do(t, ts, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, res.StatusCode, string(body))
			assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
			got := decode[errorBody](t, body)
			assert.Equal(t, tt.typ, string(got.Error.Type))
			if tt.code != "" {
				assert.Equal(t, tt.code, got.Error.Code)
			}
			assert.NotEmpty(t, got.Error.Message)
		})
	}
}

func TestUnsupportedTargetIsBadRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	do(t, ts, http.MethodPost, "/api/v1/events", orderEvents())
	do(t, ts, http.MethodPost, "/api/v1/recognize", map[string]any{"sessionId": "S1"})
	_, body := do(t, ts, http.MethodPost, "/api/v1/models", map[string]any{"sessionId": "S1"})
	model := decode[types.ApplicationModel](t, body)

	res, body := do(t, ts, http.MethodPost, "/api/v1/generate", map[string]any{"modelId": model.ID, "target": "cobol"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "UNSUPPORTED_TARGET", string(decode[errorBody](t, body).Error.Type))
}

func TestSessionWithoutPatternsIsUnprocessable(t *testing.T) {
	ts := newTestServer(t, nil)
	do(t, ts, http.MethodPost, "/api/v1/events", map[string]any{"events": []map[string]any{
		{"id": "only", "sessionId": "S2", "type": "navigation", "timestamp": 1, "metadata": map[string]any{"path": "/"}},
	}})
	res, body := do(t, ts, http.MethodPost, "/api/v1/models", map[string]any{"sessionId": "S2"})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(body))
	assert.Equal(t, "NO_PATTERNS", string(decode[errorBody](t, body).Error.Type))
}

func TestRateLimitPerCaller(t *testing.T) {
	ts := newTestServer(t, NewCallerLimiter(0.001, 2, time.Minute))

	get := func(client string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/sessions", nil)
		require.NoError(t, err)
		req.Header.Set(ClientIDHeader, client)
		res, err := ts.Client().Do(req)
		require.NoError(t, err)
		res.Body.Close()
		return res.StatusCode
	}
	assert.Equal(t, http.StatusOK, get("a"))
	assert.Equal(t, http.StatusOK, get("a"))
	assert.Equal(t, http.StatusTooManyRequests, get("a"))
	assert.Equal(t, http.StatusOK, get("b"), "callers have separate buckets")

	// health and metrics are not limited
	res, _ := do(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	do(t, ts, http.MethodGet, "/api/v1/sessions", nil)
	res, body := do(t, ts, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(body), `route="/api/v1/sessions`), string(body))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/models", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}
