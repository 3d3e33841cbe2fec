package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/appforge/internal/types"
)

// Sink delivers one batch of events to the ingestion service.
type Sink interface {
	Submit(ctx context.Context, events []*types.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, events []*types.Event) error

func (f SinkFunc) Submit(ctx context.Context, events []*types.Event) error {
	return f(ctx, events)
}

// StatusError is returned by HTTPSink when the server answers with a
// non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingestion endpoint returned %d: %s", e.Code, e.Body)
}

// HTTPSink posts batches as {"events": [...]} to an ingestion endpoint.
type HTTPSink struct {
	URL      string
	ClientID string
	Client   *http.Client
}

func NewHTTPSink(url, clientID string) *HTTPSink {
	return &HTTPSink{
		URL:      url,
		ClientID: clientID,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSink) Submit(ctx context.Context, events []*types.Event) error {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.ClientID != "" {
		req.Header.Set("X-Client-ID", s.ClientID)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
