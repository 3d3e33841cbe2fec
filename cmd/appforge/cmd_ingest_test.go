package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEventsFormats(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  int
	}{
		{"document", `{"events": [{"id": "a"}, {"id": "b"}]}`, 2},
		{"array", `[{"id": "a"}, {"id": "b"}, {"id": "c"}]`, 3},
		{"jsonl", "{\"id\": \"a\"}\n\n{\"id\": \"b\"}\n", 2},
		{"single object line", `{"id": "a", "type": "navigation"}`, 1},
		{"empty", "  \n", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := readEvents(strings.NewReader(tc.input))
			require.NoError(t, err)
			assert.Len(t, items, tc.want)
			for _, item := range items {
				assert.True(t, json.Valid(item))
			}
		})
	}
}

func TestReadEventsRejectsBadLine(t *testing.T) {
	_, err := readEvents(strings.NewReader("{\"id\": \"a\"}\n{not json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestChunk(t *testing.T) {
	items := make([]json.RawMessage, 7)
	for i := range items {
		items[i] = json.RawMessage(`{}`)
	}

	batches := chunk(items, 3)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[2], 1)

	assert.Len(t, chunk(items, 0), 1)
	assert.Len(t, chunk(items, 10), 1)
}

func TestWritePIDFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	path, err := writePIDFile(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	_, err := readPID(dir)
	assert.ErrorContains(t, err, "PID file not found")

	_, err = writePIDFile(dir)
	require.NoError(t, err)
	pid, err := readPID(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "appforge.pid"), []byte("nope\n"), 0o644))
	_, err = readPID(dir)
	assert.ErrorContains(t, err, "invalid PID")
}
