package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/appforge/internal/config"
)

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", formatValue(nil))
	assert.Equal(t, "8", formatValue(8))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, "a.example,b.example", formatValue([]any{"a.example", "b.example"}))
}

func TestWriteEntries(t *testing.T) {
	cfg := config.Defaults()
	cfg.Recognition.Workers = 8
	cfg.Storage.DSN = "/var/lib/appforge/app.db"
	entries, err := config.Entries(cfg, true)
	require.NoError(t, err)

	var all bytes.Buffer
	require.NoError(t, writeEntries(&all, entries, false))
	lines := strings.Split(strings.TrimSpace(all.String()), "\n")
	assert.Equal(t, []string{"KEY", "VALUE", "DEFAULT"}, strings.Fields(lines[0]))
	assert.Len(t, lines, len(entries)+1)
	assert.Contains(t, all.String(), "log_level")

	var changed bytes.Buffer
	require.NoError(t, writeEntries(&changed, entries, true))
	out := changed.String()
	assert.NotContains(t, out, "log_level")
	assert.NotContains(t, out, "/var/lib")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n")[1:] {
		fields := strings.Fields(line)
		switch fields[0] {
		case "recognition.workers":
			assert.Equal(t, []string{"recognition.workers", "8", "4"}, fields)
		case "storage.dsn":
			assert.Equal(t, []string{"storage.dsn", "***b.db"}, fields)
		}
	}
}
