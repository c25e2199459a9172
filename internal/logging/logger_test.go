package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONRecordsToLogDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runtimeLogger, err := New(context.Background(), WithDir(dir), WithInstanceID("abc123"))
	require.NoError(t, err)

	runtimeLogger.Component("hub").Info("client registered", "client_id", "c-1")
	require.NoError(t, runtimeLogger.Close())

	assert.Equal(t, dir, filepath.Dir(runtimeLogger.Path()))
	assert.True(t, strings.HasPrefix(filepath.Base(runtimeLogger.Path()), "bushportal-"))
	assert.True(t, strings.HasSuffix(runtimeLogger.Path(), "-abc123.log"))

	raw, err := os.ReadFile(runtimeLogger.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &record))
	assert.Equal(t, "client registered", record["msg"])
	assert.Equal(t, "hub", record["component"])
	assert.Equal(t, "abc123", record["instance_id"])
	assert.Equal(t, "c-1", record["client_id"])
}

func TestWithConsoleMirrorsRecords(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	runtimeLogger, err := New(context.Background(), WithDir(t.TempDir()), WithConsole(&console), WithLevel("warn"))
	require.NoError(t, err)
	defer runtimeLogger.Close()

	runtimeLogger.Logger.Info("filtered")
	runtimeLogger.Logger.Warn("session evicted")

	assert.NotContains(t, console.String(), "filtered")
	assert.Contains(t, console.String(), "session evicted")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want log.Level
	}{
		{name: "debug", want: log.DebugLevel},
		{name: " WARN ", want: log.WarnLevel},
		{name: "error", want: log.ErrorLevel},
		{name: "", want: log.InfoLevel},
		{name: "chatty", want: log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseLevel(tt.name))
		})
	}
}

func TestNilRuntimeLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var runtimeLogger *RuntimeLogger
	assert.NoError(t, runtimeLogger.Close())
	assert.Empty(t, runtimeLogger.Path())
	assert.NotNil(t, runtimeLogger.Component("server"))
}
