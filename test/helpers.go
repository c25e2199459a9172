// Package test provides shared helpers for tests that touch the filesystem or process environment.
package test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolatedEnv lists variables that change config resolution or provider selection.
var isolatedEnv = []string{
	"BUSHPORTAL_ADDR",
	"BUSHPORTAL_PROVIDER",
	"BUSHPORTAL_MODEL",
	"BUSHPORTAL_ENV",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

// IsolateHome points HOME at a fresh directory and clears the variables that would leak the
// developer's own configuration into a test. It returns the new home directory.
func IsolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range isolatedEnv {
		t.Setenv(name, "")
	}
	return home
}

// Chdir changes to dir for the rest of the test.
// The original working directory is restored when the test completes.
func Chdir(t *testing.T, dir string) {
	t.Helper()
	original, err := os.Getwd()
	require.NoError(t, err, "failed to get working directory")
	require.NoError(t, os.Chdir(dir), "failed to change directory")

	t.Cleanup(func() {
		assert.NoError(t, os.Chdir(original), "failed to restore working directory")
	})
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750), "failed to create %s", filepath.Dir(path))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "failed to write %s", path)
}

// AssertFileContent checks if a file has the expected content
func AssertFileContent(t *testing.T, path, expectedContent string) {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read file: %s", path)
	assert.Equal(t, expectedContent, string(content), "file content mismatch")
}
