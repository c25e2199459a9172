package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bushportal/livecoding/internal/config"
	"github.com/bushportal/livecoding/internal/hub"
	"github.com/bushportal/livecoding/internal/livecoding"
	"github.com/bushportal/livecoding/internal/llm/scripted"
	"github.com/bushportal/livecoding/internal/logging"
	"github.com/bushportal/livecoding/internal/server"
	"github.com/bushportal/livecoding/internal/session"
)

type remoteFixture struct {
	url          string
	cfg          *config.Config
	orchestrator *livecoding.Orchestrator
}

func newRemoteFixture(t *testing.T, client *scripted.Client) *remoteFixture {
	t.Helper()

	registry := session.NewRegistry()
	orchestrator, err := livecoding.New(client, registry)
	require.NoError(t, err)
	fanout := hub.New(hub.WithPingInterval(0))
	api, err := server.New(orchestrator, registry, fanout)
	require.NoError(t, err)

	ts := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		ts.Close()
		fanout.Close()
		api.Wait()
	})
	return &remoteFixture{url: ts.URL, cfg: testConfig(), orchestrator: orchestrator}
}

func TestRemoteURLHelpers(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	assert.Equal(t, "http://localhost:8080", defaultBaseURL(&cfg))
	cfg.Server.Addr = "10.0.0.5:9000"
	assert.Equal(t, "http://10.0.0.5:9000", defaultBaseURL(&cfg))

	ws, err := webSocketURL("https://portal.example.com/base/", "/ws/live-coding")
	require.NoError(t, err)
	assert.Equal(t, "wss://portal.example.com/base/ws/live-coding", ws)

	_, err = webSocketURL("ftp://example.com", "/ws")
	assert.Error(t, err)

	api, err := apiURL("http://localhost:8080", "sessions", "abc")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/live-coding/sessions/abc", api)
}

func TestRunWatchStartsSessionAndStreams(t *testing.T) {
	f := newRemoteFixture(t, scripted.NewDemo())

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runWatch(ctx, f.cfg, logging.Discard(), watchOptions{baseURL: f.url, prompt: "todo app"}, "", &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "ACTIVE")
	assert.Contains(t, out.String(), "▸ README.md")
	assert.Contains(t, out.String(), "▸ src/index.ts")
	assert.Contains(t, out.String(), "2 files generated")
}

func TestRunWatchFinishedSessionPrintsSnapshot(t *testing.T) {
	f := newRemoteFixture(t, scripted.NewDemo())
	final, err := f.orchestrator.Generate(context.Background(), "todo app")
	require.NoError(t, err)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, runWatch(ctx, f.cfg, logging.Discard(), watchOptions{baseURL: f.url}, final.ID, &out))
	assert.Contains(t, out.String(), "README.md")
	assert.Contains(t, out.String(), "2 files generated")
}

func TestRunWatchUnknownSessionFails(t *testing.T) {
	f := newRemoteFixture(t, scripted.NewDemo())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runWatch(ctx, f.cfg, logging.Discard(), watchOptions{baseURL: f.url}, "missing", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestRunWatchRequiresExactlyOneTarget(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	assert.Error(t, runWatch(context.Background(), cfg, logging.Discard(), watchOptions{}, "", &bytes.Buffer{}))
	assert.Error(t, runWatch(context.Background(), cfg, logging.Discard(), watchOptions{prompt: "x"}, "id", &bytes.Buffer{}))
}

func TestRunWatchReportsFailedRun(t *testing.T) {
	f := newRemoteFixture(t, scripted.New([]string{"partial"}, scripted.WithFailure(1, assert.AnError)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := runWatch(ctx, f.cfg, logging.Discard(), watchOptions{baseURL: f.url, prompt: "todo"}, "", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation failed")
	assert.Contains(t, out.String(), "✗")
}

func TestSessionsListAndShow(t *testing.T) {
	f := newRemoteFixture(t, scripted.NewDemo())
	final, err := f.orchestrator.Generate(context.Background(), "todo app")
	require.NoError(t, err)

	client := &http.Client{Timeout: 5 * time.Second}

	var list bytes.Buffer
	require.NoError(t, listSessions(context.Background(), client, f.url, 120, &list))
	assert.Contains(t, list.String(), final.ID)
	assert.Contains(t, list.String(), "COMPLETED")
	assert.Contains(t, list.String(), "2 files")

	var show bytes.Buffer
	require.NoError(t, showSession(context.Background(), client, f.url, final.ID, &show))
	assert.Contains(t, show.String(), "prompt: todo app")
	assert.Contains(t, show.String(), "src/index.ts")

	err = showSession(context.Background(), client, f.url, "missing", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestSessionsListEmpty(t *testing.T) {
	f := newRemoteFixture(t, scripted.NewDemo())

	var out bytes.Buffer
	require.NoError(t, listSessions(context.Background(), http.DefaultClient, f.url, 0, &out))
	assert.Equal(t, "no sessions\n", out.String())
}
