package livecoding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bushportal/livecoding/internal/llm/scripted"
	"github.com/bushportal/livecoding/internal/session"
)

func TestStartCompletesAndRelaysFilesInOrder(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	client := scripted.New([]string{
		"Intro ---FILE: a.ts",
		"---\nconsole.log(1)\n---END FI",
		"LE--- middle ---FILE: docs/readme.md---\n# hi\n---END FILE---",
		" done",
	})
	orchestrator := newTestOrchestrator(t, client, registry)

	collector := &Collector{}
	final, err := orchestrator.Start(context.Background(), "s-1", "make a thing", collector.Sink())
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)
	require.Len(t, final.Files, 2)
	assert.Equal(t, session.GeneratedFile{Path: "a.ts", Language: "typescript", Content: "console.log(1)"}, final.Files[0])
	assert.Equal(t, session.GeneratedFile{Path: "docs/readme.md", Language: "markdown", Content: "# hi"}, final.Files[1])

	kinds := eventKinds(collector.Events)
	assert.Equal(t, []Kind{KindText, KindText, KindText, KindFile, KindFile, KindText, KindComplete}, kinds)
	assert.Equal(t, CompleteSummary{SessionID: "s-1", FileCount: 2}, collector.Events[len(collector.Events)-1].Content)
	assert.Equal(t, final.Files, collector.Files())

	var transcript strings.Builder
	for _, event := range collector.Events {
		assert.Equal(t, "s-1", event.SessionID)
		if event.Kind == KindText {
			transcript.WriteString(event.Content.(string))
		}
	}
	assert.Equal(t, strings.Join([]string{
		"Intro ---FILE: a.ts",
		"---\nconsole.log(1)\n---END FI",
		"LE--- middle ---FILE: docs/readme.md---\n# hi\n---END FILE---",
		" done",
	}, ""), transcript.String())

	stored, ok := registry.Get("s-1")
	require.True(t, ok)
	assert.Equal(t, final, stored)

	require.Len(t, client.Requests(), 1)
	assert.Equal(t, SystemPrompt, client.Requests()[0].System)
	assert.Equal(t, "make a thing", client.Requests()[0].Prompt)
}

func TestStartAdapterFailureAfterTwoFiles(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	client := scripted.New([]string{
		"---FILE: one.py---\nprint(1)\n---END FILE---",
		"---FILE: two.go---\npackage two\n---END FILE---",
		"---FILE: three.rs---\nfn main() {}",
	}, scripted.WithFailure(3, errors.New("upstream reset")))
	orchestrator := newTestOrchestrator(t, client, registry)

	collector := &Collector{}
	final, err := orchestrator.Start(context.Background(), "s-fail", "three files", collector.Sink())
	require.NoError(t, err)

	assert.Equal(t, session.StatusError, final.Status)
	assert.Len(t, final.Files, 2)
	assert.Contains(t, final.Error, "upstream reset")

	kinds := eventKinds(collector.Events)
	require.NotEmpty(t, kinds)
	assert.Equal(t, KindError, kinds[len(kinds)-1])
	assert.Equal(t, 1, countKind(kinds, KindError))
	assert.Equal(t, 0, countKind(kinds, KindComplete))
	assert.Equal(t, 2, countKind(kinds, KindFile))
	lastFile := lastIndexOf(kinds, KindFile)
	assert.Less(t, lastFile, len(kinds)-1)
	assert.Contains(t, collector.Events[len(kinds)-1].Content, "upstream reset")
}

func TestStartRejectsBlankPromptWithoutCreatingSession(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	orchestrator := newTestOrchestrator(t, scripted.New(nil), registry)

	called := false
	_, err := orchestrator.Start(context.Background(), "s-blank", " \n\t", func(Event) { called = true })
	require.ErrorIs(t, err, ErrEmptyPrompt)
	assert.False(t, called)
	assert.Equal(t, 0, registry.Len())

	_, err = orchestrator.Generate(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Equal(t, 0, registry.Len())
}

func TestStartRejectsDuplicateSessionID(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	orchestrator := newTestOrchestrator(t, scripted.New([]string{"hi"}), registry)

	_, err := orchestrator.Start(context.Background(), "dup", "first", nil)
	require.NoError(t, err)
	_, err = orchestrator.Start(context.Background(), "dup", "second", nil)
	require.ErrorIs(t, err, session.ErrSessionExists)
	assert.Equal(t, 1, registry.Len())
}

func TestStartOpenErrorEndsSessionWithSingleErrorEvent(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	client := scripted.New(nil, scripted.WithOpenError(errors.New("connection refused")))
	orchestrator := newTestOrchestrator(t, client, registry)

	collector := &Collector{}
	final, err := orchestrator.Start(context.Background(), "s-open", "p", collector.Sink())
	require.NoError(t, err)

	assert.Equal(t, session.StatusError, final.Status)
	require.Len(t, collector.Events, 1)
	assert.Equal(t, KindError, collector.Events[0].Kind)
	assert.Contains(t, collector.Events[0].Content, "connection refused")
}

func TestStartCancellationEndsSessionInError(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	client := scripted.New([]string{"a", "b"}, scripted.WithDelay(time.Hour))
	orchestrator := newTestOrchestrator(t, client, registry)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	collector := &Collector{}
	final, err := orchestrator.Start(ctx, "s-cancel", "p", collector.Sink())
	require.NoError(t, err)

	assert.Equal(t, session.StatusError, final.Status)
	assert.Equal(t, "generation cancelled", final.Error)
	require.Len(t, collector.Events, 1)
	assert.Equal(t, KindError, collector.Events[0].Kind)
}

func TestGenerateReportsRunTimeout(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	client := scripted.New([]string{"a"}, scripted.WithDelay(time.Hour))
	orchestrator := newTestOrchestrator(t, client, registry, WithRunTimeout(20*time.Millisecond))

	final, err := orchestrator.Generate(context.Background(), "slow")
	require.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, session.StatusError, final.Status)
	assert.NotEmpty(t, final.ID)

	stored, ok := registry.Get(final.ID)
	require.True(t, ok)
	assert.Equal(t, session.StatusError, stored.Status)
}

func TestGenerateUsesDemoAdapter(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	orchestrator := newTestOrchestrator(t, scripted.NewDemo(), registry, WithModel("demo-model"), WithMaxTokens(512))

	final, err := orchestrator.Generate(context.Background(), "Episode player")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	require.Len(t, final.Files, 2)
	assert.Equal(t, "README.md", final.Files[0].Path)
	assert.Equal(t, "src/index.ts", final.Files[1].Path)
	assert.Equal(t, "typescript", final.Files[1].Language)
}

func TestStartRecoversSinkPanic(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	client := scripted.New([]string{"---FILE: a.md---\nx\n---END FILE---", "tail"})
	orchestrator := newTestOrchestrator(t, client, registry)

	var mu sync.Mutex
	var kinds []Kind
	sink := func(event Event) {
		mu.Lock()
		kinds = append(kinds, event.Kind)
		mu.Unlock()
		if event.Kind == KindFile {
			panic("subscriber exploded")
		}
	}

	final, err := orchestrator.Start(context.Background(), "s-panic", "p", sink)
	require.NoError(t, err)
	assert.Equal(t, session.StatusError, final.Status)
	assert.Contains(t, final.Error, "subscriber exploded")
	assert.Equal(t, []Kind{KindText, KindFile, KindError}, kinds)
}

func TestUnterminatedBlockIsNotEmitted(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	client := scripted.New([]string{"---FILE: open.ts---\nconst x = 1;\n"})
	orchestrator := newTestOrchestrator(t, client, registry)

	collector := &Collector{}
	final, err := orchestrator.Start(context.Background(), "s-open-block", "p", collector.Sink())
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Empty(t, final.Files)
	assert.Equal(t, CompleteSummary{SessionID: "s-open-block", FileCount: 0}, collector.Events[len(collector.Events)-1].Content)
}

func TestRunRecordsLLMCallSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})

	orchestrator := newTestOrchestrator(t, scripted.NewDemo(), session.NewRegistry())
	_, err := orchestrator.Start(context.Background(), "s-span", "Episode player", nil)
	require.NoError(t, err)

	var found sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "llm.call" {
			found = span
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, int64(2), intAttr(found.Attributes(), "files_count"))
	assert.Equal(t, "scripted", stringAttr(found.Attributes(), "provider"))
	assert.Equal(t, "s-span", stringAttr(found.Attributes(), "session_id"))
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, session.NewRegistry())
	require.Error(t, err)
	_, err = New(scripted.New(nil), nil)
	require.Error(t, err)
	assert.NotEqual(t, NewSessionID(), NewSessionID())
}

func newTestOrchestrator(t *testing.T, client *scripted.Client, registry *session.Registry, options ...Option) *Orchestrator {
	t.Helper()
	orchestrator, err := New(client, registry, options...)
	require.NoError(t, err)
	return orchestrator
}

func eventKinds(events []Event) []Kind {
	kinds := make([]Kind, 0, len(events))
	for _, event := range events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func countKind(kinds []Kind, want Kind) int {
	count := 0
	for _, kind := range kinds {
		if kind == want {
			count++
		}
	}
	return count
}

func lastIndexOf(kinds []Kind, want Kind) int {
	last := -1
	for i, kind := range kinds {
		if kind == want {
			last = i
		}
	}
	return last
}

func stringAttr(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}

func intAttr(attrs []attribute.KeyValue, key string) int64 {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsInt64()
		}
	}
	return 0
}

func TestOpenThenRunAnnouncesBeforeFirstEvent(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry()
	orchestrator := newTestOrchestrator(t, scripted.New([]string{"---FILE: a.css---\nbody{}\n---END FILE---"}), registry)

	opened, err := orchestrator.Open("s-open-run", "styles")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, opened.Status)
	stored, ok := registry.Get("s-open-run")
	require.True(t, ok)
	assert.Equal(t, session.StatusActive, stored.Status)

	collector := &Collector{}
	final := orchestrator.Run(context.Background(), opened, collector.Sink())
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Equal(t, []Kind{KindText, KindFile, KindComplete}, eventKinds(collector.Events))
	assert.Equal(t, "css", final.Files[0].Language)
}

func TestGenerateForwardsEventsToObservers(t *testing.T) {
	t.Parallel()

	orchestrator := newTestOrchestrator(t, scripted.NewDemo(), session.NewRegistry())

	observed := &Collector{}
	final, err := orchestrator.Generate(context.Background(), "Episode player", nil, observed.Sink())
	require.NoError(t, err)
	require.NotEmpty(t, observed.Events)
	assert.Equal(t, KindComplete, observed.Events[len(observed.Events)-1].Kind)
	assert.Equal(t, final.Files, observed.Files())
	for _, event := range observed.Events {
		assert.Equal(t, final.ID, event.SessionID)
	}
}

// Collector is a Sink that keeps every event.
type Collector struct {
	Events []Event
}

// Sink returns the collecting sink.
func (c *Collector) Sink() Sink {
	return func(event Event) {
		c.Events = append(c.Events, event)
	}
}

// Files returns the files carried by collected file events.
func (c *Collector) Files() []session.GeneratedFile {
	files := make([]session.GeneratedFile, 0)
	for _, event := range c.Events {
		if file, ok := event.Content.(session.GeneratedFile); ok && event.Kind == KindFile {
			files = append(files, file)
		}
	}
	return files
}
