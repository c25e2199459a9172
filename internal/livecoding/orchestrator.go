package livecoding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/bushportal/livecoding/internal/extract"
	"github.com/bushportal/livecoding/internal/llm"
	"github.com/bushportal/livecoding/internal/logging"
	"github.com/bushportal/livecoding/internal/session"
	"github.com/bushportal/livecoding/internal/telemetry"
	"github.com/bushportal/livecoding/internal/telemetry/invariants"
)

// SystemPrompt is sent with every run and pins the model to the file block format.
const SystemPrompt = `You are an expert software engineer generating a small project from the user's request.
Write every file as a block in exactly this format:

---FILE: relative/path.ext---
<complete file content>
---END FILE---

Use forward slashes in paths and never nest blocks. You may write short explanations between
blocks, but never inside them. Emit complete files only.`

// DefaultRunTimeout bounds one run when no timeout is configured.
const DefaultRunTimeout = 5 * time.Minute

var (
	// ErrEmptyPrompt is returned before any session exists when the prompt is blank.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrRunTimeout is returned by Generate when the run timeout ended the session.
	ErrRunTimeout = errors.New("generation timed out")
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModel overrides the adapter's default model.
func WithModel(model string) Option {
	return func(o *Orchestrator) {
		o.model = strings.TrimSpace(model)
	}
}

// WithMaxTokens caps completion length. Zero keeps the adapter default.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Orchestrator) {
		if maxTokens >= 0 {
			o.maxTokens = maxTokens
		}
	}
}

// WithRunTimeout bounds each run. Zero or negative disables the bound.
func WithRunTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.runTimeout = timeout
	}
}

// WithLogger sets the logger used for run records.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs generation sessions against one llm.Client.
type Orchestrator struct {
	client     llm.Client
	registry   *session.Registry
	model      string
	maxTokens  int
	runTimeout time.Duration
	logger     *log.Logger
	now        func() time.Time
}

// New wires an orchestrator to its model adapter and session registry.
func New(client llm.Client, registry *session.Registry, options ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if registry == nil {
		return nil, errors.New("session registry is required")
	}

	orchestrator := &Orchestrator{
		client:     client,
		registry:   registry,
		runTimeout: DefaultRunTimeout,
		logger:     logging.Discard(),
		now:        time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(orchestrator)
	}
	return orchestrator, nil
}

// NewSessionID returns a fresh opaque session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Provider names the adapter this orchestrator streams from.
func (o *Orchestrator) Provider() string {
	return o.client.Provider()
}

// Start creates the session and runs it to its terminal event, relaying every event to sink. The
// returned error only reports a request rejected before the session existed; run failures end the
// session in the error status and surface as one error event.
func (o *Orchestrator) Start(ctx context.Context, sessionID, prompt string, sink Sink) (session.CodingSession, error) {
	created, err := o.Open(sessionID, prompt)
	if err != nil {
		return session.CodingSession{}, err
	}
	return o.Run(ctx, created, sink), nil
}

// Open validates the prompt and registers an active session without contacting the model. Callers
// that must announce the session before its first event use Open followed by Run.
func (o *Orchestrator) Open(sessionID, prompt string) (session.CodingSession, error) {
	if strings.TrimSpace(prompt) == "" {
		return session.CodingSession{}, ErrEmptyPrompt
	}
	created, err := o.registry.Create(sessionID, prompt)
	if err != nil {
		return session.CodingSession{}, fmt.Errorf("start session: %w", err)
	}
	return created, nil
}

// Run streams an opened session to its terminal event under the configured run timeout and
// returns the final snapshot.
func (o *Orchestrator) Run(ctx context.Context, opened session.CodingSession, sink Sink) session.CodingSession {
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		sink = func(Event) {}
	}

	runCtx, cancel := o.withRunTimeout(ctx)
	defer cancel()

	r := &run{
		orchestrator: o,
		sessionID:    opened.ID,
		prompt:       opened.Prompt,
		sink:         sink,
		logger:       o.logger.With("session_id", opened.ID),
		final:        opened,
	}
	r.execute(runCtx)
	return r.final
}

// Generate runs one session under a new id and the configured run timeout.
// Observers receive every event in order; nil observers are skipped.
func (o *Orchestrator) Generate(ctx context.Context, prompt string, observers ...Sink) (session.CodingSession, error) {
	if strings.TrimSpace(prompt) == "" {
		return session.CodingSession{}, ErrEmptyPrompt
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := o.withRunTimeout(ctx)
	defer cancel()

	sink := func(event Event) {
		for _, observer := range observers {
			if observer != nil {
				observer(event)
			}
		}
	}

	final, err := o.Start(runCtx, NewSessionID(), prompt, sink)
	if err != nil {
		return final, err
	}
	if final.Status == session.StatusError && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return final, fmt.Errorf("session %s: %w", final.ID, ErrRunTimeout)
	}
	return final, nil
}

func (o *Orchestrator) withRunTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.runTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.runTimeout)
}

// run is the single writer for one session id.
type run struct {
	orchestrator *Orchestrator
	sessionID    string
	prompt       string
	sink         Sink
	logger       *log.Logger

	call       *telemetry.LLMCall
	transcript strings.Builder
	files      int
	terminals  int
	final      session.CodingSession
}

func (r *run) execute(ctx context.Context) {
	o := r.orchestrator
	started := time.Now()

	ctx, r.call = telemetry.StartLLMCall(ctx, telemetry.LLMCallRequest{
		Operation: "livecoding.run",
		ModelName: o.model,
		Provider:  o.client.Provider(),
		SessionID: r.sessionID,
		Prompt:    r.prompt,
	})

	var runErr error
	defer func() {
		if recovered := recover(); recovered != nil {
			runErr = fmt.Errorf("internal error: %v", recovered)
			r.logger.Error("run panicked", "panic", fmt.Sprint(recovered))
			if r.terminals == 0 {
				r.fail(ctx, runErr)
			}
		}
		invariants.CheckSingleTerminalEvent(ctx, "livecoding.run", r.sessionID, r.terminals)
		r.call.End(r.transcript.String(), nil, runErr)
		r.logger.Info("livecoding.run",
			"provider", o.client.Provider(),
			"status", string(r.final.Status),
			"file_count", r.files,
			"duration_ms", time.Since(started).Milliseconds(),
			"trace_id", traceID(ctx),
		)
	}()

	runErr = r.stream(ctx)
	if runErr != nil {
		r.fail(ctx, runErr)
		return
	}
	r.complete(ctx)
}

func traceID(ctx context.Context) string {
	spanContext := trace.SpanContextFromContext(ctx)
	if !spanContext.HasTraceID() {
		return ""
	}
	return spanContext.TraceID().String()
}

// stream pumps the adapter through a fresh extractor until the completion ends.
func (r *run) stream(ctx context.Context) error {
	o := r.orchestrator

	stream, err := o.client.StreamChat(ctx, llm.Request{
		System:    SystemPrompt,
		Prompt:    r.prompt,
		Model:     o.model,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return fmt.Errorf("open %s stream: %w", o.client.Provider(), err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			r.logger.Debug("close stream", "error", closeErr)
		}
	}()

	extractor := extract.New()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fragment, err := stream.Recv()
		if llm.IsEndOfStream(err) {
			break
		}
		if err != nil {
			return err
		}
		r.call.RecordChunk()
		r.transcript.WriteString(fragment)

		for _, event := range extractor.Feed(fragment) {
			switch event.Kind {
			case extract.KindText:
				r.emit(KindText, event.Text)
			case extract.KindFile:
				if err := r.relayFile(ctx, event.File); err != nil {
					return err
				}
			}
		}
	}

	if open, ok := extractor.Close(); ok {
		r.logger.Warn("stream ended inside a file block", "path", open.Path, "content_bytes", len(open.Content))
	}
	return nil
}

// relayFile records the file before any subscriber can observe it.
func (r *run) relayFile(ctx context.Context, file extract.File) error {
	invariants.CheckFilesBeforeTerminal(ctx, "livecoding.relay_file", r.sessionID, r.terminals > 0)

	generated := session.GeneratedFile{
		Path:     file.Path,
		Language: file.Language,
		Content:  file.Content,
	}
	count, err := r.orchestrator.registry.AppendFile(r.sessionID, generated)
	if err != nil {
		return fmt.Errorf("record file %q: %w", file.Path, err)
	}
	r.files = count
	r.call.RecordFile(file.Path, file.Language, len(file.Content))
	r.logger.Debug("file emitted", "path", file.Path, "language", file.Language)
	r.emit(KindFile, generated)
	return nil
}

func (r *run) complete(ctx context.Context) {
	final, err := r.orchestrator.registry.SetStatus(ctx, r.sessionID, session.StatusCompleted, "")
	if err != nil {
		r.fail(ctx, err)
		return
	}
	r.final = final
	r.terminal(KindComplete, CompleteSummary{SessionID: r.sessionID, FileCount: len(final.Files)})
}

func (r *run) fail(ctx context.Context, cause error) {
	message := failureMessage(cause)
	r.call.RecordError(failureType(cause), message, 0)
	r.logger.Error("run failed", "error", message)

	final, err := r.orchestrator.registry.SetStatus(context.WithoutCancel(ctx), r.sessionID, session.StatusError, message)
	if err != nil {
		r.logger.Error("record failed status", "error", err)
	}
	if final.ID != "" {
		r.final = final
	}
	r.terminal(KindError, message)
}

func (r *run) terminal(kind Kind, content any) {
	if r.terminals > 0 {
		r.terminals++
		return
	}
	r.terminals++
	r.emit(kind, content)
}

func (r *run) emit(kind Kind, content any) {
	r.sink(Event{
		SessionID: r.sessionID,
		Kind:      kind,
		Content:   content,
		Timestamp: r.orchestrator.now().UTC(),
	})
}

func failureMessage(err error) string {
	switch {
	case err == nil:
		return "generation failed"
	case errors.Is(err, context.DeadlineExceeded):
		return ErrRunTimeout.Error()
	case errors.Is(err, context.Canceled):
		return "generation cancelled"
	default:
		return err.Error()
	}
}

func failureType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "stream_failure"
	}
}
