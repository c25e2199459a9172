// Package session holds the process-wide registry of live coding sessions.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bushportal/livecoding/internal/telemetry/invariants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Option configures Registry construction.
type Option func(*Registry)

// WithMaxSessions bounds retained sessions. When exceeded, the oldest terminal sessions are evicted
// first; active sessions are never evicted. Zero keeps every session for the process lifetime.
func WithMaxSessions(limit int) Option {
	return func(r *Registry) {
		if limit >= 0 {
			r.maxSessions = limit
		}
	}
}

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTracer configures the tracer used for status transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// Registry stores coding sessions in process memory. All methods are safe for concurrent use;
// each session id is expected to have a single writer.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*CodingSession
	order       []string
	maxSessions int
	now         func() time.Time
	tracer      trace.Tracer
}

// NewRegistry creates an empty registry.
func NewRegistry(options ...Option) *Registry {
	registry := &Registry{
		sessions: make(map[string]*CodingSession),
		order:    make([]string, 0),
		now:      time.Now,
		tracer:   otel.Tracer("bushportal/session"),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(registry)
	}
	return registry
}

// Create registers a new active session.
func (r *Registry) Create(id, prompt string) (CodingSession, error) {
	id, err := normalizeID(id)
	if err != nil {
		return CodingSession{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return CodingSession{}, fmt.Errorf("create session %q: %w", id, ErrSessionExists)
	}
	created := &CodingSession{
		ID:        id,
		Prompt:    prompt,
		Status:    StatusActive,
		Files:     make([]GeneratedFile, 0),
		StartedAt: r.now().UTC(),
	}
	r.sessions[id] = created
	r.order = append(r.order, id)
	r.evictLocked()

	return created.clone(), nil
}

// Get returns a copy of one session. Unknown ids report false.
func (r *Registry) Get(id string) (CodingSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found, ok := r.sessions[strings.TrimSpace(id)]
	if !ok {
		return CodingSession{}, false
	}
	return found.clone(), true
}

// List returns summaries of every retained session, newest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.sessions))
	for _, item := range r.sessions {
		out = append(out, item.Summary())
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Len returns the number of retained sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AppendFile adds one generated file to an active session and returns the new file count.
func (r *Registry) AppendFile(id string, file GeneratedFile) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found, ok := r.sessions[strings.TrimSpace(id)]
	if !ok {
		return 0, fmt.Errorf("append file to %q: %w", id, ErrSessionNotFound)
	}
	if found.Status.Terminal() {
		return len(found.Files), fmt.Errorf("append file to %q: %w", id, ErrSessionClosed)
	}
	found.Files = append(found.Files, file)
	return len(found.Files), nil
}

// SetStatus moves a session to a terminal status. CompletedAt is stamped exactly once.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status, message string) (CodingSession, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "session.transition")
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	id = strings.TrimSpace(id)
	span.SetAttributes(
		attribute.String("session_id", id),
		attribute.String("to_status", string(status)),
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	found, ok := r.sessions[id]
	if !ok {
		err := fmt.Errorf("set status of %q: %w", id, ErrSessionNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CodingSession{}, err
	}
	span.SetAttributes(attribute.String("from_status", string(found.Status)))

	legal := isAllowed(found.Status, status)
	invariants.CheckSessionTransitionLegal(ctx, "session.registry.set_status", id, string(found.Status), string(status), legal)
	if !legal {
		err := &IllegalTransitionError{SessionID: id, From: found.Status, To: status}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return found.clone(), err
	}

	completedAt := r.now().UTC()
	found.Status = status
	found.CompletedAt = &completedAt
	if status == StatusError {
		found.Error = strings.TrimSpace(message)
	}
	span.SetStatus(codes.Ok, "session transition recorded")

	out := found.clone()
	r.evictLocked()
	return out, nil
}

// evictLocked drops the oldest terminal sessions while the registry is over its bound.
func (r *Registry) evictLocked() {
	if r.maxSessions <= 0 || len(r.sessions) <= r.maxSessions {
		return
	}

	kept := r.order[:0]
	excess := len(r.sessions) - r.maxSessions
	for _, id := range r.order {
		if excess > 0 && r.sessions[id].Status.Terminal() {
			delete(r.sessions, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
