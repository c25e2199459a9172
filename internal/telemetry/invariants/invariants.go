package invariants

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InvariantSingleTerminalEvent requires exactly one complete or error event per session.
	InvariantSingleTerminalEvent = "single_terminal_event"
	// InvariantFilesBeforeTerminal requires every file event to precede the terminal event.
	InvariantFilesBeforeTerminal = "files_before_terminal"
	// InvariantSessionTransitionLegal requires session status changes to follow the lifecycle table.
	InvariantSessionTransitionLegal = "session_transition_legal"
)

const (
	// SeverityWarn is used for non-fatal invariant violations.
	SeverityWarn = "warn"
	// SeverityError is used for fatal invariant violations.
	SeverityError = "error"
)

var invariantChecksEnabled atomic.Bool

func init() {
	invariantChecksEnabled.Store(true)
}

// ViolationDetails captures invariant violation context for telemetry events.
type ViolationDetails struct {
	WhatInvariant string
	WhereDetected string
	WhyViolated   string
	Additional    map[string]string
}

// SetEnabled globally enables or disables invariant checks.
func SetEnabled(enabled bool) {
	invariantChecksEnabled.Store(enabled)
}

// Enabled reports whether invariant checks are currently enabled.
func Enabled() bool {
	return invariantChecksEnabled.Load()
}

// InvariantViolation emits an invariant.violation event on the active span, or on a short
// synthetic span when the context carries none.
func InvariantViolation(
	ctx context.Context,
	invariantName string,
	severity string,
	details ViolationDetails,
) {
	if !Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	invariantName = strings.TrimSpace(invariantName)
	if invariantName == "" {
		invariantName = "unknown_invariant"
	}

	attrs := []attribute.KeyValue{
		attribute.String("invariant_name", invariantName),
		attribute.String("severity", normalizeSeverity(severity)),
		attribute.String("what_invariant", strings.TrimSpace(details.WhatInvariant)),
		attribute.String("where_detected", strings.TrimSpace(details.WhereDetected)),
		attribute.String("why_violated", strings.TrimSpace(details.WhyViolated)),
	}
	if len(details.Additional) > 0 {
		keys := make([]string, 0, len(details.Additional))
		for key := range details.Additional {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(details.Additional[key])
			if value == "" {
				continue
			}
			attrs = append(attrs, attribute.String("context."+key, value))
		}
	}

	span := trace.SpanFromContext(ctx)
	if span != nil && span.SpanContext().IsValid() {
		span.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
		return
	}

	_, temporarySpan := otel.Tracer("bushportal/invariants").Start(ctx, "invariant.violation")
	defer temporarySpan.End()
	temporarySpan.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
}

// CheckSingleTerminalEvent validates that a session produced exactly one terminal event.
func CheckSingleTerminalEvent(ctx context.Context, whereDetected, sessionID string, terminalCount int) bool {
	if terminalCount == 1 {
		return true
	}
	InvariantViolation(ctx, InvariantSingleTerminalEvent, SeverityError, ViolationDetails{
		WhatInvariant: "session emits exactly one terminal event",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("terminal_count=%d", terminalCount),
		Additional: map[string]string{
			"session_id": sessionID,
		},
	})
	return false
}

// CheckFilesBeforeTerminal validates that no file event follows the terminal event.
func CheckFilesBeforeTerminal(ctx context.Context, whereDetected, sessionID string, terminated bool) bool {
	if !terminated {
		return true
	}
	InvariantViolation(ctx, InvariantFilesBeforeTerminal, SeverityError, ViolationDetails{
		WhatInvariant: "file events precede the terminal event",
		WhereDetected: whereDetected,
		WhyViolated:   "file event produced after session terminated",
		Additional: map[string]string{
			"session_id": sessionID,
		},
	})
	return false
}

// CheckSessionTransitionLegal validates the session_transition_legal invariant.
func CheckSessionTransitionLegal(
	ctx context.Context,
	whereDetected string,
	sessionID string,
	fromStatus string,
	toStatus string,
	legal bool,
) bool {
	if legal {
		return true
	}
	InvariantViolation(ctx, InvariantSessionTransitionLegal, SeverityError, ViolationDetails{
		WhatInvariant: "session status transition is legal",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("illegal transition from=%s to=%s", fromStatus, toStatus),
		Additional: map[string]string{
			"session_id":  strings.TrimSpace(sessionID),
			"from_status": strings.TrimSpace(fromStatus),
			"to_status":   strings.TrimSpace(toStatus),
		},
	})
	return false
}

func normalizeSeverity(value string) string {
	if strings.ToLower(strings.TrimSpace(value)) == SeverityWarn {
		return SeverityWarn
	}
	return SeverityError
}
