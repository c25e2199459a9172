// Package livecoding drives one prompt-to-code generation run: it streams a completion from the
// language model, extracts file blocks as they close, records them in the session registry and
// relays every event to a sink in production order.
package livecoding

import "time"

// Kind is the type of one stream event.
type Kind string

const (
	// KindText carries a raw model fragment.
	KindText Kind = "text"
	// KindFile carries one completed session.GeneratedFile.
	KindFile Kind = "file"
	// KindComplete carries a CompleteSummary and ends a successful run.
	KindComplete Kind = "complete"
	// KindError carries the failure message and ends a failed run.
	KindError Kind = "error"
)

// Terminal reports whether k ends a run.
func (k Kind) Terminal() bool {
	return k == KindComplete || k == KindError
}

// Event is one ordered item of a run's output.
type Event struct {
	SessionID string    `json:"sessionId"`
	Kind      Kind      `json:"event"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CompleteSummary is the content of a complete event.
type CompleteSummary struct {
	SessionID string `json:"sessionId"`
	FileCount int    `json:"fileCount"`
}

// Sink receives events synchronously, in order, on the goroutine running the session.
type Sink func(Event)
