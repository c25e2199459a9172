package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of one coding session.
type Status string

const (
	// StatusActive marks a session whose generation run is still streaming.
	StatusActive Status = "active"
	// StatusCompleted marks a session whose stream ended normally.
	StatusCompleted Status = "completed"
	// StatusError marks a session whose run failed.
	StatusError Status = "error"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

var (
	// ErrSessionNotFound is returned for writes against an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session with an id already in use.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionClosed is returned when appending files to a terminal session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrEmptySessionID is returned when a session id is blank.
	ErrEmptySessionID = errors.New("session id must not be empty")
)

// GeneratedFile is one file block emitted during a session.
type GeneratedFile struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// CodingSession is one prompt-to-code generation run.
type CodingSession struct {
	ID          string          `json:"id"`
	Prompt      string          `json:"prompt"`
	Status      Status          `json:"status"`
	Files       []GeneratedFile `json:"files"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Summary is the list view of one session.
type Summary struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Status      Status     `json:"status"`
	FileCount   int        `json:"fileCount"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Summary returns the list view of the session.
func (s CodingSession) Summary() Summary {
	return Summary{
		ID:          s.ID,
		Prompt:      s.Prompt,
		Status:      s.Status,
		FileCount:   len(s.Files),
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}

func (s *CodingSession) clone() CodingSession {
	out := *s
	out.Files = make([]GeneratedFile, len(s.Files))
	copy(out.Files, s.Files)
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// IllegalTransitionError is returned for a disallowed status change.
type IllegalTransitionError struct {
	SessionID string
	From      Status
	To        Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition session %q from %q to %q", e.SessionID, e.From, e.To)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusActive: {
		StatusCompleted: {},
		StatusError:     {},
	},
}

func isAllowed(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptySessionID
	}
	return id, nil
}
