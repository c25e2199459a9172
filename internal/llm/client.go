// Package llm defines the streaming chat-completion boundary used by live coding runs.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
)

const (
	// ProviderOpenAI selects the OpenAI-compatible chat completions adapter.
	ProviderOpenAI = "openai"
	// ProviderAnthropic selects the Anthropic messages adapter.
	ProviderAnthropic = "anthropic"
	// ProviderScripted selects the offline scripted adapter.
	ProviderScripted = "scripted"
)

// ErrEmptyPrompt is returned by adapters when asked to stream without a user prompt.
var ErrEmptyPrompt = errors.New("prompt is required")

// Request describes one streamed chat completion.
type Request struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
}

// Validate checks the request carries a user prompt.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Stream yields raw text deltas. Recv returns io.EOF once the completion ends normally.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client opens streamed chat completions against a hosted model.
type Client interface {
	StreamChat(ctx context.Context, req Request) (Stream, error)
	Provider() string
}

// IsEndOfStream reports whether err marks normal stream exhaustion.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}
