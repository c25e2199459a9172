// Package scripted replays a fixed response as a chat-completion stream. It backs offline demos
// and tests where no hosted model is reachable.
package scripted

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bushportal/livecoding/internal/llm"
)

// Responder builds the chunks replayed for one request.
type Responder func(req llm.Request) []string

// Option configures a scripted Client.
type Option func(*Client)

// WithDelay pauses before each chunk, approximating token pacing.
func WithDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay >= 0 {
			c.delay = delay
		}
	}
}

// WithFailure makes Recv return err after the given number of chunks were delivered.
func WithFailure(afterChunks int, err error) Option {
	return func(c *Client) {
		c.failAfter = afterChunks
		c.failErr = err
	}
}

// WithOpenError makes StreamChat itself fail, as a refused connection would.
func WithOpenError(err error) Option {
	return func(c *Client) {
		c.openErr = err
	}
}

// WithResponder replaces the fixed chunks with a per-request responder.
func WithResponder(responder Responder) Option {
	return func(c *Client) {
		if responder != nil {
			c.responder = responder
		}
	}
}

// Client implements llm.Client over canned output.
type Client struct {
	responder Responder
	delay     time.Duration
	failAfter int
	failErr   error
	openErr   error

	mu       sync.Mutex
	requests []llm.Request
}

// New returns a client that replays chunks for every request.
func New(chunks []string, options ...Option) *Client {
	fixed := append([]string(nil), chunks...)
	client := &Client{
		responder: func(llm.Request) []string { return fixed },
		failAfter: -1,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(client)
	}
	return client
}

// NewDemo returns a client that answers every prompt with a small generated project.
func NewDemo(options ...Option) *Client {
	return New(nil, append([]Option{WithResponder(DemoResponse)}, options...)...)
}

// Provider implements llm.Client.
func (c *Client) Provider() string {
	return llm.ProviderScripted
}

// Requests returns the requests received so far.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// StreamChat implements llm.Client.
func (c *Client) StreamChat(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.openErr != nil {
		return nil, c.openErr
	}
	return &stream{
		ctx:       ctx,
		chunks:    c.responder(req),
		delay:     c.delay,
		failAfter: c.failAfter,
		failErr:   c.failErr,
	}, nil
}

type stream struct {
	ctx       context.Context
	chunks    []string
	next      int
	delay     time.Duration
	failAfter int
	failErr   error
	closed    bool
}

func (s *stream) Recv() (string, error) {
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.failErr != nil && s.failAfter >= 0 && s.next >= s.failAfter {
		return "", s.failErr
	}
	if s.next >= len(s.chunks) {
		return "", io.EOF
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return "", s.ctx.Err()
		case <-timer.C:
		}
	}
	chunk := s.chunks[s.next]
	s.next++
	return chunk, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

// DemoResponse renders a deterministic two-file project for the prompt, split into small chunks.
func DemoResponse(req llm.Request) []string {
	title := strings.TrimSpace(req.Prompt)
	if runes := []rune(title); len(runes) > 60 {
		title = string(runes[:60])
	}
	body := fmt.Sprintf(
		"Here is a starting point for %q.\n\n"+
			"---FILE: README.md---\n# %s\n\nGenerated by the BushPortal live coding demo.\n---END FILE---\n\n"+
			"---FILE: src/index.ts---\nexport function main(): string {\n  return %q;\n}\n---END FILE---\n\n"+
			"Run `npx ts-node src/index.ts` to try it.",
		title, title, title,
	)
	return Split(body, 24)
}

// Split cuts text into chunks of at most size bytes without splitting a UTF-8 sequence.
func Split(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, len(text)/size+1)
	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			for end > start+1 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		chunks = append(chunks, text[start:end])
		start = end
	}
	return chunks
}
