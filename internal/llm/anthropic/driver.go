// Package anthropic streams message completions from the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/bushportal/livecoding/internal/llm"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 4096
)

// Config configures the Anthropic driver.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Driver implements llm.Client using Messages streaming.
type Driver struct {
	client sdk.Client
	model  string
}

// New constructs a driver. SDK retries are disabled: a failed request ends the run.
func New(cfg Config) (*Driver, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Driver{
		client: sdk.NewClient(options...),
		model:  model,
	}, nil
}

// Provider implements llm.Client.
func (d *Driver) Provider() string {
	return llm.ProviderAnthropic
}

// StreamChat implements llm.Client.
func (d *Driver) StreamChat(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if d == nil {
		return nil, errors.New("driver is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = d.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	stream := d.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("open anthropic stream: %w", err)
	}
	return &deltaStream{stream: stream}, nil
}

type deltaStream struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Recv returns the next text delta, skipping lifecycle events.
func (s *deltaStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(sdk.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		return text.Text, nil
	}
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("receive anthropic delta: %w", err)
	}
	return "", io.EOF
}

func (s *deltaStream) Close() error {
	return s.stream.Close()
}
