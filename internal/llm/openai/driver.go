// Package openai streams chat completions from OpenAI-compatible endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/bushportal/livecoding/internal/llm"
)

const defaultModel = goopenai.GPT4oMini

// Config configures the OpenAI driver.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Driver implements llm.Client using the chat completions streaming API.
type Driver struct {
	client *goopenai.Client
	model  string
}

// New constructs a driver. An empty BaseURL targets api.openai.com.
func New(cfg Config) (*Driver, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientConfig := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Driver{
		client: goopenai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Provider implements llm.Client.
func (d *Driver) Provider() string {
	return llm.ProviderOpenAI
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

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	completion := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		completion.MaxTokens = req.MaxTokens
	}

	stream, err := d.client.CreateChatCompletionStream(ctx, completion)
	if err != nil {
		return nil, fmt.Errorf("open openai stream: %w", err)
	}
	return &deltaStream{stream: stream}, nil
}

type deltaStream struct {
	stream *goopenai.ChatCompletionStream
}

// Recv skips chunks without text content, such as the initial role-only delta.
func (s *deltaStream) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("receive openai delta: %w", err)
		}

		var text strings.Builder
		for _, choice := range response.Choices {
			text.WriteString(choice.Delta.Content)
		}
		if text.Len() > 0 {
			return text.String(), nil
		}
	}
}

func (s *deltaStream) Close() error {
	return s.stream.Close()
}
