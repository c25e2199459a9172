package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/bushportal/livecoding/internal/config"
	"github.com/bushportal/livecoding/internal/livecoding"
	"github.com/bushportal/livecoding/internal/llm"
	"github.com/bushportal/livecoding/internal/llm/anthropic"
	"github.com/bushportal/livecoding/internal/llm/openai"
	"github.com/bushportal/livecoding/internal/llm/scripted"
	"github.com/bushportal/livecoding/internal/session"
)

// pipeline is the in-process generation stack shared by serve and generate.
type pipeline struct {
	choice       providerChoice
	registry     *session.Registry
	orchestrator *livecoding.Orchestrator
}

func newPipeline(cfg *config.Config, logger *log.Logger, providerOverride string) (*pipeline, error) {
	client, choice, err := newLLMClient(cfg, providerOverride)
	if err != nil {
		return nil, err
	}
	for _, warning := range choice.Warnings {
		logger.Warn(warning)
	}

	registry := session.NewRegistry(session.WithMaxSessions(cfg.Sessions.MaxSessions))
	orchestrator, err := livecoding.New(client, registry,
		livecoding.WithModel(choice.Model),
		livecoding.WithMaxTokens(cfg.LLM.MaxTokens),
		livecoding.WithRunTimeout(cfg.LLM.RunTimeout),
		livecoding.WithLogger(logger.With("component", "livecoding")),
	)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	logger.Info("llm provider selected", "provider", choice.Provider, "model", choice.Model)

	return &pipeline{choice: choice, registry: registry, orchestrator: orchestrator}, nil
}

var newScriptedClient = func() llm.Client {
	return scripted.NewDemo()
}

// providerChoice is the adapter picked for this process.
type providerChoice struct {
	Provider string
	Model    string
	Warnings []string
}

// newLLMClient resolves the provider against the API keys present in the environment and builds
// its adapter. A provider named explicitly by override must be available; there is no fallback.
func newLLMClient(cfg *config.Config, override string) (llm.Client, providerChoice, error) {
	availability := cfg.Availability()

	var choice providerChoice
	if override = strings.ToLower(strings.TrimSpace(override)); override != "" {
		if !availability[override] {
			return nil, providerChoice{}, fmt.Errorf("provider %q is unavailable: set %s", override, cfg.LLM.APIKeyEnvFor(override))
		}
		choice = providerChoice{Provider: override, Model: cfg.LLM.ModelFor(override)}
	} else {
		provider, model, warnings, err := cfg.ResolveProvider(availability)
		if err != nil {
			return nil, providerChoice{}, fmt.Errorf("resolve llm provider: %w", err)
		}
		choice = providerChoice{Provider: provider, Model: model, Warnings: warnings}
	}

	baseURL := ""
	if strings.EqualFold(choice.Provider, cfg.LLM.Provider) {
		baseURL = cfg.LLM.BaseURL
	}
	apiKey := os.Getenv(cfg.LLM.APIKeyEnvFor(choice.Provider))

	switch choice.Provider {
	case llm.ProviderOpenAI:
		driver, err := openai.New(openai.Config{APIKey: apiKey, BaseURL: baseURL, Model: choice.Model})
		if err != nil {
			return nil, providerChoice{}, fmt.Errorf("build openai adapter: %w", err)
		}
		return driver, choice, nil
	case llm.ProviderAnthropic:
		driver, err := anthropic.New(anthropic.Config{APIKey: apiKey, BaseURL: baseURL, Model: choice.Model})
		if err != nil {
			return nil, providerChoice{}, fmt.Errorf("build anthropic adapter: %w", err)
		}
		return driver, choice, nil
	case llm.ProviderScripted:
		return newScriptedClient(), choice, nil
	default:
		return nil, providerChoice{}, fmt.Errorf("unsupported llm provider %q", choice.Provider)
	}
}
