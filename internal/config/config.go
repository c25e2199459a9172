package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultLogLevel      = "info"
	defaultAddr          = ":8080"
	defaultWebSocketPath = "/ws/live-coding"
	defaultProvider      = "openai"
	defaultMaxTokens     = 4096
	defaultRunTimeout    = 5 * time.Minute
	defaultSendBuffer    = 256
	defaultWriteTimeout  = 10 * time.Second
	defaultPingInterval  = 30 * time.Second

	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"
	providerScripted  = "scripted"
)

// Environment overrides applied after every file layer.
const (
	EnvAddr     = "BUSHPORTAL_ADDR"
	EnvProvider = "BUSHPORTAL_PROVIDER"
	EnvModel    = "BUSHPORTAL_MODEL"
)

var defaultAPIKeyEnv = map[string]string{
	providerOpenAI:    "OPENAI_API_KEY",
	providerAnthropic: "ANTHROPIC_API_KEY",
}

// Config stores runtime settings loaded from TOML files.
type Config struct {
	LogLevel  string
	Server    ServerConfig
	LLM       LLMConfig
	Sessions  SessionsConfig
	WebSocket WebSocketConfig
	OTel      OTelConfig
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr           string
	WebSocketPath  string
	AllowedOrigins []string
}

// LLMConfig selects and tunes the model adapter.
type LLMConfig struct {
	Provider   string
	Model      string
	APIKeyEnv  string
	BaseURL    string
	MaxTokens  int
	RunTimeout time.Duration
	// Models holds per-provider model overrides from [llm.models].
	Models map[string]string
}

// SessionsConfig bounds the session registry.
type SessionsConfig struct {
	MaxSessions int
}

// WebSocketConfig tunes per-client delivery.
type WebSocketConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// OTelConfig configures trace export.
type OTelConfig struct {
	Enabled  bool
	Endpoint string
}

type fileConfig struct {
	LogLevel  *string              `toml:"log_level"`
	Server    *fileServerConfig    `toml:"server"`
	LLM       *fileLLMConfig       `toml:"llm"`
	Sessions  *fileSessionsConfig  `toml:"sessions"`
	WebSocket *fileWebSocketConfig `toml:"websocket"`
	OTel      *fileOTelConfig      `toml:"otel"`
}

type fileServerConfig struct {
	Addr           *string   `toml:"addr"`
	WebSocketPath  *string   `toml:"websocket_path"`
	AllowedOrigins *[]string `toml:"allowed_origins"`
}

type fileLLMConfig struct {
	Provider   *string           `toml:"provider"`
	Model      *string           `toml:"model"`
	APIKeyEnv  *string           `toml:"api_key_env"`
	BaseURL    *string           `toml:"base_url"`
	MaxTokens  *int              `toml:"max_tokens"`
	RunTimeout *string           `toml:"run_timeout"`
	Models     map[string]string `toml:"models"`
}

type fileSessionsConfig struct {
	MaxSessions *int `toml:"max_sessions"`
}

type fileWebSocketConfig struct {
	SendBuffer   *int    `toml:"send_buffer"`
	WriteTimeout *string `toml:"write_timeout"`
	PingInterval *string `toml:"ping_interval"`
}

type fileOTelConfig struct {
	Enabled  *bool   `toml:"enabled"`
	Endpoint *string `toml:"endpoint"`
}

// Load reads config from ~/.bushportal/config.toml, overlays a project-local
// .bushportal/config.toml, then applies environment overrides.
func Load(ctx context.Context) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := LoadFiles(
		filepath.Join(homeDir, ".bushportal", "config.toml"),
		filepath.Join(workingDir, ".bushportal", "config.toml"),
	)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	_ = ctx
	return cfg, nil
}

// LoadFiles overlays each existing file onto the defaults in order. Missing files are skipped.
func LoadFiles(paths ...string) (*Config, error) {
	cfg := Defaults()
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel: defaultLogLevel,
		Server: ServerConfig{
			Addr:           defaultAddr,
			WebSocketPath:  defaultWebSocketPath,
			AllowedOrigins: []string{},
		},
		LLM: LLMConfig{
			Provider:   defaultProvider,
			MaxTokens:  defaultMaxTokens,
			RunTimeout: defaultRunTimeout,
			Models:     map[string]string{},
		},
		WebSocket: WebSocketConfig{
			SendBuffer:   defaultSendBuffer,
			WriteTimeout: defaultWriteTimeout,
			PingInterval: defaultPingInterval,
		},
		OTel: OTelConfig{Enabled: true},
	}
}

// Validate checks cross-field constraints that a single layer cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	switch c.LLM.Provider {
	case providerOpenAI, providerAnthropic, providerScripted:
	default:
		return fmt.Errorf("llm.provider %q: must be one of openai, anthropic, scripted", c.LLM.Provider)
	}
	if !strings.HasPrefix(c.Server.WebSocketPath, "/") {
		return fmt.Errorf("server.websocket_path %q: must start with /", c.Server.WebSocketPath)
	}
	if strings.HasPrefix(c.Server.WebSocketPath, "/api/") {
		return fmt.Errorf("server.websocket_path %q: must not shadow the /api/ routes", c.Server.WebSocketPath)
	}
	return nil
}

// ModelFor returns the model for provider: [llm.models] override, then llm.model, then empty so the
// adapter picks its default.
func (c LLMConfig) ModelFor(provider string) string {
	if model := strings.TrimSpace(c.Models[normalizeKey(provider)]); model != "" {
		return model
	}
	if normalizeKey(provider) == normalizeKey(c.Provider) {
		return strings.TrimSpace(c.Model)
	}
	return ""
}

// APIKeyEnvFor names the environment variable holding provider's key.
func (c LLMConfig) APIKeyEnvFor(provider string) string {
	if normalizeKey(provider) == normalizeKey(c.Provider) && strings.TrimSpace(c.APIKeyEnv) != "" {
		return strings.TrimSpace(c.APIKeyEnv)
	}
	return defaultAPIKeyEnv[normalizeKey(provider)]
}

// ResolveProvider returns the provider and model to use.
//
// When availability information is provided and the configured provider is unavailable (usually
// because its API key is unset), the resolver falls back to an available provider and returns a
// warning.
func (c *Config) ResolveProvider(availability map[string]bool) (string, string, []string, error) {
	if c == nil {
		return "", "", nil, errors.New("config must not be nil")
	}

	selected := normalizeKey(c.LLM.Provider)
	if selected == "" {
		selected = defaultProvider
	}

	warnings := []string{}
	if len(availability) == 0 {
		return selected, c.LLM.ModelFor(selected), warnings, nil
	}
	if available, ok := availability[selected]; ok && available {
		return selected, c.LLM.ModelFor(selected), warnings, nil
	}

	fallback := fallbackProvider(availability)
	if fallback == "" {
		return "", "", warnings, fmt.Errorf("configured provider %q unavailable and no fallback provider available", selected)
	}

	warnings = append(
		warnings,
		fmt.Sprintf("configured provider %q unavailable; falling back to %q", selected, fallback),
	)
	return fallback, c.LLM.ModelFor(fallback), warnings, nil
}

// Availability reports which providers can be constructed from the current environment.
func (c *Config) Availability() map[string]bool {
	availability := map[string]bool{providerScripted: true}
	for _, provider := range []string{providerOpenAI, providerAnthropic} {
		availability[provider] = strings.TrimSpace(os.Getenv(c.LLM.APIKeyEnvFor(provider))) != ""
	}
	return availability
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	meta, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("parse %s in %q: unsupported key", strings.Join(keys, ", "), path)
	}

	if decoded.LogLevel != nil {
		cfg.LogLevel = normalizeKey(*decoded.LogLevel)
	}
	applyServerOverrides(cfg, decoded.Server)
	if err := applyLLMOverrides(cfg, decoded.LLM, path); err != nil {
		return err
	}
	if err := applySessionsOverrides(cfg, decoded.Sessions, path); err != nil {
		return err
	}
	if err := applyWebSocketOverrides(cfg, decoded.WebSocket, path); err != nil {
		return err
	}
	if decoded.OTel != nil {
		if decoded.OTel.Enabled != nil {
			cfg.OTel.Enabled = *decoded.OTel.Enabled
		}
		if decoded.OTel.Endpoint != nil {
			cfg.OTel.Endpoint = strings.TrimSpace(*decoded.OTel.Endpoint)
		}
	}
	return nil
}

func applyServerOverrides(cfg *Config, decoded *fileServerConfig) {
	if decoded == nil {
		return
	}
	if decoded.Addr != nil {
		cfg.Server.Addr = strings.TrimSpace(*decoded.Addr)
	}
	if decoded.WebSocketPath != nil {
		cfg.Server.WebSocketPath = strings.TrimSpace(*decoded.WebSocketPath)
	}
	if decoded.AllowedOrigins != nil {
		origins := make([]string, 0, len(*decoded.AllowedOrigins))
		for _, origin := range *decoded.AllowedOrigins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
}

func applyLLMOverrides(cfg *Config, decoded *fileLLMConfig, path string) error {
	if decoded == nil {
		return nil
	}
	if decoded.Provider != nil {
		cfg.LLM.Provider = normalizeKey(*decoded.Provider)
	}
	if decoded.Model != nil {
		cfg.LLM.Model = strings.TrimSpace(*decoded.Model)
	}
	if decoded.APIKeyEnv != nil {
		cfg.LLM.APIKeyEnv = strings.TrimSpace(*decoded.APIKeyEnv)
	}
	if decoded.BaseURL != nil {
		cfg.LLM.BaseURL = strings.TrimSpace(*decoded.BaseURL)
	}
	if decoded.MaxTokens != nil {
		if *decoded.MaxTokens < 0 {
			return fmt.Errorf("parse llm.max_tokens in %q: must be >= 0", path)
		}
		cfg.LLM.MaxTokens = *decoded.MaxTokens
	}
	if decoded.RunTimeout != nil {
		value, err := parseDuration(*decoded.RunTimeout, "llm.run_timeout", path)
		if err != nil {
			return err
		}
		cfg.LLM.RunTimeout = value
	}
	if cfg.LLM.Models == nil {
		cfg.LLM.Models = map[string]string{}
	}
	for provider, model := range decoded.Models {
		cfg.LLM.Models[normalizeKey(provider)] = strings.TrimSpace(model)
	}
	return nil
}

func applySessionsOverrides(cfg *Config, decoded *fileSessionsConfig, path string) error {
	if decoded == nil || decoded.MaxSessions == nil {
		return nil
	}
	if *decoded.MaxSessions < 0 {
		return fmt.Errorf("parse sessions.max_sessions in %q: must be >= 0", path)
	}
	cfg.Sessions.MaxSessions = *decoded.MaxSessions
	return nil
}

func applyWebSocketOverrides(cfg *Config, decoded *fileWebSocketConfig, path string) error {
	if decoded == nil {
		return nil
	}
	if decoded.SendBuffer != nil {
		if *decoded.SendBuffer <= 0 {
			return fmt.Errorf("parse websocket.send_buffer in %q: must be > 0", path)
		}
		cfg.WebSocket.SendBuffer = *decoded.SendBuffer
	}
	if decoded.WriteTimeout != nil {
		value, err := parseDuration(*decoded.WriteTimeout, "websocket.write_timeout", path)
		if err != nil {
			return err
		}
		cfg.WebSocket.WriteTimeout = value
	}
	if decoded.PingInterval != nil {
		value, err := parseDuration(*decoded.PingInterval, "websocket.ping_interval", path)
		if err != nil {
			return err
		}
		cfg.WebSocket.PingInterval = value
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv(EnvAddr)); value != "" {
		cfg.Server.Addr = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvProvider)); value != "" {
		cfg.LLM.Provider = normalizeKey(value)
	}
	if value := strings.TrimSpace(os.Getenv(EnvModel)); value != "" {
		cfg.LLM.Model = value
	}
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func fallbackProvider(availability map[string]bool) string {
	for _, preferred := range []string{providerOpenAI, providerAnthropic} {
		if availability[preferred] {
			return preferred
		}
	}

	keys := make([]string, 0, len(availability))
	for key := range availability {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if availability[key] {
			return key
		}
	}
	return ""
}
