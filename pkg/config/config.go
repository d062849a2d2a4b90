// Package config defines the engine's configuration object.
//
// A Config is built once at startup (Load, or Default for tests and tools)
// and handed to each component through its constructor. Nothing in the
// engine reads the environment or a global after startup.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// LLM provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Secret-bearing environment variables.
const (
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvGoogleAPIKey     = "GEMINI_API_KEY"
	EnvOllamaHost       = "OLLAMA_HOST"
	EnvWhatsAppToken    = "WHATSAPP_ACCESS_TOKEN"
	EnvWhatsAppSecret   = "WHATSAPP_APP_SECRET"
	EnvWhatsAppVerify   = "WHATSAPP_VERIFY_TOKEN"
	EnvLinkSecret       = "SGI_LINK_SECRET"
	EnvChatAPIToken     = "SGI_CHAT_TOKEN"
	EnvDatabasePath     = "SGI_DB_PATH"
	EnvListenAddr       = "SGI_ADDR"
	EnvPublicBaseURL    = "SGI_PUBLIC_URL"
	EnvDashboardURL     = "SGI_DASHBOARD_URL"
	EnvLLMProvider      = "SGI_LLM_PROVIDER"
	EnvLLMModel         = "SGI_LLM_MODEL"
	minLinkSecretLength = 16
)

// ErrMissingSecret is returned by Validate when a required secret is empty.
var ErrMissingSecret = errors.New("missing secret")

// Config is the full engine configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	WhatsApp     WhatsAppConfig     `yaml:"whatsapp"`
	ChatAPI      ChatAPIConfig      `yaml:"chat_api"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	MagicLink    MagicLinkConfig    `yaml:"magic_link"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	PublicBaseURL   string        `yaml:"public_base_url"` // origin that serves /l/{token}
	DashboardURL    string        `yaml:"dashboard_url"`   // origin of the web dashboard
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WhatsAppConfig holds the messaging-platform credentials.
type WhatsAppConfig struct {
	Enabled       bool          `yaml:"enabled"`
	VerifyToken   string        `yaml:"verify_token"`
	AppSecret     string        `yaml:"app_secret"`
	AccessToken   string        `yaml:"access_token"`
	PhoneNumberID string        `yaml:"phone_number_id"`
	APIBaseURL    string        `yaml:"api_base_url"`
	APIVersion    string        `yaml:"api_version"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ChatAPIConfig protects the internal chat endpoint.
type ChatAPIConfig struct {
	Token string `yaml:"token"`
}

// LLMConfig selects and tunes the natural-language model.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Host        string        `yaml:"host"` // ollama server, or API base URL override
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`

	// Local usage caps, zero means unlimited.
	MaxTokensPerMinute int `yaml:"max_tokens_per_minute"`
	MaxConcurrent      int `yaml:"max_concurrent"`
}

// OrchestratorConfig bounds a single conversational turn.
type OrchestratorConfig struct {
	TurnTimeout      time.Duration `yaml:"turn_timeout"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	HistoryTurns     int           `yaml:"history_turns"`
	HistoryTokens    int           `yaml:"history_tokens"`
	MaxToolRounds    int           `yaml:"max_tool_rounds"`
	MenuMaxRows      int           `yaml:"menu_max_rows"`
	LinkRowThreshold int           `yaml:"link_row_threshold"`
	DeliveryTTL      time.Duration `yaml:"delivery_ttl"`
}

// MagicLinkConfig configures token sealing and lifetime.
type MagicLinkConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// LoggingConfig mirrors the DEBUG / DEBUG_DOMAINS switches.
type LoggingConfig struct {
	Debug   bool     `yaml:"debug"`
	Domains []string `yaml:"domains"`
}

// Default returns a configuration with every default applied and no secrets.
func Default() Config {
	var c Config
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = "http://localhost:8080"
	}
	if c.Server.DashboardURL == "" {
		c.Server.DashboardURL = "http://localhost:3000"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "sgi.db"
	}
	if c.WhatsApp.APIBaseURL == "" {
		c.WhatsApp.APIBaseURL = "https://graph.facebook.com"
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v21.0"
	}
	if c.WhatsApp.Timeout == 0 {
		c.WhatsApp.Timeout = 10 * time.Second
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderAnthropic
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel(c.LLM.Provider)
	}
	if c.LLM.Provider == ProviderOllama && c.LLM.Host == "" {
		c.LLM.Host = "http://localhost:11434"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.LLM.MaxAttempts == 0 {
		c.LLM.MaxAttempts = 2
	}
	o := &c.Orchestrator
	if o.TurnTimeout == 0 {
		o.TurnTimeout = 60 * time.Second
	}
	if o.ToolTimeout == 0 {
		o.ToolTimeout = 10 * time.Second
	}
	if o.HistoryTurns == 0 {
		o.HistoryTurns = 10
	}
	if o.HistoryTokens == 0 {
		o.HistoryTokens = 2000
	}
	if o.MaxToolRounds == 0 {
		o.MaxToolRounds = 2
	}
	if o.MenuMaxRows == 0 {
		o.MenuMaxRows = 10
	}
	if o.LinkRowThreshold == 0 {
		o.LinkRowThreshold = 10
	}
	if o.DeliveryTTL == 0 {
		o.DeliveryTTL = 24 * time.Hour
	}
	if c.MagicLink.TTL == 0 {
		c.MagicLink.TTL = 7 * 24 * time.Hour
	}
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4.1-mini"
	case ProviderGoogle:
		return "gemini-2.5-flash"
	case ProviderOllama:
		return "llama3.1"
	default:
		return "claude-sonnet-4-5"
	}
}

// Validate checks structural consistency and required secrets.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm api key for provider %s: %w", c.LLM.Provider, ErrMissingSecret)
		}
	case ProviderOllama:
		if _, err := url.Parse(c.LLM.Host); err != nil {
			return fmt.Errorf("invalid ollama host %q: %w", c.LLM.Host, err)
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokensPerMinute < 0 || c.LLM.MaxConcurrent < 0 {
		return fmt.Errorf("llm usage caps cannot be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be within [0,2] (got %.2f)", c.LLM.Temperature)
	}

	if len(c.MagicLink.Secret) < minLinkSecretLength {
		return fmt.Errorf("magic_link secret must be at least %d characters: %w", minLinkSecretLength, ErrMissingSecret)
	}

	for name, raw := range map[string]string{
		"server.public_base_url": c.Server.PublicBaseURL,
		"server.dashboard_url":   c.Server.DashboardURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL (got %q)", name, raw)
		}
	}

	if c.WhatsApp.Enabled {
		if c.WhatsApp.AccessToken == "" || c.WhatsApp.AppSecret == "" || c.WhatsApp.VerifyToken == "" {
			return fmt.Errorf("whatsapp access_token, app_secret and verify_token: %w", ErrMissingSecret)
		}
		if c.WhatsApp.PhoneNumberID == "" {
			return fmt.Errorf("whatsapp phone_number_id is required when enabled")
		}
	}

	o := c.Orchestrator
	if o.MenuMaxRows > 10 {
		return fmt.Errorf("orchestrator.menu_max_rows cannot exceed 10 (got %d)", o.MenuMaxRows)
	}
	if o.MaxToolRounds < 1 {
		return fmt.Errorf("orchestrator.max_tool_rounds must be positive")
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.WhatsApp.AccessToken = mask(c.WhatsApp.AccessToken)
	c.WhatsApp.AppSecret = mask(c.WhatsApp.AppSecret)
	c.WhatsApp.VerifyToken = mask(c.WhatsApp.VerifyToken)
	c.MagicLink.Secret = mask(c.MagicLink.Secret)
	c.ChatAPI.Token = mask(c.ChatAPI.Token)
	return c
}

// DashboardBase returns the dashboard URL without a trailing slash.
func (c *Config) DashboardBase() string {
	return strings.TrimRight(c.Server.DashboardURL, "/")
}
