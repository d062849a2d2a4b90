package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Getenv looks up an environment variable. os.Getenv satisfies it.
type Getenv func(key string) string

// Load reads a YAML file, expands ${VAR} placeholders, applies environment
// overrides and defaults, then validates. An empty path skips the file.
func Load(path string, getenv Getenv) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		data = raw
	}

	cfg, err := Parse(data, getenv)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML and applies env overrides and defaults without validating.
func Parse(data []byte, getenv Getenv) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var cfg Config
	if len(bytes.TrimSpace(data)) > 0 {
		expanded := os.Expand(string(data), func(key string) string { return getenv(key) })
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}

	applyEnv(&cfg, getenv)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(c *Config, getenv Getenv) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Server.Addr, EnvListenAddr)
	set(&c.Server.PublicBaseURL, EnvPublicBaseURL)
	set(&c.Server.DashboardURL, EnvDashboardURL)
	set(&c.Database.Path, EnvDatabasePath)
	set(&c.LLM.Provider, EnvLLMProvider)
	set(&c.LLM.Model, EnvLLMModel)
	set(&c.MagicLink.Secret, EnvLinkSecret)
	set(&c.ChatAPI.Token, EnvChatAPIToken)
	set(&c.WhatsApp.AccessToken, EnvWhatsAppToken)
	set(&c.WhatsApp.AppSecret, EnvWhatsAppSecret)
	set(&c.WhatsApp.VerifyToken, EnvWhatsAppVerify)

	// Provider keys only fill an empty api_key so a file value wins.
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic, "":
			set(&c.LLM.APIKey, EnvAnthropicAPIKey)
		case ProviderOpenAI:
			set(&c.LLM.APIKey, EnvOpenAIAPIKey)
		case ProviderGoogle:
			set(&c.LLM.APIKey, EnvGoogleAPIKey)
		}
	}
	if c.LLM.Provider == ProviderOllama && c.LLM.Host == "" {
		set(&c.LLM.Host, EnvOllamaHost)
	}
}
