// Package providers builds the configured model client wrapped in the
// standard middleware chain.
package providers

import (
	"fmt"
	"net/http"

	"sgi/pkg/config"
	"sgi/pkg/limiter"
	"sgi/pkg/llm"
	"sgi/pkg/llm/internal/llmimpl/anthropic"
	"sgi/pkg/llm/internal/llmimpl/google"
	"sgi/pkg/llm/internal/llmimpl/ollama"
	"sgi/pkg/llm/internal/llmimpl/openaiofficial"
	"sgi/pkg/llm/middleware"
	"sgi/pkg/logx"
	"sgi/pkg/metrics"
	"sgi/pkg/utils"
)

// NewRaw creates the bare provider client for cfg.
func NewRaw(cfg config.LLMConfig) (llm.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(cfg.APIKey, cfg.Model, cfg.Host), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(cfg.APIKey, cfg.Model, cfg.Host), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(cfg.APIKey, cfg.Model), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(cfg.Host, cfg.Model, &http.Client{})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// New creates the provider client and wraps it:
// Metrics -> RateLimit -> Retry -> RejectEmpty -> Timeout -> provider.
// RateLimit is only present when a usage cap is configured.
func New(cfg config.LLMConfig, recorder metrics.Recorder) (llm.LLMClient, error) {
	raw, err := NewRaw(cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(raw, cfg, recorder), nil
}

// Wrap applies the standard middleware chain to an existing client.
func Wrap(raw llm.LLMClient, cfg config.LLMConfig, recorder metrics.Recorder) llm.LLMClient {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		logx.NewLogger("llm").Warn("token counter unavailable, estimating from length: %v", err)
		counter = nil
	}

	retryCfg := middleware.DefaultRetryConfig
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}

	chain := []llm.Middleware{middleware.Metrics(recorder, counter)}
	if cfg.MaxTokensPerMinute > 0 || cfg.MaxConcurrent > 0 {
		chain = append(chain, middleware.RateLimit(limiter.New(limiter.Config{
			TokensPerMinute: cfg.MaxTokensPerMinute,
			MaxConcurrent:   cfg.MaxConcurrent,
		}), counter))
	}
	chain = append(chain,
		middleware.Retry(middleware.NewRetryPolicy(retryCfg, nil)),
		middleware.RejectEmpty(),
		middleware.Timeout(cfg.Timeout),
	)
	return llm.Chain(raw, chain...)
}
