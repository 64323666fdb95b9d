package llm

import (
	"fmt"

	"github.com/openshift/sippy-chat/internal/config"
)

// NewProvider creates the provider selected by cfg.Provider.
// Providers are wrapped with automatic retry for rate limits (429) and transient errors.
func NewProvider(cfg *config.Config) (Provider, error) {
	provider, err := newProviderInternal(cfg)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(provider, retryConfigFrom(cfg.Retry)), nil
}

func newProviderInternal(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg.Anthropic.APIKey, chooseModel(cfg.Model, "claude-sonnet-4-5"), "")
	case config.ProviderGemini:
		return NewGeminiProvider(cfg.Gemini.APIKey, cfg.Model, "")
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.Model, cfg.LLMEndpoint)
	case config.ProviderOllama:
		return NewOllamaProvider(cfg.Model, cfg.LLMEndpoint)
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownProvider, cfg.Provider)
	}
}

func retryConfigFrom(rc config.RetryConfig) RetryConfig {
	out := DefaultRetryConfig()
	if rc.MaxAttempts > 0 {
		out.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelay > 0 {
		out.BaseBackoff = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		out.MaxBackoff = rc.MaxDelay
	}
	return out
}
