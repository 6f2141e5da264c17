package config

import (
	"fmt"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/agent/providers"
)

// BuildProviders constructs one backend adapter per configured provider.
// The reporter receives normalized failures from every adapter; it may be nil.
func BuildProviders(cfg *Config, reporter providers.ErrorReporter) (map[string]agent.LLMProvider, error) {
	built := make(map[string]agent.LLMProvider, len(cfg.LLM.Providers))
	for name, pc := range cfg.LLM.Providers {
		provider, err := buildProvider(name, pc, cfg.Stream, reporter)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		built[name] = provider
	}
	return built, nil
}

func buildProvider(name string, pc LLMProviderConfig, stream StreamConfig, reporter providers.ErrorReporter) (agent.LLMProvider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:                 pc.APIKey,
			BaseURL:                pc.BaseURL,
			DefaultModel:           pc.DefaultModel,
			MaxRetries:             pc.MaxRetries,
			RetryDelay:             pc.RetryDelay,
			RedactionSentinel:      stream.RedactionSentinel,
			CacheEligibleUserTurns: stream.CacheUserTurns,
			Reporter:               reporter,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:            pc.APIKey,
			BaseURL:           pc.BaseURL,
			DefaultModel:      pc.DefaultModel,
			MaxRetries:        pc.MaxRetries,
			RetryDelay:        pc.RetryDelay,
			RedactionSentinel: stream.RedactionSentinel,
			Reporter:          reporter,
		})
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:            pc.APIKey,
			DefaultModel:      pc.DefaultModel,
			MaxRetries:        pc.MaxRetries,
			RetryDelay:        pc.RetryDelay,
			RedactionSentinel: stream.RedactionSentinel,
			Reporter:          reporter,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:            pc.Region,
			AccessKeyID:       pc.AccessKeyID,
			SecretAccessKey:   pc.SecretAccessKey,
			SessionToken:      pc.SessionToken,
			DefaultModel:      pc.DefaultModel,
			MaxRetries:        pc.MaxRetries,
			RetryDelay:        pc.RetryDelay,
			RedactionSentinel: stream.RedactionSentinel,
			Reporter:          reporter,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
