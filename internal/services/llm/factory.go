package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/interfaces"
)

// NewLLMService creates the configured generative backend, selected by
// the model override (provider prefix or model name pattern) falling
// back to the configured default provider.
//
// A nil service with a nil error means no backend is configured (no
// API key for the selected provider); callers treat that as "use the
// deterministic pathway", not as a failure.
func NewLLMService(cfg *common.Config, model string, logger arbor.ILogger) (interfaces.LLMService, error) {
	provider := DetectProvider(model, cfg.LLM.DefaultProvider)

	switch provider {
	case ProviderClaude:
		if cfg.LLM.Claude.APIKey == "" {
			logger.Info().Msg("No Anthropic API key configured, generative pathway disabled")
			return nil, nil
		}
		return NewClaudeService(&cfg.LLM.Claude, NormalizeModel(model), logger)

	case ProviderGemini:
		if cfg.LLM.Gemini.APIKey == "" {
			logger.Info().Msg("No Gemini API key configured, generative pathway disabled")
			return nil, nil
		}
		return NewGeminiService(&cfg.LLM.Gemini, NormalizeModel(model), logger)

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", provider)
	}
}
