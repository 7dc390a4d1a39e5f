package perception

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/config"
	"github.com/Rigel0718/transcript-insight/internal/types"
)

// NewClientFromConfig creates the provider client described by cfg.
func NewClientFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (types.LLMClient, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("%w (set OPENAI_API_KEY or GEMINI_API_KEY)", ErrNoAPIKey)
	}

	switch Provider(cfg.LLM.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.ModelName(),
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.GetLLMTimeout(),
			JSONMode:    true,
			Logger:      logger,
		}), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.ModelName(),
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.GetLLMTimeout(),
			JSONMode:    true,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.LLM.Provider)
	}
}
