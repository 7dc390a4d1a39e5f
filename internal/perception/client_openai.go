package perception

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional, for compatible gateways
	Model       string
	Temperature float32
	Timeout     time.Duration
	// JSONMode asks the API for a JSON object reply.
	JSONMode bool
	Logger   *zap.Logger
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:   apiKey,
		Model:    "gpt-4.1-mini",
		Timeout:  2 * time.Minute,
		JSONMode: true,
	}
}

// OpenAIClient implements types.LLMClient for the OpenAI chat completions API.
type OpenAIClient struct {
	client   *openai.Client
	cfg      OpenAIConfig
	retry    retryPolicy
	throttle throttle
	logger   *zap.Logger
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIConfig("").Model
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(oc),
		cfg:      cfg,
		retry:    defaultRetry,
		throttle: throttle{gap: 100 * time.Millisecond},
		logger:   cfg.Logger,
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// CompleteWithSystem sends a prompt with a system message.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*types.Completion, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	ctx, cancel := withDefaultTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	c.logger.Debug("openai request", zap.String("model", c.cfg.Model), zap.Int("system_len", len(systemPrompt)), zap.Int("user_len", len(userPrompt)))

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemOrDefault(systemPrompt)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: c.cfg.Temperature,
	}
	if c.cfg.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var resp openai.ChatCompletionResponse
	err := retry(ctx, c.retry, openaiRetryable, func() error {
		c.throttle.wait()
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		c.logger.Warn("openai request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	out := &types.Completion{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: model,
		Usage: types.UsageMetadata{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	c.logger.Debug("openai response", zap.Duration("elapsed", time.Since(start)), zap.Int("response_len", len(out.Text)), zap.Int("tokens", out.Usage.TotalTokens))
	return out, nil
}

func openaiRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}
