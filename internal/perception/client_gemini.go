package perception

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string // optional, used by tests and proxies
	Model       string
	Temperature float32
	Timeout     time.Duration
	JSONMode    bool
	Logger      *zap.Logger
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:   apiKey,
		Model:    "gemini-2.5-flash",
		Timeout:  2 * time.Minute,
		JSONMode: true,
	}
}

// GeminiClient implements types.LLMClient for the Gemini API.
type GeminiClient struct {
	client   *genai.Client
	cfg      GeminiConfig
	retry    retryPolicy
	throttle throttle
	logger   *zap.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiConfig("").Model
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:   client,
		cfg:      cfg,
		retry:    defaultRetry,
		throttle: throttle{gap: 100 * time.Millisecond},
		logger:   cfg.Logger,
	}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.cfg.Model }

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*types.Completion, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	c.logger.Debug("gemini request", zap.String("model", c.cfg.Model), zap.Int("system_len", len(systemPrompt)), zap.Int("user_len", len(userPrompt)))

	temp := c.cfg.Temperature
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemOrDefault(systemPrompt), genai.RoleUser),
		Temperature:       &temp,
	}
	if c.cfg.JSONMode {
		gc.ResponseMIMEType = "application/json"
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	var resp *genai.GenerateContentResponse
	err := retry(ctx, c.retry, geminiRetryable, func() error {
		c.throttle.wait()
		var err error
		resp, err = c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, gc)
		return err
	})
	if err != nil {
		c.logger.Warn("gemini request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, fmt.Errorf("gemini completion failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("no completion returned")
	}

	out := &types.Completion{Text: text, Model: c.cfg.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = types.UsageMetadata{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	c.logger.Debug("gemini response", zap.Duration("elapsed", time.Since(start)), zap.Int("response_len", len(out.Text)), zap.Int("tokens", out.Usage.TotalTokens))
	return out, nil
}

func geminiRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}
