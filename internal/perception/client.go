// Package perception holds the LLM clients. Every client answers the same
// question (a system prompt plus a user prompt) and reports token usage so
// the caller can price the call.
package perception

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrNoAPIKey is returned when a client is used without credentials.
var ErrNoAPIKey = errors.New("API key not configured")

const defaultSystemPrompt = "You are a careful data analyst. Reply with a single JSON object."

// Provider names a backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// retryPolicy bounds retries of rate-limited or transient failures.
type retryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

var defaultRetry = retryPolicy{MaxRetries: 3, Backoff: time.Second}

// throttle spaces consecutive requests from one client.
type throttle struct {
	mu   sync.Mutex
	last time.Time
	gap  time.Duration
}

func (t *throttle) wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elapsed := time.Since(t.last); elapsed < t.gap {
		time.Sleep(t.gap - elapsed)
	}
	t.last = time.Now()
}

// withDefaultTimeout applies timeout when ctx carries no deadline.
func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// retry runs call until it succeeds, returns a permanent error or the policy
// is exhausted. retryable decides which errors are worth another attempt.
func retry(ctx context.Context, p retryPolicy, retryable func(error) bool, call func() error) error {
	var lastErr error
	for i := 0; i <= p.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(p.Backoff * time.Duration(1<<uint(i-1))):
			}
		}
		err := call()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func systemOrDefault(system string) string {
	if strings.TrimSpace(system) == "" {
		return defaultSystemPrompt
	}
	return system
}
