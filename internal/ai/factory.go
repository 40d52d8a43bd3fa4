package ai

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/edgard/talebot/internal/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// NewBackend selects the backend named by cfg.Provider and wraps it with the
// configured retry and circuit breaker.
func NewBackend(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch cfg.Provider {
	case "", "openai":
		b := newOpenAIBackend(cfg.Token, cfg.BaseURL, cfg.Model, cfg.Temperature)
		return withResilience(b, "openai", cfg.Retry, cfg.Breaker, logger), nil
	case "gemini":
		// base_url defaults to the OpenAI endpoint, which the genai SDK must not use.
		baseURL := cfg.BaseURL
		if baseURL == defaultOpenAIBaseURL {
			baseURL = ""
		}
		b, err := newGeminiBackend(ctx, cfg.Token, baseURL, cfg.Model, cfg.Temperature)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini backend: %w", err)
		}
		return withResilience(b, "gemini", cfg.Retry, cfg.Breaker, logger), nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", cfg.Provider)
	}
}
