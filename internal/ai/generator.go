// Package ai generates chat replies through a pluggable language-model backend.
package ai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/talebot/internal/conversation"
)

const (
	fallbackReply    = "I am not sure how to respond to that."
	fallbackGreeting = "Welcome!"
)

// Backend sends a role-tagged prompt to a language model and returns every
// candidate completion in the order the model produced them.
type Backend interface {
	Complete(ctx context.Context, turns []conversation.Turn) ([]string, error)
}

// GenerationError reports a failed backend call.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("ai %s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generator wraps a Backend with the bot persona and reply fallbacks.
type Generator struct {
	backend Backend
	persona string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGenerator creates a Generator. A zero timeout leaves calls bounded only by ctx.
func NewGenerator(backend Backend, persona string, timeout time.Duration, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{
		backend: backend,
		persona: persona,
		timeout: timeout,
		logger:  logger.With("component", "reply_generator"),
	}
}

// Generate returns a reply for the conversation window turns.
func (g *Generator) Generate(ctx context.Context, turns []conversation.Turn) (string, error) {
	prompt := make([]conversation.Turn, 0, len(turns)+1)
	prompt = append(prompt, conversation.Turn{Role: conversation.RoleSystem, Content: g.persona})
	prompt = append(prompt, turns...)

	return g.complete(ctx, "generate", prompt, fallbackReply)
}

// GenerateGreeting returns a welcome message addressed to name.
func (g *Generator) GenerateGreeting(ctx context.Context, name string) (string, error) {
	prompt := []conversation.Turn{
		{Role: conversation.RoleSystem, Content: g.persona},
		{Role: conversation.RoleUser, Content: fmt.Sprintf("Write a short welcome message for %s, who just started chatting with you.", name)},
	}

	return g.complete(ctx, "greeting", prompt, fallbackGreeting)
}

func (g *Generator) complete(ctx context.Context, op string, prompt []conversation.Turn, fallback string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	candidates, err := g.backend.Complete(ctx, prompt)
	if err != nil {
		return "", &GenerationError{Op: op, Err: err}
	}

	if len(candidates) == 0 {
		g.logger.WarnContext(ctx, "Backend returned no candidates, using fallback", "op", op)
		return fallback, nil
	}

	reply := strings.TrimSpace(candidates[len(candidates)-1])
	if reply == "" {
		g.logger.WarnContext(ctx, "Backend returned an empty reply, using fallback", "op", op)
		return fallback, nil
	}

	g.logger.DebugContext(ctx, "Reply generated",
		"op", op,
		"turns", len(prompt),
		"candidates", len(candidates),
		"duration", time.Since(start))
	return reply, nil
}
