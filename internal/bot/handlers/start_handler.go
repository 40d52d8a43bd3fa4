package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/talebot/internal/ai"
	"github.com/edgard/talebot/internal/identity"
)

const fallbackGreeting = "Welcome!"

// NewStartHandler returns a handler for the /start command. It greets the
// sender by name; the /start message itself is not stored.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return withErrorLog(deps, "start", startHandler{deps}.Handle)
}

type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) error {
	log := h.deps.Logger.With("handler", "start")

	msg := update.Message
	if msg == nil {
		log.DebugContext(ctx, "Start handler received update without message", "update_id", update.ID)
		return nil
	}

	chat, err := h.deps.Resolver.Chat(ctx, msg.Chat)
	if err != nil {
		return fmt.Errorf("failed to resolve chat: %w", err)
	}

	name := chat.DisplayName
	if msg.From != nil {
		name = identity.FromUser(msg.From).DisplayName
	}

	log.InfoContext(ctx, "Handling /start command", "chat_id", chat.ExternalID, "name", name)

	greeting, err := h.deps.Generator.GenerateGreeting(ctx, name)
	if err != nil {
		var genErr *ai.GenerationError
		if !errors.As(err, &genErr) {
			return fmt.Errorf("failed to generate greeting: %w", err)
		}
		log.WarnContext(ctx, "Greeting generation failed, using fallback", "error", err)
		greeting = fallbackGreeting
	}

	return sendAndSaveReply(ctx, b, h.deps, msg, greeting)
}
