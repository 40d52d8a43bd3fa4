package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/talebot/internal/ai"
)

const startCommand = "/start"

// NewMessageHandler returns the default handler: it stores every text message
// and answers it with a generated reply.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return withErrorLog(deps, "message", messageHandler{deps}.Handle)
}

type messageHandler struct {
	deps HandlerDeps
}

func (h messageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) error {
	log := h.deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil || msg.Text == "" {
		log.DebugContext(ctx, "Ignoring non-text update", "update_id", update.ID)
		return nil
	}

	chat, err := ingestMessage(ctx, h.deps, msg)
	if err != nil {
		return err
	}

	if strings.HasPrefix(msg.Text, startCommand) {
		return nil
	}

	turns, err := h.deps.Builder.Build(ctx, chat.ExternalID, msg.Text)
	if err != nil {
		return fmt.Errorf("failed to build context: %w", err)
	}

	stopTyping := keepTyping(ctx, b, msg, h.deps.Logger)
	text, err := h.deps.Generator.Generate(ctx, turns)
	stopTyping()
	if err != nil {
		var genErr *ai.GenerationError
		if !errors.As(err, &genErr) {
			return fmt.Errorf("failed to generate reply: %w", err)
		}
		log.ErrorContext(ctx, "Reply generation failed", "error", err, "chat_id", chat.ExternalID)
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.GenerationError)
	}

	return sendAndSaveReply(ctx, b, h.deps, msg, text)
}
