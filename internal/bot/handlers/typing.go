package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	typingInterval      = 4 * time.Second
	typingActionTimeout = 3 * time.Second
)

// keepTyping shows the typing indicator in msg's chat until the returned
// function is called. Failures only affect the indicator.
func keepTyping(ctx context.Context, b *bot.Bot, msg *models.Message, logger *slog.Logger) func() {
	typingCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()

		for {
			sendTyping(typingCtx, b, msg, logger)
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func sendTyping(ctx context.Context, b *bot.Bot, msg *models.Message, logger *slog.Logger) {
	actionCtx, cancel := context.WithTimeout(ctx, typingActionTimeout)
	defer cancel()

	params := &bot.SendChatActionParams{ChatID: msg.Chat.ID, Action: models.ChatActionTyping}
	if msg.IsTopicMessage {
		params.MessageThreadID = msg.MessageThreadID
	}
	if _, err := b.SendChatAction(actionCtx, params); err != nil && ctx.Err() == nil {
		logger.DebugContext(ctx, "Typing action failed", "error", err, "chat_id", msg.Chat.ID)
	}
}
