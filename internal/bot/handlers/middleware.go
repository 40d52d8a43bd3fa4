// Package handlers contains Telegram bot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"
	"errors"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/talebot/internal/database"
)

// AdminOnly lets the update through only when the sender's stored identity
// holds the admin flag. Everyone else gets the not-authorized reply.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	log := deps.Logger.With("middleware", "AdminOnly")

	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			msg := update.Message
			if msg == nil {
				return
			}

			allowed := false
			if msg.From != nil {
				invoker, err := deps.Store.GetIdentity(ctx, database.KindUser, msg.From.ID)
				switch {
				case err == nil:
					allowed = invoker.IsAdmin
				case errors.Is(err, database.ErrNotFound):
					// unseen users are never admins
				default:
					log.ErrorContext(ctx, "Failed to look up invoker", "error", err, "user_id", msg.From.ID)
				}
			}

			if !allowed {
				var userID int64
				if msg.From != nil {
					userID = msg.From.ID
				}
				log.WarnContext(ctx, "Unauthorized access attempt", "user_id", userID, "chat_id", msg.Chat.ID)
				if err := reply(ctx, b, msg.Chat.ID, deps.Config.Messages.NotAuthorized); err != nil {
					log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", msg.Chat.ID)
				}
				return
			}

			next(ctx, b, update)
		}
	}
}

// Ingest persists the command message like any other chat message before
// handing it on. A failed save is logged and does not block the command.
func Ingest(deps HandlerDeps) tgbot.Middleware {
	log := deps.Logger.With("middleware", "Ingest")

	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if msg := update.Message; msg != nil && msg.Text != "" {
				if _, err := ingestMessage(ctx, deps, msg); err != nil {
					log.ErrorContext(ctx, "Failed to ingest command message", "error", err, "chat_id", msg.Chat.ID, "message_id", msg.ID)
				}
			}
			next(ctx, b, update)
		}
	}
}
