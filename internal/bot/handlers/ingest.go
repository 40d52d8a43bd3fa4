package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/talebot/internal/database"
)

const sendMessageTimeout = 10 * time.Second

// errHandlerFunc is a handler that reports failures instead of logging them itself.
type errHandlerFunc func(ctx context.Context, b *bot.Bot, update *models.Update) error

// withErrorLog adapts h to bot.HandlerFunc, logging any returned error with
// the update's chat and sender.
func withErrorLog(deps HandlerDeps, name string, h errHandlerFunc) bot.HandlerFunc {
	log := deps.Logger.With("handler", name)
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if err := h(ctx, b, update); err != nil {
			attrs := []any{"error", err, "update_id", update.ID}
			if msg := update.Message; msg != nil {
				attrs = append(attrs, "chat_id", msg.Chat.ID, "message_id", msg.ID)
				if msg.From != nil {
					attrs = append(attrs, "user_id", msg.From.ID)
				}
			}
			log.ErrorContext(ctx, "Handler failed", attrs...)
		}
	}
}

// ingestMessage resolves the chat, the sender and the sender chat of msg, then
// persists msg. It returns the chat identity.
func ingestMessage(ctx context.Context, deps HandlerDeps, msg *models.Message) (database.Identity, error) {
	chat, err := deps.Resolver.Chat(ctx, msg.Chat)
	if err != nil {
		return database.Identity{}, fmt.Errorf("failed to resolve chat: %w", err)
	}

	record := messageRecord(msg)

	if msg.From != nil {
		sender, err := deps.Resolver.User(ctx, msg.From)
		if err != nil {
			return database.Identity{}, fmt.Errorf("failed to resolve sender: %w", err)
		}
		record.SenderUserID = sql.NullInt64{Int64: sender.ExternalID, Valid: true}
	}

	if msg.SenderChat != nil {
		senderChat, err := deps.Resolver.Chat(ctx, *msg.SenderChat)
		if err != nil {
			return database.Identity{}, fmt.Errorf("failed to resolve sender chat: %w", err)
		}
		record.SenderChatID = sql.NullInt64{Int64: senderChat.ExternalID, Valid: true}
	}

	if err := deps.Store.SaveMessage(ctx, record); err != nil {
		return database.Identity{}, fmt.Errorf("failed to save inbound message: %w", err)
	}
	return chat, nil
}

// messageRecord maps a transport message onto a Message row without sender fields.
func messageRecord(msg *models.Message) *database.Message {
	record := &database.Message{
		MessageID:      int64(msg.ID),
		ChatID:         msg.Chat.ID,
		SentAt:         int64(msg.Date),
		ReplyMarkup:    encodeReplyMarkup(msg.ReplyMarkup),
		IsTopicMessage: msg.IsTopicMessage,
	}
	if msg.Text != "" {
		record.Text = sql.NullString{String: msg.Text, Valid: true}
	}
	if msg.MessageThreadID != 0 {
		record.ThreadID = sql.NullInt64{Int64: int64(msg.MessageThreadID), Valid: true}
	}
	return record
}

// encodeReplyMarkup stores reply markup as JSON, treating an empty keyboard as absent.
func encodeReplyMarkup(markup any) sql.NullString {
	raw, err := json.Marshal(markup)
	if err != nil {
		return sql.NullString{}
	}
	switch string(raw) {
	case "null", "{}", `{"inline_keyboard":null}`, `{"inline_keyboard":[]}`:
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// sendAndSaveReply sends text to the chat of inbound and persists the sent
// message with the bot as sender. A failed send is returned; a failed save is
// only logged because the user already has the reply.
func sendAndSaveReply(ctx context.Context, b *bot.Bot, deps HandlerDeps, inbound *models.Message, text string) error {
	log := deps.Logger.With("handler", "reply")

	params := &bot.SendMessageParams{
		ChatID: inbound.Chat.ID,
		Text:   text,
	}
	if inbound.IsTopicMessage {
		params.MessageThreadID = inbound.MessageThreadID
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()
	sent, err := b.SendMessage(sendCtx, params)
	if err != nil {
		return fmt.Errorf("failed to send reply to chat %d: %w", inbound.Chat.ID, err)
	}
	log.InfoContext(ctx, "Sent reply", "chat_id", inbound.Chat.ID, "message_id", sent.ID)

	record := messageRecord(sent)
	if record.ChatID == 0 {
		record.ChatID = inbound.Chat.ID
	}
	if !record.Text.Valid {
		record.Text = sql.NullString{String: text, Valid: true}
	}
	record.SenderUserID = sql.NullInt64{Int64: deps.BotIdentity.ExternalID, Valid: true}

	if err := deps.Store.SaveMessage(ctx, record); err != nil {
		log.ErrorContext(ctx, "Failed to save bot reply", "error", err, "chat_id", record.ChatID, "message_id", record.MessageID)
	}
	return nil
}

// reply sends a plain notice that is not part of the conversation history.
func reply(ctx context.Context, b *bot.Bot, chatID int64, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	if _, err := b.SendMessage(sendCtx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("failed to send notice to chat %d: %w", chatID, err)
	}
	return nil
}
