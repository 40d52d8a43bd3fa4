package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// commandArgs returns the whitespace-separated words after the command.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// parseID accepts Bot API style ids, including negative chat ids.
func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// NewAdminHelloHandler returns a handler for /adminhello <id> <text...>, which
// sends text to id through the app client.
func NewAdminHelloHandler(deps HandlerDeps) bot.HandlerFunc {
	return withErrorLog(deps, "adminhello", adminHelloHandler{deps}.Handle)
}

type adminHelloHandler struct {
	deps HandlerDeps
}

func (h adminHelloHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) error {
	msg := update.Message
	args := commandArgs(msg.Text)

	if len(args) == 0 {
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.ProvideID)
	}
	target, ok := parseID(args[0])
	if !ok {
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.ProvideID)
	}
	text := strings.Join(args[1:], " ")
	if text == "" {
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.ProvideMessage)
	}

	if h.deps.AppClient == nil {
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.AppClientUnavailable)
	}
	if err := h.deps.AppClient.SendMessage(ctx, target, text); err != nil {
		if replyErr := reply(ctx, b, msg.Chat.ID, fmt.Sprintf("Failed to send message: %v", err)); replyErr != nil {
			h.deps.Logger.ErrorContext(ctx, "Failed to report send failure", "error", replyErr)
		}
		return fmt.Errorf("adminhello to %d failed: %w", target, err)
	}

	h.deps.Logger.InfoContext(ctx, "Admin message delivered", "target_id", target, "admin_id", msg.From.ID)
	return reply(ctx, b, msg.Chat.ID, fmt.Sprintf("Message sent to %d.", target))
}

// NewGetUserIDHandler returns a handler for /getuserid <username>.
func NewGetUserIDHandler(deps HandlerDeps) bot.HandlerFunc {
	return withErrorLog(deps, "getuserid", getUserIDHandler{deps}.Handle)
}

type getUserIDHandler struct {
	deps HandlerDeps
}

func (h getUserIDHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) error {
	msg := update.Message
	args := commandArgs(msg.Text)

	if len(args) == 0 {
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.ProvideUsername)
	}
	if h.deps.AppClient == nil {
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.AppClientUnavailable)
	}

	userID, err := h.deps.AppClient.ResolveUserID(ctx, args[0])
	if err != nil {
		if replyErr := reply(ctx, b, msg.Chat.ID, "Error retrieving user information."); replyErr != nil {
			h.deps.Logger.ErrorContext(ctx, "Failed to report lookup failure", "error", replyErr)
		}
		return fmt.Errorf("getuserid %s failed: %w", args[0], err)
	}

	return reply(ctx, b, msg.Chat.ID, fmt.Sprintf("User ID: %d", userID))
}

// NewMakeAdminHandler returns a handler for /makeadmin <id>.
func NewMakeAdminHandler(deps HandlerDeps) bot.HandlerFunc {
	return withErrorLog(deps, "makeadmin", makeAdminHandler{deps}.Handle)
}

type makeAdminHandler struct {
	deps HandlerDeps
}

func (h makeAdminHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) error {
	msg := update.Message
	args := commandArgs(msg.Text)

	if len(args) == 0 {
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.ProvideID)
	}
	target, ok := parseID(args[0])
	if !ok {
		return reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.ProvideID)
	}

	created, err := h.deps.Store.GrantAdmin(ctx, target)
	if err != nil {
		if replyErr := reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.GeneralError); replyErr != nil {
			h.deps.Logger.ErrorContext(ctx, "Failed to report grant failure", "error", replyErr)
		}
		return fmt.Errorf("makeadmin %d failed: %w", target, err)
	}

	h.deps.Logger.InfoContext(ctx, "Admin granted", "target_id", target, "created", created, "admin_id", msg.From.ID)
	if created {
		return reply(ctx, b, msg.Chat.ID, fmt.Sprintf("New user created and set as admin with ID: %d", target))
	}
	return reply(ctx, b, msg.Chat.ID, fmt.Sprintf("User with ID: %d is now an admin.", target))
}
