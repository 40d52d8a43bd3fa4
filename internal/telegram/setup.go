// Package telegram builds the go-telegram/bot instance, registers handlers on
// it, and runs its update listener in polling or webhook mode.
package telegram

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-telegram/bot"

	"github.com/edgard/talebot/internal/bot/handlers"
)

// NewTelegramBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created")
	return b, nil
}

// applyMiddleware wraps handler so that mw[0] is the outermost middleware.
func applyMiddleware(handler bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// RegisterHandlers registers every command of the dispatch table on b with its
// own middleware chain. It returns the registered handler ids in command order.
func RegisterHandlers(b *bot.Bot, logger *slog.Logger, registered map[string]handlers.RegisteredHandler) ([]string, error) {
	if b == nil {
		return nil, fmt.Errorf("bot instance cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "handler_registry")

	if len(registered) == 0 {
		log.Warn("No handlers provided for registration")
		return nil, nil
	}

	commands := make([]string, 0, len(registered))
	for command := range registered {
		commands = append(commands, command)
	}
	sort.Strings(commands)

	ids := make([]string, 0, len(commands))
	for _, command := range commands {
		rh := registered[command]
		if rh.Handler == nil {
			log.Warn("Skipping registration for nil handler", "command", command)
			continue
		}

		id := b.RegisterHandler(rh.HandlerType, rh.Pattern, rh.MatchType, applyMiddleware(rh.Handler, rh.Middleware))
		ids = append(ids, id)
		log.Debug("Registered handler", "command", command, "match_type", rh.MatchType, "middleware_count", len(rh.Middleware))
	}

	log.Info("Registered Telegram handlers", "count", len(ids))
	return ids, nil
}
