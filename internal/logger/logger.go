// Package logger builds the application's slog logger, the zap logger handed
// to the MTProto client, and Telegram update middlewares.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func parseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a slog Logger writing to stdout, as JSON when jsonOutput is set.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(levelStr)}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// NewZapLogger creates a zap logger for libraries that require one. The level
// is one step above the application level because MTProto is chatty.
func NewZapLogger(levelStr string, jsonOutput bool) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if levelStr == "debug" {
		level = zapcore.DebugLevel
	} else if levelStr == "error" {
		level = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	if !jsonOutput {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return cfg.Build()
}

// Middleware logs the start and end of every update.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			startTime := time.Now()
			entry := updateLogger(log, update)

			entry.InfoContext(ctx, "Processing update")
			next(ctx, b, update)
			entry.InfoContext(ctx, "Finished processing update", "duration", time.Since(startTime))
		}
	}
}

// Recover stops a panicking handler from taking the listener down with it.
func Recover(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					updateLogger(log, update).ErrorContext(ctx, "Handler panicked",
						"panic", r,
						"stack", string(debug.Stack()))
				}
			}()
			next(ctx, b, update)
		}
	}
}

func updateLogger(log *slog.Logger, update *models.Update) *slog.Logger {
	entry := log.With("update_id", update.ID)

	msg := update.Message
	updateType := "message"
	if msg == nil {
		msg = update.EditedMessage
		updateType = "edited_message"
	}
	if msg == nil {
		return entry.With("update_type", "other")
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	return entry.With(
		"update_type", updateType,
		"message_id", msg.ID,
		"chat_id", msg.Chat.ID,
		"user_id", userID,
		"text_preview", truncateString(msg.Text, 50),
	)
}

func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}
