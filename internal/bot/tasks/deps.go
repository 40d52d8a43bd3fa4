// Package tasks holds the scheduled jobs of the bot.
package tasks

import (
	"log/slog"

	"github.com/edgard/talebot/internal/database"
)

// TaskDeps contains the dependencies shared by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
}
