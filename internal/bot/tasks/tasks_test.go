package tasks

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/edgard/talebot/internal/database"
)

func TestRegisterAllTasks(t *testing.T) {
	t.Parallel()

	registered := RegisterAllTasks(TaskDeps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if _, ok := registered[SQLMaintenanceTask]; !ok {
		t.Fatalf("RegisterAllTasks() = %v, missing %s", registered, SQLMaintenanceTask)
	}
}

func TestSQLMaintenanceTask(t *testing.T) {
	t.Parallel()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	task := newSQLMaintenanceTask(TaskDeps{Logger: logger, Store: database.NewStore(db, logger)})

	if err := task(context.Background()); err != nil {
		t.Fatalf("task() error = %v", err)
	}

	database.CloseDB(db)
	if err := task(context.Background()); err == nil {
		t.Error("task() on closed database returned nil error")
	}
}
