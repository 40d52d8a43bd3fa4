package tasks

import (
	"context"
)

// ScheduledTaskFunc is the signature of a scheduled task. Tasks must honor ctx.
type ScheduledTaskFunc func(ctx context.Context) error

// SQLMaintenanceTask is the registry and config key of the VACUUM task.
const SQLMaintenanceTask = "sql_maintenance"

// RegisterAllTasks returns the scheduled tasks keyed by the name used in the
// scheduler.tasks config section.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		SQLMaintenanceTask: newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
