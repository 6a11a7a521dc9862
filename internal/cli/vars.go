package cli

import (
	"context"

	"tasksync/internal/core"
	"tasksync/internal/observability"
	"tasksync/pkg/models"
)

// SyncEngine is the engine surface the CLI commands call.
type SyncEngine interface {
	GetTasks(ctx context.Context) (*core.TasksResult, error)
	CreateTask(input core.CreateTaskInput) (*models.Task, error)
	UpdateTask(id string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(id string) error
	Refresh(ctx context.Context) (*core.SyncOutcome, error)
	QueueDepth() (int, error)
	SyncState() core.SyncState
	Online() bool
}

// Service instances, set during app initialization in app.go.
var (
	BasePath    string
	Engine      SyncEngine
	Poller      *core.StatusPoller
	EventLog    observability.EventLog
	MetricsCalc observability.MetricsCalculator
)
