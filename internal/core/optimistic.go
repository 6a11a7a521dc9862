package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tasksync/internal/observability"
	"tasksync/internal/storage"
	"tasksync/pkg/models"
)

// Operation payloads. Update and delete carry the pre-mutation task so a
// later rollback restores the value captured at mutation time instead of
// re-deriving it.
type createPayload struct {
	Task models.Task `json:"task"`
}

type updatePayload struct {
	Patch models.TaskPatch `json:"patch"`
	Prior models.Task      `json:"prior"`
}

type deletePayload struct {
	Prior models.Task `json:"prior"`
}

// CreateTaskInput is the caller-supplied portion of a new task.
type CreateTaskInput struct {
	Title       string
	Description string
	Priority    models.Priority
	DueDate     *time.Time
}

// OptimisticController applies local mutations to the cache immediately
// and records them in the operation queue for the orchestrator to push.
// Cache and queue are only ever touched through their write APIs, keeping
// the two stores consistent with each other and with what consumers see.
type OptimisticController struct {
	cache  storage.CacheStore
	queue  storage.OperationQueue
	events observability.EventLog
}

// NewOptimisticController creates an OptimisticController over the given stores.
func NewOptimisticController(cache storage.CacheStore, queue storage.OperationQueue, events observability.EventLog) *OptimisticController {
	return &OptimisticController{cache: cache, queue: queue, events: events}
}

// NewTempID generates a local-temporary identifier. The prefix keeps it
// disjoint from the server's numeric id space by construction.
func NewTempID() string {
	return models.TempIDPrefix + uuid.NewString()
}

// Create inserts a new task under a temporary id and enqueues the create.
func (oc *OptimisticController) Create(input CreateTaskInput) (*models.Task, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("creating task: title must not be empty")
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	now := time.Now().UTC()
	task := models.Task{
		ID:             NewTempID(),
		Title:          input.Title,
		Description:    input.Description,
		Priority:       priority,
		DueDate:        input.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
		LabelingStatus: models.LabelingPending,
	}

	if err := oc.cache.UpsertOne(task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	if _, err := oc.queue.Enqueue(storage.OpCreate, task.ID, createPayload{Task: task}); err != nil {
		// Keep cache and queue consistent: undo the insert.
		_ = oc.cache.RemoveOne(task.ID)
		return nil, fmt.Errorf("creating task: %w", err)
	}
	return &task, nil
}

// Update applies a patch to the cached task and enqueues the update with
// the pre-mutation value captured for rollback.
func (oc *OptimisticController) Update(id string, patch models.TaskPatch) (*models.Task, error) {
	prior, err := oc.lookup(id)
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}

	updated := *prior
	patch.Apply(&updated, time.Now().UTC())

	if err := oc.cache.UpsertOne(updated); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}
	if _, err := oc.queue.Enqueue(storage.OpUpdate, id, updatePayload{Patch: patch, Prior: *prior}); err != nil {
		_ = oc.cache.UpsertOne(*prior)
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}
	return &updated, nil
}

// Delete removes the cached task and enqueues the delete with the
// pre-mutation value captured for rollback.
func (oc *OptimisticController) Delete(id string) error {
	prior, err := oc.lookup(id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}

	if err := oc.cache.RemoveOne(id); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if _, err := oc.queue.Enqueue(storage.OpDelete, id, deletePayload{Prior: *prior}); err != nil {
		_ = oc.cache.UpsertOne(*prior)
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}

// ConfirmCreate repoints every record from the temporary id to the
// server-assigned task: one snapshot write for the cache, then the queue.
// After it returns no record references the temporary id.
func (oc *OptimisticController) ConfirmCreate(tempID string, confirmed models.Task) error {
	if err := oc.cache.RemapID(tempID, confirmed); err != nil {
		return fmt.Errorf("confirming create for %s: %w", tempID, err)
	}
	if err := oc.queue.RemapEntity(tempID, confirmed.ID); err != nil {
		return fmt.Errorf("confirming create for %s: %w", tempID, err)
	}
	return nil
}

// Rollback undoes the local effect of a failed operation using the value
// captured when the mutation was made.
func (oc *OptimisticController) Rollback(op storage.QueuedOperation) error {
	switch op.Kind {
	case storage.OpCreate:
		if err := oc.cache.RemoveOne(op.EntityID); err != nil {
			return fmt.Errorf("rolling back create of %s: %w", op.EntityID, err)
		}
	case storage.OpUpdate:
		var payload updatePayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return fmt.Errorf("rolling back update of %s: decoding payload: %w", op.EntityID, err)
		}
		if err := oc.cache.UpsertOne(payload.Prior); err != nil {
			return fmt.Errorf("rolling back update of %s: %w", op.EntityID, err)
		}
	case storage.OpDelete:
		var payload deletePayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return fmt.Errorf("rolling back delete of %s: decoding payload: %w", op.EntityID, err)
		}
		if err := oc.cache.UpsertOne(payload.Prior); err != nil {
			return fmt.Errorf("rolling back delete of %s: %w", op.EntityID, err)
		}
	}

	_ = oc.events.Write(observability.Event{
		Level:   "WARN",
		Type:    observability.EventRollback,
		Message: fmt.Sprintf("rolled back %s for %s", op.Kind, op.EntityID),
		Data:    map[string]any{"operation_id": op.ID, "kind": string(op.Kind), "entity_id": op.EntityID},
	})
	return nil
}

// lookup finds a task in the current snapshot. The snapshot is re-read on
// every call rather than cached on the controller, so a lookup after an
// awaited I/O boundary always sees current state.
func (oc *OptimisticController) lookup(id string) (*models.Task, error) {
	snap, _, err := oc.cache.Read()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("not found")
	}
	for i := range snap.Tasks {
		if snap.Tasks[i].ID == id {
			task := snap.Tasks[i]
			return &task, nil
		}
	}
	return nil, fmt.Errorf("not found")
}
