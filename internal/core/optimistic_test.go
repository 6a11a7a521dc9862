package core

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"tasksync/internal/storage"
	"tasksync/pkg/models"
)

func TestCreateAssignsTempIDAndEnqueues(t *testing.T) {
	h := newSyncHarness(t)

	due := time.Now().UTC().Add(24 * time.Hour)
	task, err := h.opt.Create(CreateTaskInput{Title: "new task", Priority: models.PriorityHigh, DueDate: &due})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(task.ID, models.TempIDPrefix) {
		t.Fatalf("expected a temporary id, got %q", task.ID)
	}
	if task.LabelingStatus != models.LabelingPending {
		t.Fatalf("new tasks start labeling as pending, got %q", task.LabelingStatus)
	}

	if _, ok := h.tasksByID(t)[task.ID]; !ok {
		t.Fatal("expected the task visible in the cache immediately")
	}

	ops, err := h.queue.Drain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != storage.OpCreate || ops[0].EntityID != task.ID {
		t.Fatalf("expected one create for %s, got %+v", task.ID, ops)
	}
}

func TestCreateDefaultsPriority(t *testing.T) {
	h := newSyncHarness(t)

	task, err := h.opt.Create(CreateTaskInput{Title: "new task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Priority != models.PriorityMedium {
		t.Fatalf("expected medium priority by default, got %q", task.Priority)
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	h := newSyncHarness(t)

	if _, err := h.opt.Create(CreateTaskInput{}); err == nil {
		t.Fatal("expected an error for an empty title")
	}
	if h.queueLen(t) != 0 {
		t.Fatal("a rejected create must not reach the queue")
	}
}

func TestUpdateCapturesPriorForRollback(t *testing.T) {
	h := newSyncHarness(t)
	if err := h.cache.Write([]models.Task{{ID: "7", Title: "original", UpdatedAt: time.Now().UTC()}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	title := "renamed"
	updated, err := h.opt.Update("7", models.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != "renamed" {
		t.Fatalf("expected the patch applied, got %q", updated.Title)
	}
	if got := h.tasksByID(t)["7"].Title; got != "renamed" {
		t.Fatalf("expected the cache updated immediately, got %q", got)
	}

	ops, _ := h.queue.Drain()
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
	var payload updatePayload
	if err := json.Unmarshal(ops[0].Payload, &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Prior.Title != "original" {
		t.Fatalf("the pre-mutation value must be captured, got %q", payload.Prior.Title)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	h := newSyncHarness(t)

	title := "renamed"
	if _, err := h.opt.Update("missing", models.TaskPatch{Title: &title}); err == nil {
		t.Fatal("expected an error for an unknown task")
	}
}

func TestCompletionStampsCompletedAt(t *testing.T) {
	h := newSyncHarness(t)
	if err := h.cache.Write([]models.Task{{ID: "7", Title: "a", UpdatedAt: time.Now().UTC()}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := true
	updated, err := h.opt.Update("7", models.TaskPatch{Completed: &done})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Completed || updated.CompletedAt == nil {
		t.Fatalf("completing must stamp CompletedAt, got %+v", updated)
	}

	undone := false
	updated, err = h.opt.Update("7", models.TaskPatch{Completed: &undone})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Completed || updated.CompletedAt != nil {
		t.Fatalf("reopening must clear CompletedAt, got %+v", updated)
	}
}

func TestDeleteRemovesAndEnqueues(t *testing.T) {
	h := newSyncHarness(t)
	if err := h.cache.Write([]models.Task{{ID: "7", Title: "a", UpdatedAt: time.Now().UTC()}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.opt.Delete("7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.tasksByID(t)["7"]; ok {
		t.Fatal("expected the task removed from the cache immediately")
	}

	ops, _ := h.queue.Drain()
	if len(ops) != 1 || ops[0].Kind != storage.OpDelete {
		t.Fatalf("expected one delete, got %+v", ops)
	}
}

func TestConfirmCreateRemapsCacheAndQueue(t *testing.T) {
	h := newSyncHarness(t)

	created, err := h.opt.Create(CreateTaskInput{Title: "new task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	title := "renamed"
	if _, err := h.opt.Update(created.ID, models.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	confirmed := *created
	confirmed.ID = "42"
	if err := h.opt.ConfirmCreate(created.ID, confirmed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := h.tasksByID(t)
	if _, ok := byID[created.ID]; ok {
		t.Fatal("the temporary id must not survive confirmation")
	}
	if _, ok := byID["42"]; !ok {
		t.Fatalf("expected the server id in the cache, got %v", byID)
	}

	ops, _ := h.queue.Drain()
	for _, op := range ops {
		if op.EntityID != "42" {
			t.Fatalf("every queued operation must follow the remap, got %+v", op)
		}
	}
}

func TestRollbackCreateRemovesTask(t *testing.T) {
	h := newSyncHarness(t)

	created, err := h.opt.Create(CreateTaskInput{Title: "new task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ops, _ := h.queue.Drain()

	if err := h.opt.Rollback(ops[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.tasksByID(t)[created.ID]; ok {
		t.Fatal("rolling back a create must remove the task")
	}
}

func TestRollbackUpdateRestoresPrior(t *testing.T) {
	h := newSyncHarness(t)
	if err := h.cache.Write([]models.Task{{ID: "7", Title: "original", UpdatedAt: time.Now().UTC()}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	title := "renamed"
	if _, err := h.opt.Update("7", models.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ops, _ := h.queue.Drain()

	if err := h.opt.Rollback(ops[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.tasksByID(t)["7"].Title; got != "original" {
		t.Fatalf("expected the captured prior value restored, got %q", got)
	}
}

func TestRollbackDeleteRestoresTask(t *testing.T) {
	h := newSyncHarness(t)
	if err := h.cache.Write([]models.Task{{ID: "7", Title: "a", UpdatedAt: time.Now().UTC()}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.opt.Delete("7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ops, _ := h.queue.Drain()

	if err := h.opt.Rollback(ops[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := h.tasksByID(t)["7"]; !ok || got.Title != "a" {
		t.Fatalf("expected the deleted task restored, got %+v", got)
	}
}
