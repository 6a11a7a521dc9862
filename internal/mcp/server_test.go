package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"tasksync/internal/core"
	"tasksync/internal/observability"
	"tasksync/pkg/models"
)

// --- Fake implementations ---

type fakeEngine struct {
	tasks   map[string]*models.Task
	stale   bool
	depth   int
	outcome *core.SyncOutcome
	nextID  int
}

func newFakeEngine(tasks ...*models.Task) *fakeEngine {
	e := &fakeEngine{tasks: make(map[string]*models.Task), nextID: 100}
	for _, t := range tasks {
		e.tasks[t.ID] = t
	}
	return e
}

func (e *fakeEngine) GetTasks(context.Context) (*core.TasksResult, error) {
	result := &core.TasksResult{Stale: e.stale}
	for _, t := range e.tasks {
		result.Tasks = append(result.Tasks, *t)
	}
	return result, nil
}

func (e *fakeEngine) CreateTask(input core.CreateTaskInput) (*models.Task, error) {
	if input.Title == "" {
		return nil, errors.New("title must not be empty")
	}
	e.nextID++
	task := &models.Task{
		ID:             models.TempIDPrefix + "fake",
		Title:          input.Title,
		Description:    input.Description,
		Priority:       input.Priority,
		DueDate:        input.DueDate,
		UpdatedAt:      time.Now().UTC(),
		LabelingStatus: models.LabelingPending,
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	e.tasks[task.ID] = task
	return task, nil
}

func (e *fakeEngine) UpdateTask(id string, patch models.TaskPatch) (*models.Task, error) {
	t, ok := e.tasks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	patch.Apply(t, time.Now().UTC())
	return t, nil
}

func (e *fakeEngine) DeleteTask(id string) error {
	if _, ok := e.tasks[id]; !ok {
		return errors.New("not found")
	}
	delete(e.tasks, id)
	return nil
}

func (e *fakeEngine) Refresh(context.Context) (*core.SyncOutcome, error) {
	if e.outcome != nil {
		return e.outcome, nil
	}
	return &core.SyncOutcome{}, nil
}

func (e *fakeEngine) QueueDepth() (int, error) {
	return e.depth, nil
}

func (e *fakeEngine) SyncState() core.SyncState {
	return core.StateIdle
}

type fakeMetricsCalculator struct {
	metrics *observability.SyncMetrics
}

func (f *fakeMetricsCalculator) Calculate(_ time.Time) (*observability.SyncMetrics, error) {
	return f.metrics, nil
}

// --- Test helpers ---

func sampleTask() *models.Task {
	return &models.Task{
		ID:             "42",
		Title:          "buy milk",
		Priority:       models.PriorityMedium,
		UpdatedAt:      time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC),
		LabelingStatus: models.LabelingCompleted,
		Labels:         []models.Label{{Name: "errand", Category: models.CategoryCategory, Confidence: 0.91, Primary: true}},
	}
}

func sampleCompletedTask() *models.Task {
	done := time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC)
	return &models.Task{
		ID:             "43",
		Title:          "file taxes",
		Priority:       models.PriorityHigh,
		Completed:      true,
		CompletedAt:    &done,
		UpdatedAt:      done,
		LabelingStatus: models.LabelingCompleted,
	}
}

// callTool is a helper that connects a client to the server and calls a tool.
func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()

	// Connect server (non-blocking).
	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}

	return result
}

// unmarshalResult decodes a tool result from the structured content or the
// text content, whichever the SDK populated.
func unmarshalResult(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()

	if result.StructuredContent != nil {
		data, _ := json.Marshal(result.StructuredContent)
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshalling structured content: %v", err)
		}
		return
	}

	text := extractText(result)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("unmarshalling result: %v (text was: %s)", err, text)
	}
}

// --- Tests ---

func TestListTasks(t *testing.T) {
	engine := newFakeEngine(sampleTask(), sampleCompletedTask())
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "list_tasks", map[string]any{})

	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out listTasksOutput
	unmarshalResult(t, result, &out)

	if out.Count != 1 {
		t.Errorf("completed tasks are excluded by default, got %d tasks", out.Count)
	}
	if len(out.Tasks) > 0 && out.Tasks[0].ID != "42" {
		t.Errorf("expected task 42, got %s", out.Tasks[0].ID)
	}
}

func TestListTasksIncludeCompleted(t *testing.T) {
	engine := newFakeEngine(sampleTask(), sampleCompletedTask())
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "list_tasks", map[string]any{"include_completed": true})

	var out listTasksOutput
	unmarshalResult(t, result, &out)

	if out.Count != 2 {
		t.Errorf("expected 2 tasks, got %d", out.Count)
	}
}

func TestListTasksReportsStale(t *testing.T) {
	engine := newFakeEngine(sampleTask())
	engine.stale = true
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "list_tasks", map[string]any{})

	var out listTasksOutput
	unmarshalResult(t, result, &out)

	if !out.Stale {
		t.Error("expected the stale flag set")
	}
}

func TestCreateTask(t *testing.T) {
	engine := newFakeEngine()
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "create_task", map[string]any{
		"title":    "water plants",
		"priority": "high",
	})

	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out taskOutput
	unmarshalResult(t, result, &out)

	if out.Title != "water plants" {
		t.Errorf("expected title %q, got %q", "water plants", out.Title)
	}
	if out.Priority != "high" {
		t.Errorf("expected priority high, got %s", out.Priority)
	}
	if !out.PendingSync {
		t.Error("a just-created task is pending sync")
	}
	if out.LabelingStatus != "pending" {
		t.Errorf("expected labeling pending, got %s", out.LabelingStatus)
	}
}

func TestCreateTaskInvalidPriority(t *testing.T) {
	engine := newFakeEngine()
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "create_task", map[string]any{
		"title":    "water plants",
		"priority": "asap",
	})

	if !result.IsError {
		t.Fatal("expected error for an invalid priority")
	}
}

func TestUpdateTaskCompletes(t *testing.T) {
	engine := newFakeEngine(sampleTask())
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "update_task", map[string]any{
		"task_id":   "42",
		"completed": true,
	})

	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out taskOutput
	unmarshalResult(t, result, &out)

	if !out.Completed || out.CompletedAt == "" {
		t.Errorf("expected the task completed with a timestamp, got %+v", out)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	engine := newFakeEngine()
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "update_task", map[string]any{
		"task_id": "99",
		"title":   "renamed",
	})

	if !result.IsError {
		t.Fatal("expected error for an unknown task")
	}
}

func TestDeleteTask(t *testing.T) {
	engine := newFakeEngine(sampleTask())
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "delete_task", map[string]any{"task_id": "42"})

	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	if _, ok := engine.tasks["42"]; ok {
		t.Error("expected the task removed")
	}
}

func TestTriggerSync(t *testing.T) {
	engine := newFakeEngine()
	engine.outcome = &core.SyncOutcome{Pushed: 2, Applied: 3, Conflicts: 1}
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "trigger_sync", map[string]any{})

	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out syncOutcomeOutput
	unmarshalResult(t, result, &out)

	if out.Pushed != 2 || out.Applied != 3 || out.Conflicts != 1 {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestQueueStatus(t *testing.T) {
	engine := newFakeEngine()
	engine.depth = 4
	srv := NewServer(engine, nil, "test")

	result := callTool(t, srv, "queue_status", map[string]any{})

	var out queueStatusOutput
	unmarshalResult(t, result, &out)

	if out.Depth != 4 {
		t.Errorf("expected depth 4, got %d", out.Depth)
	}
	if out.State != "idle" {
		t.Errorf("expected idle, got %s", out.State)
	}
}

func TestGetMetrics(t *testing.T) {
	now := time.Now().UTC()
	mc := &fakeMetricsCalculator{
		metrics: &observability.SyncMetrics{
			CyclesRun:         6,
			OpsPushed:         14,
			OpsRetried:        3,
			PermanentFailures: 1,
			EventCount:        42,
			LastCycleAt:       &now,
			LastCycleOutcome:  "ok",
		},
	}
	srv := NewServer(newFakeEngine(), mc, "test")

	result := callTool(t, srv, "get_metrics", map[string]any{})

	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out metricsOutput
	unmarshalResult(t, result, &out)

	if out.CyclesRun != 6 || out.OpsPushed != 14 {
		t.Errorf("unexpected metrics %+v", out)
	}
	if out.LastCycleAt == "" {
		t.Error("expected last cycle timestamp")
	}
}

func TestGetMetricsDisabled(t *testing.T) {
	srv := NewServer(newFakeEngine(), nil, "test")

	result := callTool(t, srv, "get_metrics", map[string]any{})

	if !result.IsError {
		t.Fatal("expected error when metrics calculator is nil")
	}
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"7d", false},
		{"30d", false},
		{"24h", false},
		{"1h", false},
		{"", true},
		{"x", true},
		{"7x", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := parseSince(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseSince(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

// extractText extracts the text from the first TextContent in a CallToolResult.
func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
