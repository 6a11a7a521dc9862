// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the offline-first task store as MCP tools for AI coding assistants.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"tasksync/internal/core"
	"tasksync/internal/observability"
	"tasksync/pkg/models"
)

// SyncEngine is the subset of the sync engine the MCP tools call.
type SyncEngine interface {
	GetTasks(ctx context.Context) (*core.TasksResult, error)
	CreateTask(input core.CreateTaskInput) (*models.Task, error)
	UpdateTask(id string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(id string) error
	Refresh(ctx context.Context) (*core.SyncOutcome, error)
	QueueDepth() (int, error)
	SyncState() core.SyncState
}

// Server wraps the sync engine and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	engine      SyncEngine
	metricsCalc observability.MetricsCalculator
}

// NewServer creates a new MCP server over the sync engine. metricsCalc may
// be nil if observability is disabled.
func NewServer(engine SyncEngine, metricsCalc observability.MetricsCalculator, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		engine:      engine,
		metricsCalc: metricsCalc,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "tasksync", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type taskOutput struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Priority       string        `json:"priority"`
	Completed      bool          `json:"completed"`
	DueDate        string        `json:"due_date,omitempty"`
	CompletedAt    string        `json:"completed_at,omitempty"`
	Updated        string        `json:"updated"`
	LabelingStatus string        `json:"labeling_status"`
	Labels         []labelOutput `json:"labels,omitempty"`
	PendingSync    bool          `json:"pending_sync"`
}

type labelOutput struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Primary    bool    `json:"primary"`
}

type listTasksInput struct {
	IncludeCompleted bool `json:"include_completed,omitempty" jsonschema:"include completed tasks in the listing (default false)"`
}

type listTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
	Stale bool         `json:"stale"`
}

type createTaskInput struct {
	Title       string `json:"title" jsonschema:"required,the task title"`
	Description string `json:"description,omitempty" jsonschema:"longer free-form description"`
	Priority    string `json:"priority,omitempty" jsonschema:"low, medium, high, or urgent (default medium)"`
	DueDate     string `json:"due_date,omitempty" jsonschema:"due date in RFC 3339 format"`
}

type updateTaskInput struct {
	TaskID      string  `json:"task_id" jsonschema:"required,the task identifier"`
	Title       *string `json:"title,omitempty" jsonschema:"new title"`
	Description *string `json:"description,omitempty" jsonschema:"new description"`
	Priority    *string `json:"priority,omitempty" jsonschema:"new priority (low, medium, high, urgent)"`
	Completed   *bool   `json:"completed,omitempty" jsonschema:"mark the task completed or reopened"`
}

type deleteTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"required,the task identifier"`
}

type deleteTaskOutput struct {
	Message string `json:"message"`
}

type triggerSyncInput struct{}

type syncOutcomeOutput struct {
	Coalesced bool `json:"coalesced"`
	Pushed    int  `json:"pushed"`
	Applied   int  `json:"applied"`
	Deleted   int  `json:"deleted"`
	Conflicts int  `json:"conflicts"`
	Dropped   int  `json:"dropped"`
}

type queueStatusInput struct{}

type queueStatusOutput struct {
	Depth int    `json:"depth"`
	State string `json:"state"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	CyclesRun         int    `json:"cycles_run"`
	OpsPushed         int    `json:"ops_pushed"`
	OpsRetried        int    `json:"ops_retried"`
	PermanentFailures int    `json:"permanent_failures"`
	ConflictsResolved int    `json:"conflicts_resolved"`
	LabelsMerged      int    `json:"labels_merged"`
	EventCount        int    `json:"event_count"`
	LastCycleAt       string `json:"last_cycle_at,omitempty"`
	LastCycleOutcome  string `json:"last_cycle_outcome,omitempty"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks from the local store. Works offline; the stale flag reports whether a background refresh is in flight.",
	}, s.handleListTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_task",
		Description: "Create a task. The task is stored locally right away and pushed to the server in the background.",
	}, s.handleCreateTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "update_task",
		Description: "Update a task's title, description, priority, or completion. Applied locally right away and synced in the background.",
	}, s.handleUpdateTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "delete_task",
		Description: "Delete a task. Removed locally right away and synced in the background.",
	}, s.handleDeleteTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "trigger_sync",
		Description: "Force a full sync cycle now: push pending local changes, then pull the server's collection.",
	}, s.handleTriggerSync)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "queue_status",
		Description: "Report how many local mutations are waiting to be pushed, and where the sync cycle currently is.",
	}, s.handleQueueStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated sync metrics from the event log: cycles run, operations pushed, retries, conflicts, failures.",
	}, s.handleGetMetrics)
}

// --- Tool handlers ---

func (s *Server) handleListTasks(ctx context.Context, _ *gomcp.CallToolRequest, input listTasksInput) (*gomcp.CallToolResult, listTasksOutput, error) {
	result, err := s.engine.GetTasks(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), listTasksOutput{}, nil
	}

	out := listTasksOutput{Stale: result.Stale}
	for _, task := range result.Tasks {
		if task.Completed && !input.IncludeCompleted {
			continue
		}
		out.Tasks = append(out.Tasks, taskToOutput(task))
	}
	out.Count = len(out.Tasks)
	return nil, out, nil
}

func (s *Server) handleCreateTask(_ context.Context, _ *gomcp.CallToolRequest, input createTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.Title == "" {
		return errorResult("title is required"), taskOutput{}, nil
	}
	if input.Priority != "" && !models.Priority(input.Priority).Valid() {
		return errorResult(fmt.Sprintf("invalid priority %q: must be one of low, medium, high, urgent", input.Priority)), taskOutput{}, nil
	}

	create := core.CreateTaskInput{
		Title:       input.Title,
		Description: input.Description,
		Priority:    models.Priority(input.Priority),
	}
	if input.DueDate != "" {
		due, err := time.Parse(time.RFC3339, input.DueDate)
		if err != nil {
			return errorResult(fmt.Sprintf("parsing due_date: %s", err)), taskOutput{}, nil
		}
		create.DueDate = &due
	}

	task, err := s.engine.CreateTask(create)
	if err != nil {
		return errorResult(fmt.Sprintf("creating task: %s", err)), taskOutput{}, nil
	}
	return nil, taskToOutput(*task), nil
}

func (s *Server) handleUpdateTask(_ context.Context, _ *gomcp.CallToolRequest, input updateTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	patch := models.TaskPatch{
		Title:       input.Title,
		Description: input.Description,
		Completed:   input.Completed,
	}
	if input.Priority != nil {
		p := models.Priority(*input.Priority)
		if !p.Valid() {
			return errorResult(fmt.Sprintf("invalid priority %q: must be one of low, medium, high, urgent", *input.Priority)), taskOutput{}, nil
		}
		patch.Priority = &p
	}

	task, err := s.engine.UpdateTask(input.TaskID, patch)
	if err != nil {
		return errorResult(fmt.Sprintf("updating task %s: %s", input.TaskID, err)), taskOutput{}, nil
	}
	return nil, taskToOutput(*task), nil
}

func (s *Server) handleDeleteTask(_ context.Context, _ *gomcp.CallToolRequest, input deleteTaskInput) (*gomcp.CallToolResult, deleteTaskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), deleteTaskOutput{}, nil
	}

	if err := s.engine.DeleteTask(input.TaskID); err != nil {
		return errorResult(fmt.Sprintf("deleting task %s: %s", input.TaskID, err)), deleteTaskOutput{}, nil
	}
	return nil, deleteTaskOutput{Message: fmt.Sprintf("task %s deleted", input.TaskID)}, nil
}

func (s *Server) handleTriggerSync(ctx context.Context, _ *gomcp.CallToolRequest, _ triggerSyncInput) (*gomcp.CallToolResult, syncOutcomeOutput, error) {
	outcome, err := s.engine.Refresh(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("sync failed: %s", err)), syncOutcomeOutput{}, nil
	}
	return nil, syncOutcomeOutput{
		Coalesced: outcome.Coalesced,
		Pushed:    outcome.Pushed,
		Applied:   outcome.Applied,
		Deleted:   outcome.Deleted,
		Conflicts: outcome.Conflicts,
		Dropped:   outcome.Dropped,
	}, nil
}

func (s *Server) handleQueueStatus(_ context.Context, _ *gomcp.CallToolRequest, _ queueStatusInput) (*gomcp.CallToolResult, queueStatusOutput, error) {
	depth, err := s.engine.QueueDepth()
	if err != nil {
		return errorResult(fmt.Sprintf("reading queue: %s", err)), queueStatusOutput{}, nil
	}
	return nil, queueStatusOutput{
		Depth: depth,
		State: string(s.engine.SyncState()),
	}, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), metricsOutput{}, nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), metricsOutput{}, nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), metricsOutput{}, nil
	}

	out := metricsOutput{
		CyclesRun:         metrics.CyclesRun,
		OpsPushed:         metrics.OpsPushed,
		OpsRetried:        metrics.OpsRetried,
		PermanentFailures: metrics.PermanentFailures,
		ConflictsResolved: metrics.ConflictsResolved,
		LabelsMerged:      metrics.LabelsMerged,
		EventCount:        metrics.EventCount,
		LastCycleOutcome:  metrics.LastCycleOutcome,
	}
	if metrics.LastCycleAt != nil {
		out.LastCycleAt = metrics.LastCycleAt.Format(time.RFC3339)
	}

	return nil, out, nil
}

// --- Helpers ---

func taskToOutput(t models.Task) taskOutput {
	out := taskOutput{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.Description,
		Priority:       string(t.Priority),
		Completed:      t.Completed,
		Updated:        t.UpdatedAt.Format(time.RFC3339),
		LabelingStatus: string(t.LabelingStatus),
		PendingSync:    t.HasTempID(),
	}
	if t.DueDate != nil {
		out.DueDate = t.DueDate.Format(time.RFC3339)
	}
	if t.CompletedAt != nil {
		out.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}
	for _, l := range t.Labels {
		out.Labels = append(out.Labels, labelOutput{
			Name:       l.Name,
			Category:   string(l.Category),
			Confidence: l.Confidence,
			Primary:    l.Primary,
		})
	}
	return out
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
