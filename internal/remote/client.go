// Package remote is the thin client for the authoritative task API. It
// translates between the engine's task model and the backend's wire
// format, and classifies failures as transient or permanent for the
// queue's retry policy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tasksync/pkg/models"
)

// APIError is a non-2xx response from the task API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("task api: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth retrying. 4xx responses
// are application errors and retrying them cannot succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable classifies an error from any TaskAPI call. Transport-level
// failures (timeouts, refused connections) are always retryable; API
// errors defer to their status code.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// ChangeSet is the result of a pull: tasks changed since the given
// timestamp, and ids of tasks the server has tombstoned.
type ChangeSet struct {
	Tasks   []models.Task
	Deleted []string
}

// StatusResult is the labeling state of one task as reported by the server.
type StatusResult struct {
	Status models.LabelingStatus
	Labels []models.Label
	Error  string
}

// TaskAPI is the remote collaborator consumed by the sync engine. All
// calls may fail transiently; callers route retries through the operation
// queue rather than looping in place.
type TaskAPI interface {
	CreateTask(ctx context.Context, task models.Task) (*models.Task, error)
	UpdateTask(ctx context.Context, serverID string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, serverID string) error
	ListChangesSince(ctx context.Context, since time.Time) (*ChangeSet, error)
	GetTaskStatus(ctx context.Context, serverID string) (*StatusResult, error)
}

// httpTaskAPI implements TaskAPI against the FastAPI backend.
type httpTaskAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a TaskAPI client for the given base URL, e.g.
// http://localhost:8000/api/v1. token is sent as a bearer token.
func NewClient(baseURL, token string) TaskAPI {
	return &httpTaskAPI{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// --- wire format ---

// taskDTO mirrors the backend's TaskResponse. Ids are integers on the
// wire; the engine carries them as strings so temporary and permanent ids
// share one type.
type taskDTO struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    *string    `json:"description"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	IsActive       bool       `json:"is_active"`
	DueDate        *time.Time `json:"due_date"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	LabelingStatus string     `json:"labeling_status"`
}

type labelDTO struct {
	LabelName       string  `json:"label_name"`
	LabelCategory   string  `json:"label_category"`
	ConfidenceScore float64 `json:"confidence_score"`
	IsPrimary       bool    `json:"is_primary"`
}

type taskListDTO struct {
	Tasks []taskDTO `json:"tasks"`
	Total int       `json:"total"`
}

type labelingStatusDTO struct {
	TaskID         int64      `json:"task_id"`
	LabelingStatus string     `json:"labeling_status"`
	LabelingError  *string    `json:"labeling_error"`
	Labels         []labelDTO `json:"labels"`
}

type createTaskDTO struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type updateTaskDTO struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

const (
	wireStatusTodo      = "todo"
	wireStatusCompleted = "completed"
)

func (d taskDTO) toModel() models.Task {
	t := models.Task{
		ID:             strconv.FormatInt(d.ID, 10),
		Title:          d.Title,
		Priority:       models.Priority(d.Priority),
		Completed:      d.Status == wireStatusCompleted,
		DueDate:        d.DueDate,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		CompletedAt:    d.CompletedAt,
		LabelingStatus: models.LabelingStatus(d.LabelingStatus),
	}
	if d.Description != nil {
		t.Description = *d.Description
	}
	return t
}

func (d labelDTO) toModel() models.Label {
	return models.Label{
		Name:       d.LabelName,
		Category:   models.LabelCategory(d.LabelCategory),
		Confidence: d.ConfidenceScore,
		Primary:    d.IsPrimary,
	}
}

func wireStatus(completed bool) string {
	if completed {
		return wireStatusCompleted
	}
	return wireStatusTodo
}

// --- calls ---

func (c *httpTaskAPI) CreateTask(ctx context.Context, task models.Task) (*models.Task, error) {
	body := createTaskDTO{
		Title:       task.Title,
		Description: task.Description,
		Status:      wireStatus(task.Completed),
		Priority:    string(task.Priority),
		DueDate:     task.DueDate,
	}

	var out taskDTO
	if err := c.do(ctx, http.MethodPost, "/tasks/", nil, body, &out); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	created := out.toModel()
	return &created, nil
}

func (c *httpTaskAPI) UpdateTask(ctx context.Context, serverID string, patch models.TaskPatch) (*models.Task, error) {
	body := updateTaskDTO{
		Title:       patch.Title,
		Description: patch.Description,
		DueDate:     patch.DueDate,
	}
	if patch.Priority != nil {
		p := string(*patch.Priority)
		body.Priority = &p
	}
	if patch.Completed != nil {
		s := wireStatus(*patch.Completed)
		body.Status = &s
	}

	var out taskDTO
	if err := c.do(ctx, http.MethodPut, "/tasks/"+serverID, nil, body, &out); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", serverID, err)
	}
	updated := out.toModel()
	return &updated, nil
}

func (c *httpTaskAPI) DeleteTask(ctx context.Context, serverID string) error {
	if err := c.do(ctx, http.MethodDelete, "/tasks/"+serverID, nil, nil, nil); err != nil {
		return fmt.Errorf("deleting task %s: %w", serverID, err)
	}
	return nil
}

// ListChangesSince realizes a change feed over the backend's list
// endpoint, which filters by is_active but has no changed-since parameter:
// two paged listings, active tasks then tombstoned ones, filtered
// client-side on updated_at. A zero since pulls the full active
// collection and skips the tombstone pass, since there is no prior local
// state for tombstones to delete.
func (c *httpTaskAPI) ListChangesSince(ctx context.Context, since time.Time) (*ChangeSet, error) {
	changes := &ChangeSet{}

	active, err := c.listAll(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, dto := range active {
		if since.IsZero() || dto.UpdatedAt.After(since) {
			changes.Tasks = append(changes.Tasks, dto.toModel())
		}
	}

	if since.IsZero() {
		return changes, nil
	}

	inactive, err := c.listAll(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, dto := range inactive {
		if dto.UpdatedAt.After(since) {
			changes.Deleted = append(changes.Deleted, strconv.FormatInt(dto.ID, 10))
		}
	}
	return changes, nil
}

// listAll pages through the list endpoint for one is_active filter.
func (c *httpTaskAPI) listAll(ctx context.Context, isActive bool) ([]taskDTO, error) {
	query := url.Values{}
	query.Set("page_size", "100")
	query.Set("is_active", strconv.FormatBool(isActive))

	var all []taskDTO
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))

		var out taskListDTO
		if err := c.do(ctx, http.MethodGet, "/tasks/", query, nil, &out); err != nil {
			return nil, fmt.Errorf("listing changes: %w", err)
		}

		all = append(all, out.Tasks...)
		if len(out.Tasks) == 0 || len(all) >= out.Total {
			break
		}
	}
	return all, nil
}

func (c *httpTaskAPI) GetTaskStatus(ctx context.Context, serverID string) (*StatusResult, error) {
	var out labelingStatusDTO
	if err := c.do(ctx, http.MethodGet, "/labels/task/"+serverID+"/status", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching labeling status for %s: %w", serverID, err)
	}

	result := &StatusResult{Status: models.LabelingStatus(out.LabelingStatus)}
	for _, dto := range out.Labels {
		result.Labels = append(result.Labels, dto.toModel())
	}
	if out.LabelingError != nil {
		result.Error = *out.LabelingError
	}
	return result, nil
}

// do performs one HTTP round-trip: marshals body, sets auth, decodes into
// out, and converts non-2xx responses to *APIError.
func (c *httpTaskAPI) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: readErrorDetail(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// readErrorDetail extracts the backend's {"detail": ...} message, falling
// back to the raw body.
func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no response body"
	}

	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return string(data)
}
