package models

import (
	"strings"
	"time"
)

// Priority represents the urgency level of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	// PriorityUrgent is accepted from the server but never produced locally.
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the priorities the server accepts.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// LabelingStatus represents the state of the server-side asynchronous
// classifier for a task.
type LabelingStatus string

const (
	LabelingPending    LabelingStatus = "pending"
	LabelingInProgress LabelingStatus = "in_progress"
	LabelingCompleted  LabelingStatus = "completed"
	LabelingFailed     LabelingStatus = "failed"
)

// Terminal reports whether the classifier will make no further progress on
// a task in this state.
func (s LabelingStatus) Terminal() bool {
	return s == LabelingCompleted || s == LabelingFailed
}

// LabelCategory groups labels by the dimension they describe.
type LabelCategory string

const (
	CategoryLocation      LabelCategory = "location"
	CategoryTime          LabelCategory = "time"
	CategoryEnergy        LabelCategory = "energy"
	CategoryDuration      LabelCategory = "duration"
	CategoryMood          LabelCategory = "mood"
	CategoryCategory      LabelCategory = "category"
	CategoryPrerequisites LabelCategory = "prerequisites"
	CategoryContext       LabelCategory = "context"
	CategoryTools         LabelCategory = "tools"
	CategoryPeople        LabelCategory = "people"
	CategoryWeather       LabelCategory = "weather"
	CategoryOther         LabelCategory = "other"
)

// Label is a single classification attached to a task by the server-side
// labeling agent.
type Label struct {
	Name       string        `json:"name"`
	Category   LabelCategory `json:"category"`
	Confidence float64       `json:"confidence"`
	Primary    bool          `json:"primary,omitempty"`
}

// TempIDPrefix marks locally generated identifiers for tasks the server has
// not acknowledged yet. Server ids are numeric strings, so the prefix
// guarantees the two schemes never collide.
const TempIDPrefix = "local-"

// Task is the core entity kept in the local cache and reconciled against
// the remote store.
type Task struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Priority       Priority       `json:"priority"`
	Completed      bool           `json:"completed"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	LabelingStatus LabelingStatus `json:"labeling_status"`
	Labels         []Label        `json:"labels,omitempty"`
}

// HasTempID reports whether the task still carries a locally generated
// identifier, i.e. the remote store has not assigned a permanent id yet.
func (t *Task) HasTempID() bool {
	return IsTempID(t.ID)
}

// IsTempID reports whether id belongs to the local-temporary scheme.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// TaskPatch describes a partial update to a task. Nil fields are left
// unchanged, mirroring the remote API's update payload.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Apply copies the non-nil patch fields onto the task and stamps UpdatedAt.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
		if *p.Completed {
			done := now
			t.CompletedAt = &done
		} else {
			t.CompletedAt = nil
		}
	}
	if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	t.UpdatedAt = now
}
