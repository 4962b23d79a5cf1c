package store

import (
	"encoding/json"
	"time"
)

// ProjectStatus is the Project lifecycle state (spec §3).
type ProjectStatus string

const (
	ProjectDraft            ProjectStatus = "draft"
	ProjectAwaitingApproval ProjectStatus = "awaiting_approval"
	ProjectApproved         ProjectStatus = "approved"
	ProjectExecuting        ProjectStatus = "executing"
	ProjectPaused           ProjectStatus = "paused"
	ProjectCompleted        ProjectStatus = "completed"
	ProjectFailed           ProjectStatus = "failed"
)

// TaskStatus is the Task lifecycle state (spec §3).
type TaskStatus string

const (
	TaskInbox      TaskStatus = "inbox"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
	TaskSkipped    TaskStatus = "skipped"
	TaskBlocked    TaskStatus = "blocked"
)

// TaskPriority ranks a Task for dispatch/display ordering.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// TaskType distinguishes agent-executable tasks from human/review gates.
type TaskType string

const (
	TaskTypeAgent  TaskType = "agent"
	TaskTypeHuman  TaskType = "human"
	TaskTypeReview TaskType = "review"
)

// AgentStatus is the AgentProfile availability state.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentActive  AgentStatus = "active"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// DocumentType classifies a Document.
type DocumentType string

const (
	DocumentNote        DocumentType = "note"
	DocumentPRD         DocumentType = "prd"
	DocumentDeliverable DocumentType = "deliverable"
)

// ActivityType classifies an Activity log entry.
type ActivityType string

const (
	ActivityTaskUpdated     ActivityType = "task_updated"
	ActivityTaskCompleted   ActivityType = "task_completed"
	ActivityDocumentCreated ActivityType = "document_created"
	ActivityAgentReaped     ActivityType = "agent_reaped"
)

// Project is the spec §3 Project entity.
type Project struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Tags          []string      `json:"tags"`
	Status        ProjectStatus `json:"status"`
	CreatorID     string        `json:"creator_id"`
	PRDDocumentID *string       `json:"prd_document_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Task is the spec §3 Task entity.
type Task struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Status            TaskStatus     `json:"status"`
	Priority          TaskPriority   `json:"priority"`
	AssigneeIDs       []string       `json:"assignee_ids"`
	CreatorID         string         `json:"creator_id"`
	ParentTaskID      *string        `json:"parent_task_id,omitempty"`
	BlockedBy         []string       `json:"blocked_by"`
	Blocks            []string       `json:"blocks"`
	Tags              []string       `json:"tags"`
	ProjectID         *string        `json:"project_id,omitempty"`
	TaskType          TaskType       `json:"task_type"`
	ActiveDescription string         `json:"active_description"`
	EstimatedMinutes  *int           `json:"estimated_minutes,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Metadata          map[string]any `json:"metadata"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// AgentProfile is the spec §3 AgentProfile entity.
type AgentProfile struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Role           string      `json:"role"`
	Description    string      `json:"description"`
	Specialties    []string    `json:"specialties"`
	Status         AgentStatus `json:"status"`
	CurrentTaskID  *string     `json:"current_task_id,omitempty"`
	Backend        string      `json:"backend"`
	Level          string      `json:"level"`
	LastHeartbeat  *time.Time  `json:"last_heartbeat,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Activity is the spec §3 append-only Activity log entry.
type Activity struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	AgentID   *string      `json:"agent_id,omitempty"`
	TaskID    *string      `json:"task_id,omitempty"`
	ProjectID *string      `json:"project_id,omitempty"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}

// Document is the spec §3 Document entity.
type Document struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	Type      DocumentType `json:"type"`
	AuthorID  string       `json:"author_id"`
	TaskID    *string      `json:"task_id,omitempty"`
	ProjectID *string      `json:"project_id,omitempty"`
	Tags      []string     `json:"tags"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Notification is the spec §3 Notification entity.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Kind        string    `json:"kind"`
	Body        string    `json:"body"`
	TaskID      *string   `json:"task_id,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToDict serializes an entity to a plain map, the Go equivalent of the
// Python to_dict()/from_dict() round-trip pair the spec's round-trip
// invariant (§3, §8) is written against.
func ToDict(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromDict deserializes a plain map into an entity of type T, filling
// defaults (T's zero value) for any key absent from m — this is what lets
// an older, field-sparse record load cleanly (spec §3 round-trip
// invariant: "including defaults for absent keys").
func FromDict[T any](m map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(m)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
