// Package missioncontrol is the thin policy layer atop the store (spec
// §4.E): project/task/agent CRUD plus the transition rules — stamping
// completed_at, writing Activity entries, and publishing system events —
// that the bare store package does not know about.
package missioncontrol

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/store"
)

// Manager is the Mission-Control business API. It holds no process-wide
// singleton state (spec §9 "Singletons" redesign flag) — callers construct
// one Manager per App container and thread it through explicitly.
type Manager struct {
	store   *store.Store
	bus     *bus.Bus
	dataDir string
}

// New builds a Manager over store s, publishing system events onto b.
// dataDir is the root directory project working directories are nested
// under (see ProjectDir).
func New(s *store.Store, b *bus.Bus, dataDir string) *Manager {
	return &Manager{store: s, bus: b, dataDir: dataDir}
}

// CreateProject creates a Project.
func (m *Manager) CreateProject(ctx context.Context, p store.Project) (store.Project, error) {
	return m.store.CreateProject(ctx, p)
}

// UpdateProject patches a Project.
func (m *Manager) UpdateProject(ctx context.Context, id string, patch store.ProjectPatch) (store.Project, error) {
	return m.store.UpdateProject(ctx, id, patch)
}

// GetProject returns a Project by ID.
func (m *Manager) GetProject(ctx context.Context, id string) (store.Project, error) {
	return m.store.GetProject(ctx, id)
}

// ListProjects lists projects, optionally filtered by status.
func (m *Manager) ListProjects(ctx context.Context, status store.ProjectStatus) ([]store.Project, error) {
	return m.store.ListProjects(ctx, status)
}

// DeleteProject deletes a Project; the store cascades its tasks.
func (m *Manager) DeleteProject(ctx context.Context, id string) error {
	return m.store.DeleteProject(ctx, id)
}

// ProjectDir returns the on-disk working directory for a project, used when
// building an executor prompt (spec §4.F.1: "project_dir(project.id)").
func (m *Manager) ProjectDir(projectID string) string {
	return filepath.Join(m.dataDir, "projects", projectID)
}

// CreateTask creates a Task.
func (m *Manager) CreateTask(ctx context.Context, t store.Task) (store.Task, error) {
	return m.store.CreateTask(ctx, t)
}

// AssignTask sets a task's assignee_ids and moves it to assigned, if it was
// still in inbox.
func (m *Manager) AssignTask(ctx context.Context, taskID string, agentIDs []string) (store.Task, error) {
	assigned := store.TaskAssigned
	patch := store.TaskPatch{AssigneeIDs: &agentIDs}
	existing, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if existing.Status == store.TaskInbox {
		patch.Status = &assigned
	}
	updated, err := m.store.UpdateTask(ctx, taskID, patch)
	if err != nil {
		return store.Task{}, fmt.Errorf("assign task: %w", err)
	}
	if err := m.logActivity(ctx, store.ActivityTaskUpdated, updated.ProjectID, &taskID, nil,
		fmt.Sprintf("task assigned to %v", agentIDs)); err != nil {
		return store.Task{}, err
	}
	return updated, nil
}

// UpdateTaskStatus transitions a task's status. When transitioning to done
// it stamps completed_at atomically (handled by the store); on every
// transition it writes an Activity and publishes mc_task_status_changed
// (spec §4.E).
func (m *Manager) UpdateTaskStatus(ctx context.Context, taskID string, status store.TaskStatus, actorAgentID *string) (store.Task, error) {
	before, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	updated, err := m.store.UpdateTask(ctx, taskID, store.TaskPatch{Status: &status})
	if err != nil {
		return store.Task{}, fmt.Errorf("update task status: %w", err)
	}

	msg := fmt.Sprintf("task %s: %s -> %s", taskID, before.Status, status)
	if err := m.logActivity(ctx, store.ActivityTaskUpdated, updated.ProjectID, &taskID, actorAgentID, msg); err != nil {
		return store.Task{}, err
	}

	m.bus.PublishSystem(bus.SystemEvent{
		EventType: bus.EventTaskStatusChanged,
		Data: map[string]any{
			"task_id":    taskID,
			"from":       string(before.Status),
			"to":         string(status),
			"actor_id":   actorAgentID,
			"project_id": updated.ProjectID,
		},
		Timestamp: time.Now().UTC(),
	})
	return updated, nil
}

// GetProjectTasks returns every task with matching project_id (spec §4.E).
func (m *Manager) GetProjectTasks(ctx context.Context, projectID string) ([]store.Task, error) {
	return m.store.ListTasks(ctx, projectID)
}

// ProjectProgress is the aggregate returned by GetProjectProgress (spec
// §4.E).
type ProjectProgress struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	InProgress    int     `json:"in_progress"`
	Blocked       int     `json:"blocked"`
	Skipped       int     `json:"skipped"`
	HumanPending  int     `json:"human_pending"`
	Percent       float64 `json:"percent"`
}

// GetProjectProgress computes the progress aggregate over a project's
// tasks:
//
//	percent = round((completed + skipped) / total * 100, 1)   (0 if total == 0)
func (m *Manager) GetProjectProgress(ctx context.Context, projectID string) (ProjectProgress, error) {
	tasks, err := m.store.ListTasks(ctx, projectID)
	if err != nil {
		return ProjectProgress{}, err
	}
	var p ProjectProgress
	p.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case store.TaskDone:
			p.Completed++
		case store.TaskInProgress:
			p.InProgress++
		case store.TaskBlocked:
			p.Blocked++
		case store.TaskSkipped:
			p.Skipped++
		}
		if t.TaskType == store.TaskTypeHuman && t.Status != store.TaskDone && t.Status != store.TaskSkipped {
			p.HumanPending++
		}
	}
	if p.Total > 0 {
		p.Percent = math.Round(float64(p.Completed+p.Skipped)/float64(p.Total)*1000) / 10
	}
	return p, nil
}

// CreateAgent creates an AgentProfile.
func (m *Manager) CreateAgent(ctx context.Context, a store.AgentProfile) (store.AgentProfile, error) {
	return m.store.CreateAgent(ctx, a)
}

// SetAgentStatus updates an agent's status and current_task_id.
func (m *Manager) SetAgentStatus(ctx context.Context, agentID string, status store.AgentStatus, currentTaskID *string) (store.AgentProfile, error) {
	return m.store.SetAgentStatus(ctx, agentID, status, currentTaskID)
}

// DeleteAgent deletes an AgentProfile.
func (m *Manager) DeleteAgent(ctx context.Context, agentID string) error {
	return m.store.DeleteAgent(ctx, agentID)
}

// ReapStaleAgents resets every active/busy agent whose last heartbeat is
// older than staleAfter (or that has never reported one) back to idle,
// clears current_task_id, and moves its in-flight task to blocked so the
// scheduler's next dispatch can pick it up again or surface it for human
// review. Returns the number of agents reaped. Driven by the sweeper's
// periodic tick, not called from the request path.
func (m *Manager) ReapStaleAgents(ctx context.Context, staleAfter time.Duration) (int, error) {
	agents, err := m.store.ListAgents(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("reap stale agents: %w", err)
	}
	cutoff := time.Now().UTC().Add(-staleAfter)

	reaped := 0
	for _, a := range agents {
		if a.Status != store.AgentActive && a.Status != store.AgentBusy {
			continue
		}
		if a.LastHeartbeat != nil && a.LastHeartbeat.After(cutoff) {
			continue
		}

		taskID := a.CurrentTaskID
		if _, err := m.SetAgentStatus(ctx, a.ID, store.AgentIdle, nil); err != nil {
			return reaped, fmt.Errorf("reap agent %s: %w", a.ID, err)
		}
		if taskID != nil {
			if _, err := m.UpdateTaskStatus(ctx, *taskID, store.TaskBlocked, &a.ID); err != nil {
				return reaped, fmt.Errorf("reap task %s: %w", *taskID, err)
			}
		}
		if err := m.logActivity(ctx, store.ActivityAgentReaped, nil, taskID, &a.ID,
			fmt.Sprintf("agent %s reaped after stale heartbeat", a.Name)); err != nil {
			return reaped, err
		}
		m.bus.PublishSystem(bus.SystemEvent{
			EventType: bus.EventAgentReaped,
			Data:      map[string]any{"agent_id": a.ID, "task_id": taskID},
			Timestamp: time.Now().UTC(),
		})
		reaped++
	}
	return reaped, nil
}

// logActivity persists an Activity before publishing the corresponding
// broadcast (spec §5 ordering guarantee: "Activity log entries are
// persisted before the corresponding mc_activity_created broadcast.").
func (m *Manager) logActivity(ctx context.Context, activityType store.ActivityType, projectID, taskID, agentID *string, message string) error {
	activity, err := m.store.AppendActivity(ctx, store.Activity{
		Type:      activityType,
		ProjectID: projectID,
		TaskID:    taskID,
		AgentID:   agentID,
		Message:   message,
	})
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	m.bus.PublishSystem(bus.SystemEvent{
		EventType: bus.EventActivityCreated,
		Data: map[string]any{
			"activity_id": activity.ID,
			"type":        string(activity.Type),
			"message":     activity.Message,
		},
		Timestamp: time.Now().UTC(),
	})
	return nil
}
