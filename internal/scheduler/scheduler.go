// Package scheduler implements the Deep-Work Scheduler (spec §4.G): a
// level-based dependency dispatcher that drives one project at a time from
// an approved plan to completion, dispatching ready tasks through the
// executor and cascading re-dispatch on every completion callback.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/executor"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/store"
)

// TaskDispatcher is the subset of executor.Executor the scheduler depends
// on, kept as an interface so the scheduler can be tested without a real
// agentrouter.
type TaskDispatcher interface {
	ExecuteTaskBackground(ctx context.Context, taskID, agentID string) bool
	SetOnTaskDone(cb executor.OnTaskDone)
}

// HumanTaskRouter delivers human/review tasks to an external collaborator
// once they enter the ready set (spec §4.G step 4).
type HumanTaskRouter interface {
	NotifyTaskReady(ctx context.Context, task store.Task) error
}

// Scheduler drives one project's dispatch loop.
type Scheduler struct {
	st       *store.Store
	mgr      *missioncontrol.Manager
	bus      *bus.Bus
	exec     TaskDispatcher
	humans   HumanTaskRouter
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool // projectID -> currently dispatching (reentrancy guard)
}

// New constructs a Scheduler. Its completion callback is registered with
// exec by Approve.
func New(st *store.Store, mgr *missioncontrol.Manager, b *bus.Bus, exec TaskDispatcher, humans HumanTaskRouter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		st:      st,
		mgr:     mgr,
		bus:     b,
		exec:    exec,
		humans:  humans,
		logger:  logger,
		running: make(map[string]bool),
	}
	return s
}

// ReadySet returns tasks with status ∈ {inbox, assigned} whose every
// blocked_by points at a done/skipped task (spec §4.G "Ready-set
// algorithm").
func ReadySet(tasks []store.Task) []store.Task {
	byID := make(map[string]store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var ready []store.Task
	for _, t := range tasks {
		if t.Status != store.TaskInbox && t.Status != store.TaskAssigned {
			continue
		}
		allSatisfied := true
		for _, dep := range t.BlockedBy {
			depTask, ok := byID[dep]
			if !ok || (depTask.Status != store.TaskDone && depTask.Status != store.TaskSkipped) {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, t)
		}
	}
	return ready
}

// Approve validates the project's dependency graph, moves it to approved,
// and kicks the first dispatch (spec §4.H "approve").
func (s *Scheduler) Approve(ctx context.Context, projectID string) error {
	tasks, err := s.mgr.GetProjectTasks(ctx, projectID)
	if err != nil {
		return fmt.Errorf("scheduler: load tasks: %w", err)
	}
	if err := ValidateDependencyGraph(tasks); err != nil {
		return fmt.Errorf("scheduler: invalid dependency graph: %w", err)
	}

	approved := store.ProjectApproved
	if _, err := s.mgr.UpdateProject(ctx, projectID, store.ProjectPatch{Status: &approved}); err != nil {
		return fmt.Errorf("scheduler: approve project: %w", err)
	}

	s.exec.SetOnTaskDone(func(taskID string) {
		s.OnTaskDone(context.Background(), projectID, taskID)
	})

	s.Dispatch(ctx, projectID)
	return nil
}

// OnTaskDone is the executor's direct completion callback (spec §9: a
// direct callback, not a bus event, on the critical cascade-dispatch path).
func (s *Scheduler) OnTaskDone(ctx context.Context, projectID, taskID string) {
	s.Dispatch(ctx, projectID)
}

// Dispatch runs one iteration of the dispatch loop (spec §4.G "Dispatch
// loop"): no-op when paused, dispatch every ready agent task that fits
// under the executor's concurrency cap, notify human/review tasks, and
// check for project completion.
func (s *Scheduler) Dispatch(ctx context.Context, projectID string) {
	s.mu.Lock()
	if s.running[projectID] {
		s.mu.Unlock()
		return
	}
	s.running[projectID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, projectID)
		s.mu.Unlock()
	}()

	project, err := s.mgr.GetProject(ctx, projectID)
	if err != nil {
		s.logger.Warn("dispatch: project not found", "project_id", projectID, "error", err)
		return
	}
	if project.Status == store.ProjectPaused {
		return
	}

	tasks, err := s.mgr.GetProjectTasks(ctx, projectID)
	if err != nil {
		s.logger.Warn("dispatch: failed to list tasks", "project_id", projectID, "error", err)
		return
	}

	dispatchedAny := false
	ready := ReadySet(tasks)
	for _, t := range ready {
		switch t.TaskType {
		case store.TaskTypeHuman, store.TaskTypeReview:
			if s.humans != nil {
				if err := s.humans.NotifyTaskReady(ctx, t); err != nil {
					s.logger.Warn("failed to notify human task router", "task_id", t.ID, "error", err)
				}
			}
		default:
			if len(t.AssigneeIDs) == 0 {
				continue
			}
			launched := s.exec.ExecuteTaskBackground(ctx, t.ID, t.AssigneeIDs[0])
			if !launched {
				// At capacity or already running; the next callback fire
				// recomputes the ready set and retries — no queue needed.
				continue
			}
			dispatchedAny = true
		}
	}

	// First task to actually start moves the project out of approved and
	// into executing (spec §4.H "approve ... transitions to executing when
	// first task moves to in_progress").
	if dispatchedAny && project.Status == store.ProjectApproved {
		executing := store.ProjectExecuting
		if _, err := s.mgr.UpdateProject(ctx, projectID, store.ProjectPatch{Status: &executing}); err != nil {
			s.logger.Warn("failed to mark project executing", "project_id", projectID, "error", err)
		}
	}

	s.checkCompletion(ctx, projectID, tasks)
}

// checkCompletion transitions the project to completed and broadcasts
// project_completed once every task is done or skipped (spec §4.G step 5).
func (s *Scheduler) checkCompletion(ctx context.Context, projectID string, tasks []store.Task) {
	if len(tasks) == 0 {
		return
	}
	for _, t := range tasks {
		if t.Status != store.TaskDone && t.Status != store.TaskSkipped {
			return
		}
	}

	completed := store.ProjectCompleted
	if _, err := s.mgr.UpdateProject(ctx, projectID, store.ProjectPatch{Status: &completed}); err != nil {
		s.logger.Warn("failed to mark project completed", "project_id", projectID, "error", err)
		return
	}
	s.bus.PublishSystem(bus.SystemEvent{
		EventType: bus.EventProjectCompleted,
		Data:      map[string]any{"project_id": projectID},
	})
}

// Pause flips a project to paused. In-flight tasks are not cancelled (spec
// §4.H "pause").
func (s *Scheduler) Pause(ctx context.Context, projectID string) error {
	paused := store.ProjectPaused
	_, err := s.mgr.UpdateProject(ctx, projectID, store.ProjectPatch{Status: &paused})
	return err
}

// Resume flips a project back to executing and re-invokes the dispatcher
// (spec §4.H "resume").
func (s *Scheduler) Resume(ctx context.Context, projectID string) error {
	executing := store.ProjectExecuting
	if _, err := s.mgr.UpdateProject(ctx, projectID, store.ProjectPatch{Status: &executing}); err != nil {
		return err
	}
	s.Dispatch(ctx, projectID)
	return nil
}
