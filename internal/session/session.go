// Package session implements the Deep-Work Session (spec §4.H): the
// externally-facing verbs of the deep_work module — start,
// plan_existing_project, approve, pause, resume — layered over
// missioncontrol, scheduler, and planner. Grounded on
// original_source's pocketclaw/deep_work/api.py, which calls these same
// five verbs from its FastAPI router.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/planner"
	"github.com/shabbark/pocketpaw/internal/scheduler"
	"github.com/shabbark/pocketpaw/internal/store"
)

// ValidationError is raised by Start/PlanExistingProject when the caller's
// input fails a size/shape check, distinct from downstream store/planner
// errors (spec §4.H: "raises a typed ValidationError").
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

const (
	minDescriptionLen = 10
	maxDescriptionLen = 5000
	maxUserInputLen   = 5000
)

var validResearchDepths = map[planner.ResearchDepth]bool{
	planner.ResearchNone:     true,
	planner.ResearchQuick:    true,
	planner.ResearchStandard: true,
	planner.ResearchDeep:     true,
}

// Session is the Deep-Work Session facade over one Mission-Control
// Manager/Store/Scheduler/Planner stack.
type Session struct {
	mgr     *missioncontrol.Manager
	st      *store.Store
	sched   *scheduler.Scheduler
	plan    planner.Planner
}

// New constructs a Session.
func New(mgr *missioncontrol.Manager, st *store.Store, sched *scheduler.Scheduler, plan planner.Planner) *Session {
	return &Session{mgr: mgr, st: st, sched: sched, plan: plan}
}

// Start validates description, creates a Project in awaiting_approval,
// runs the planner, and materializes the resulting tasks/agents/PRD linked
// to the project (spec §4.H "start").
func (s *Session) Start(ctx context.Context, description string) (store.Project, error) {
	if len(description) < minDescriptionLen || len(description) > maxDescriptionLen {
		return store.Project{}, &ValidationError{
			Field:   "description",
			Message: fmt.Sprintf("must be between %d and %d characters", minDescriptionLen, maxDescriptionLen),
		}
	}

	project, err := s.mgr.CreateProject(ctx, store.Project{
		Title:       firstLine(description),
		Description: description,
		Status:      store.ProjectAwaitingApproval,
	})
	if err != nil {
		return store.Project{}, fmt.Errorf("session: create project: %w", err)
	}

	result, err := s.plan.Plan(ctx, description)
	if err != nil {
		return store.Project{}, fmt.Errorf("session: planning failed: %w", err)
	}

	if err := s.materialize(ctx, &project, result); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

// PlanExistingProject re-invokes the planner against an existing project
// with additional user input (spec §4.H "plan_existing_project").
func (s *Session) PlanExistingProject(ctx context.Context, projectID, userInput string, depth planner.ResearchDepth) (store.Project, error) {
	trimmed := strings.TrimSpace(userInput)
	if trimmed == "" {
		return store.Project{}, &ValidationError{Field: "user_input", Message: "must not be empty"}
	}
	if len(userInput) > maxUserInputLen {
		return store.Project{}, &ValidationError{Field: "user_input", Message: fmt.Sprintf("must be at most %d characters", maxUserInputLen)}
	}
	if !validResearchDepths[depth] {
		return store.Project{}, &ValidationError{Field: "research_depth", Message: "must be one of none, quick, standard, deep"}
	}

	project, err := s.mgr.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, fmt.Errorf("session: get project: %w", err)
	}

	result, err := s.plan.Replan(ctx, projectID, userInput, depth)
	if err != nil {
		return store.Project{}, fmt.Errorf("session: replanning failed: %w", err)
	}

	if err := s.materialize(ctx, &project, result); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

// Approve validates the plan's dependency graph, moves the project to
// approved, registers the scheduler callback, and kicks the first dispatch
// (spec §4.H "approve").
func (s *Session) Approve(ctx context.Context, projectID string) (store.Project, error) {
	if err := s.sched.Approve(ctx, projectID); err != nil {
		return store.Project{}, fmt.Errorf("session: approve: %w", err)
	}
	return s.mgr.GetProject(ctx, projectID)
}

// Pause flips the project to paused without cancelling in-flight tasks
// (spec §4.H "pause").
func (s *Session) Pause(ctx context.Context, projectID string) (store.Project, error) {
	if err := s.sched.Pause(ctx, projectID); err != nil {
		return store.Project{}, fmt.Errorf("session: pause: %w", err)
	}
	return s.mgr.GetProject(ctx, projectID)
}

// Resume flips the project back to executing and re-invokes the dispatcher
// (spec §4.H "resume").
func (s *Session) Resume(ctx context.Context, projectID string) (store.Project, error) {
	if err := s.sched.Resume(ctx, projectID); err != nil {
		return store.Project{}, fmt.Errorf("session: resume: %w", err)
	}
	return s.mgr.GetProject(ctx, projectID)
}

// materialize persists a planner.Plan's PRD, agents, and tasks, linking
// each back to project. The task graph and agent roster are validated
// against the planner output schema before anything is written.
func (s *Session) materialize(ctx context.Context, project *store.Project, result planner.Plan) error {
	if err := planner.ValidatePlan(result); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if result.PRDContent != "" {
		pid := project.ID
		doc, err := s.st.CreateDocument(ctx, store.Document{
			Title:     "PRD: " + project.Title,
			Content:   result.PRDContent,
			Type:      store.DocumentPRD,
			ProjectID: &pid,
		})
		if err != nil {
			return fmt.Errorf("session: save prd: %w", err)
		}
		updated, err := s.mgr.UpdateProject(ctx, project.ID, store.ProjectPatch{PRDDocumentID: &doc.ID})
		if err != nil {
			return fmt.Errorf("session: link prd: %w", err)
		}
		*project = updated
	}

	for _, agent := range result.Agents {
		if _, err := s.mgr.CreateAgent(ctx, agent); err != nil {
			return fmt.Errorf("session: create agent: %w", err)
		}
	}

	for _, task := range result.Tasks {
		pid := project.ID
		task.ProjectID = &pid
		if _, err := s.mgr.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("session: create task: %w", err)
		}
	}

	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	const maxTitleLen = 120
	if len(s) > maxTitleLen {
		return s[:maxTitleLen]
	}
	return s
}
