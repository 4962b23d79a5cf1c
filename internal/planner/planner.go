// Package planner turns a natural-language project description into a set
// of tasks, agents, and a PRD document (spec §1, §4.H). There is no teacher
// file to ground this on — the original implementation's planning pipeline
// (research -> PRD -> tasks -> team) lives outside the retrieved pack — so
// this package is authored directly from the spec's contract.
package planner

import (
	"context"

	"github.com/shabbark/pocketpaw/internal/store"
)

// ResearchDepth controls how much external research plan_existing_project
// performs before re-planning (spec §4.H).
type ResearchDepth string

const (
	ResearchNone     ResearchDepth = "none"
	ResearchQuick    ResearchDepth = "quick"
	ResearchStandard ResearchDepth = "standard"
	ResearchDeep     ResearchDepth = "deep"
)

// Plan is a planner's output: tasks and agents to materialize into the
// store, plus the PRD document content to persist and link from the
// project.
type Plan struct {
	Tasks      []store.Task
	Agents     []store.AgentProfile
	PRDContent string
}

// Planner generates a Plan from a project description. Implementations may
// call out to an LLM; Plan is agnostic to how.
type Planner interface {
	Plan(ctx context.Context, description string) (Plan, error)
	Replan(ctx context.Context, projectID, userInput string, depth ResearchDepth) (Plan, error)
}
