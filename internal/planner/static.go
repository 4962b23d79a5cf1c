package planner

import "context"

// StaticPlanner is a deterministic Planner that always returns the same
// Plan (or Replan) regardless of input, used by tests and as a wiring
// placeholder until a real LLM-backed planner is configured.
type StaticPlanner struct {
	PlanResult   Plan
	ReplanResult Plan
	Err          error
}

func (p *StaticPlanner) Plan(ctx context.Context, description string) (Plan, error) {
	if p.Err != nil {
		return Plan{}, p.Err
	}
	return p.PlanResult, nil
}

func (p *StaticPlanner) Replan(ctx context.Context, projectID, userInput string, depth ResearchDepth) (Plan, error) {
	if p.Err != nil {
		return Plan{}, p.Err
	}
	return p.ReplanResult, nil
}
