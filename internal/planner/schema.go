package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchemaJSON describes the shape a Plan must marshal to before it is
// materialized into the store: a task graph with titles and blocked_by
// references, plus an agent roster. Mirrors the teacher's
// internal/engine.StructuredValidator pattern, applied to the planner's
// output instead of an agent's chat response.
const planSchemaJSON = `{
  "type": "object",
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "blocked_by": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["title"]
      }
    },
    "agents": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1}
        },
        "required": ["name"]
      }
    }
  },
  "required": ["tasks", "agents"]
}`

var (
	planSchemaOnce sync.Once
	planSchema     *jsonschema.Schema
	planSchemaErr  error
)

func compiledPlanSchema() (*jsonschema.Schema, error) {
	planSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
		if err != nil {
			planSchemaErr = fmt.Errorf("unmarshal plan schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("plan.json", doc); err != nil {
			planSchemaErr = fmt.Errorf("add plan schema resource: %w", err)
			return
		}
		planSchema, planSchemaErr = c.Compile("plan.json")
	})
	return planSchema, planSchemaErr
}

// planPayload is the JSON-shaped projection of a Plan that gets validated;
// Plan itself carries fuller store.Task/store.AgentProfile structs, which
// the schema does not need to know about.
type planPayload struct {
	Tasks []struct {
		Title     string   `json:"title"`
		BlockedBy []string `json:"blocked_by"`
	} `json:"tasks"`
	Agents []struct {
		Name string `json:"name"`
	} `json:"agents"`
}

// ValidatePlan checks a Plan's task graph and agent roster against the
// planner output schema before the caller persists it. Returns a
// descriptive error naming the schema violation, never panics.
func ValidatePlan(p Plan) error {
	schema, err := compiledPlanSchema()
	if err != nil {
		return err
	}

	// Empty, not nil, slices: a nil slice marshals as null, which the
	// schema's array types reject.
	payload := planPayload{
		Tasks: make([]struct {
			Title     string   `json:"title"`
			BlockedBy []string `json:"blocked_by"`
		}, 0, len(p.Tasks)),
		Agents: make([]struct {
			Name string `json:"name"`
		}, 0, len(p.Agents)),
	}
	for _, t := range p.Tasks {
		blockedBy := t.BlockedBy
		if blockedBy == nil {
			blockedBy = []string{}
		}
		payload.Tasks = append(payload.Tasks, struct {
			Title     string   `json:"title"`
			BlockedBy []string `json:"blocked_by"`
		}{Title: t.Title, BlockedBy: blockedBy})
	}
	for _, a := range p.Agents {
		payload.Agents = append(payload.Agents, struct {
			Name string `json:"name"`
		}{Name: a.Name})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal plan payload: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("unmarshal plan payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("plan schema validation failed: %w", err)
	}
	return nil
}
