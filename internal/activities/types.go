// Package activities implements the activity-execution boundary of a
// run: every external call the orchestration workflow makes (plan
// cache, planner, tools, guard, event publishing) lives here, behind
// Temporal's timeout and retry envelope.
package activities

import (
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/plan"
)

// CacheLookupInput asks the plan cache for a plan matching a goal.
type CacheLookupInput struct {
	Goal string `json:"goal"`
}

// CacheLookupResult reports a hit with the cached plan, or a miss.
type CacheLookupResult struct {
	Hit        bool        `json:"hit"`
	PlanID     string      `json:"plan_id,omitempty"`
	TemplateID string      `json:"template_id,omitempty"`
	Steps      []plan.Step `json:"steps,omitempty"`
	Similarity float32     `json:"similarity,omitempty"`
}

// GeneratePlanInput asks the planner for a fresh plan.
type GeneratePlanInput struct {
	Goal    string            `json:"goal"`
	Context map[string]string `json:"context,omitempty"`
}

// GeneratePlanResult carries the generated plan. TemplateID names the
// reusable shape the planner filed the plan under in the cache.
type GeneratePlanResult struct {
	PlanID     string      `json:"plan_id"`
	TemplateID string      `json:"template_id,omitempty"`
	Steps      []plan.Step `json:"steps"`
}

// ExecuteToolInput invokes one tool. Compensation marks rollback
// invocations so they are metered and logged separately.
type ExecuteToolInput struct {
	Tool         string                 `json:"tool"`
	Input        map[string]interface{} `json:"input,omitempty"`
	Compensation bool                   `json:"compensation,omitempty"`
}

// ExecuteToolResult carries the tool's output map.
type ExecuteToolResult struct {
	Output map[string]interface{} `json:"output,omitempty"`
}

// GuardPlanInput submits an acquired plan for policy evaluation before
// any step executes.
type GuardPlanInput struct {
	UserID string      `json:"user_id"`
	Goal   string      `json:"goal"`
	PlanID string      `json:"plan_id"`
	Steps  []plan.Step `json:"steps"`
}

// GuardPlanResult reports the verdict. Violations are human-readable,
// one per rule that matched.
type GuardPlanResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

// PublishEventsInput fans a batch of run events out to the message
// broker for live subscribers.
type PublishEventsInput struct {
	RunID  string         `json:"run_id"`
	Events []events.Event `json:"events"`
}
