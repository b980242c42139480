// Package events implements the event-sourced core of a run: the typed
// event union, the append-only log, and the pure reducer that derives
// run state from the event sequence. Nothing in this package performs
// I/O; timestamps are supplied by the caller so the same code serves
// both the live append path and deterministic replay.
package events

import (
	"time"

	"github.com/fyrsmithlabs/orchd/internal/plan"
	"github.com/fyrsmithlabs/orchd/internal/saga"
)

// Type discriminates the event union.
type Type string

const (
	TypeGoalReceived       Type = "goal_received"
	TypePlanGenerated      Type = "plan_generated"
	TypeToolCallRequested  Type = "tool_call_requested"
	TypeToolResultReceived Type = "tool_result_received"
	TypeRunResumed         Type = "run_resumed"
	TypeWorkflowCompleted  Type = "workflow_completed"
	TypeWorkflowFailed     Type = "workflow_failed"
)

// Event is one immutable entry in a run's history. Exactly one payload
// pointer is set, matching Type. Seq is assigned by the log at append
// time and is authoritative for ordering within one history.
type Event struct {
	Seq  int       `json:"seq"`
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	GoalReceived       *GoalReceived       `json:"goal_received,omitempty"`
	PlanGenerated      *PlanGenerated      `json:"plan_generated,omitempty"`
	ToolCallRequested  *ToolCallRequested  `json:"tool_call_requested,omitempty"`
	ToolResultReceived *ToolResultReceived `json:"tool_result_received,omitempty"`
	RunResumed         *RunResumed         `json:"run_resumed,omitempty"`
	WorkflowCompleted  *WorkflowCompleted  `json:"workflow_completed,omitempty"`
	WorkflowFailed     *WorkflowFailed     `json:"workflow_failed,omitempty"`
}

// GoalReceived opens a run.
type GoalReceived struct {
	CorrelationID string            `json:"correlation_id"`
	Goal          string            `json:"goal"`
	UserID        string            `json:"user_id"`
	Context       map[string]string `json:"context,omitempty"`
}

// PlanGenerated records the plan a run will execute, whether served
// from the plan cache or freshly generated.
type PlanGenerated struct {
	CorrelationID string      `json:"correlation_id"`
	PlanID        string      `json:"plan_id"`
	Steps         []plan.Step `json:"steps"`
	CacheHit      bool        `json:"cache_hit"`
	TemplateID    string      `json:"template_id,omitempty"`
}

// ToolCallRequested records the intent to execute one plan step.
type ToolCallRequested struct {
	CorrelationID        string                 `json:"correlation_id"`
	StepID               string                 `json:"step_id"`
	ToolName             string                 `json:"tool_name"`
	ToolInput            map[string]interface{} `json:"tool_input,omitempty"`
	CompensationActivity string                 `json:"compensation_activity,omitempty"`
}

// ToolResultReceived records the terminal outcome of one plan step,
// after the activity layer's retry budget is exhausted.
type ToolResultReceived struct {
	CorrelationID string                 `json:"correlation_id"`
	StepID        string                 `json:"step_id"`
	ToolName      string                 `json:"tool_name"`
	Success       bool                   `json:"success"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// RunResumed is the synthetic first event of a history that continues
// a run after a checkpoint cutover. It carries the snapshot the prior
// history folded to, so replaying the new history alone reconstructs
// the full state.
type RunResumed struct {
	CorrelationID string   `json:"correlation_id"`
	Snapshot      RunState `json:"snapshot"`
	PriorEvents   int      `json:"prior_events"`
	Generation    int      `json:"generation"`
}

// WorkflowCompleted terminates a run that executed every plan step.
type WorkflowCompleted struct {
	CorrelationID   string                 `json:"correlation_id"`
	PlanID          string                 `json:"plan_id"`
	TotalSteps      int                    `json:"total_steps"`
	DurationSeconds float64                `json:"duration_seconds"`
	FinalResult     map[string]interface{} `json:"final_result,omitempty"`
}

// WorkflowFailed terminates a run after a terminal step or planning
// failure, carrying the full rollback outcome.
type WorkflowFailed struct {
	CorrelationID        string                    `json:"correlation_id"`
	PlanID               string                    `json:"plan_id,omitempty"`
	FailedStepID         string                    `json:"failed_step_id,omitempty"`
	ErrorMessage         string                    `json:"error_message"`
	CompensationExecuted bool                      `json:"compensation_executed"`
	CompensationResults  []saga.CompensationResult `json:"compensation_results,omitempty"`
}

// NewGoalReceived wraps a GoalReceived payload in an envelope.
func NewGoalReceived(at time.Time, p GoalReceived) Event {
	return Event{Type: TypeGoalReceived, At: at, GoalReceived: &p}
}

// NewPlanGenerated wraps a PlanGenerated payload in an envelope.
func NewPlanGenerated(at time.Time, p PlanGenerated) Event {
	return Event{Type: TypePlanGenerated, At: at, PlanGenerated: &p}
}

// NewToolCallRequested wraps a ToolCallRequested payload in an envelope.
func NewToolCallRequested(at time.Time, p ToolCallRequested) Event {
	return Event{Type: TypeToolCallRequested, At: at, ToolCallRequested: &p}
}

// NewToolResultReceived wraps a ToolResultReceived payload in an envelope.
func NewToolResultReceived(at time.Time, p ToolResultReceived) Event {
	return Event{Type: TypeToolResultReceived, At: at, ToolResultReceived: &p}
}

// NewRunResumed wraps a RunResumed payload in an envelope.
func NewRunResumed(at time.Time, p RunResumed) Event {
	return Event{Type: TypeRunResumed, At: at, RunResumed: &p}
}

// NewWorkflowCompleted wraps a WorkflowCompleted payload in an envelope.
func NewWorkflowCompleted(at time.Time, p WorkflowCompleted) Event {
	return Event{Type: TypeWorkflowCompleted, At: at, WorkflowCompleted: &p}
}

// NewWorkflowFailed wraps a WorkflowFailed payload in an envelope.
func NewWorkflowFailed(at time.Time, p WorkflowFailed) Event {
	return Event{Type: TypeWorkflowFailed, At: at, WorkflowFailed: &p}
}
