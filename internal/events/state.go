package events

import (
	"time"

	"github.com/fyrsmithlabs/orchd/internal/plan"
	"github.com/fyrsmithlabs/orchd/internal/saga"
)

// Status is the externally visible lifecycle phase of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPlanning  Status = "planning"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunState is the state derived from a run's event sequence. It is
// never mutated directly: both the live path and replay obtain it
// exclusively through Reduce, so the two can never diverge. The
// CompletedSteps slice records completion order, which is what keeps
// LIFO rollback meaningful when steps run in parallel.
type RunState struct {
	CorrelationID string            `json:"correlation_id"`
	Goal          string            `json:"goal"`
	UserID        string            `json:"user_id"`
	Context       map[string]string `json:"context,omitempty"`
	Status        Status            `json:"status"`

	PlanID     string      `json:"plan_id,omitempty"`
	TemplateID string      `json:"template_id,omitempty"`
	CacheHit   bool        `json:"cache_hit,omitempty"`
	Steps      []plan.Step `json:"steps,omitempty"`

	Results        map[string]map[string]interface{} `json:"results,omitempty"`
	CompletedSteps []string                          `json:"completed_steps,omitempty"`
	FailedStepID   string                            `json:"failed_step_id,omitempty"`
	Error          string                            `json:"error,omitempty"`

	CompensationExecuted bool                      `json:"compensation_executed,omitempty"`
	CompensationResults  []saga.CompensationResult `json:"compensation_results,omitempty"`
	FinalResult          map[string]interface{}    `json:"final_result,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Checkpoint lineage. Generation counts cutovers, PriorEvents the
	// total events folded into the snapshot this history started from.
	Generation  int `json:"generation,omitempty"`
	PriorEvents int `json:"prior_events,omitempty"`
}

// Terminal reports whether the run has reached a final status.
func (s RunState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// StepsExecuted returns the number of steps that completed successfully.
func (s RunState) StepsExecuted() int {
	return len(s.CompletedSteps)
}

// NewRunState returns the zero state a history folds from.
func NewRunState() RunState {
	return RunState{Status: StatusPending}
}

// Reduce applies one event to a state and returns the next state. It
// is a pure function of its inputs: neither argument is mutated, maps
// and slices are copied before modification, and no clock, randomness
// or I/O is consulted. Unknown event types leave the state unchanged.
func Reduce(state RunState, ev Event) RunState {
	switch ev.Type {
	case TypeGoalReceived:
		p := ev.GoalReceived
		next := NewRunState()
		next.CorrelationID = p.CorrelationID
		next.Goal = p.Goal
		next.UserID = p.UserID
		next.Context = copyStringMap(p.Context)
		next.Status = StatusPlanning
		next.StartedAt = ev.At
		return next

	case TypePlanGenerated:
		p := ev.PlanGenerated
		next := state
		next.PlanID = p.PlanID
		next.TemplateID = p.TemplateID
		next.CacheHit = p.CacheHit
		next.Steps = copySteps(p.Steps)
		next.Status = StatusRunning
		return next

	case TypeToolCallRequested:
		// Intent only; the state transition happens on the result.
		return state

	case TypeToolResultReceived:
		p := ev.ToolResultReceived
		next := state
		if p.Success {
			next.Results = copyResults(state.Results)
			next.Results[p.StepID] = copyValueMap(p.Result)
			next.CompletedSteps = appendCopy(state.CompletedSteps, p.StepID)
			return next
		}
		next.FailedStepID = p.StepID
		next.Error = p.Error
		return next

	case TypeRunResumed:
		p := ev.RunResumed
		next := normalizeSnapshot(p.Snapshot)
		next.Generation = p.Generation
		next.PriorEvents = p.PriorEvents
		return next

	case TypeWorkflowCompleted:
		p := ev.WorkflowCompleted
		next := state
		next.Status = StatusCompleted
		next.FinalResult = copyValueMap(p.FinalResult)
		next.FinishedAt = ev.At
		return next

	case TypeWorkflowFailed:
		p := ev.WorkflowFailed
		next := state
		next.Status = StatusFailed
		if p.FailedStepID != "" {
			next.FailedStepID = p.FailedStepID
		}
		next.Error = p.ErrorMessage
		next.CompensationExecuted = p.CompensationExecuted
		next.CompensationResults = copyCompensationResults(p.CompensationResults)
		next.FinishedAt = ev.At
		return next
	}
	return state
}

// Replay folds an event sequence into its derived state. Replaying the
// same sequence always yields the same state.
func Replay(evs []Event) RunState {
	state := NewRunState()
	for _, ev := range evs {
		state = Reduce(state, ev)
	}
	return state
}

// normalizeSnapshot deep-copies a snapshot's reference fields so the
// resumed state never aliases the event payload.
func normalizeSnapshot(snap RunState) RunState {
	next := snap
	next.Context = copyStringMap(snap.Context)
	next.Steps = copySteps(snap.Steps)
	next.Results = copyResults(snap.Results)
	next.CompletedSteps = appendCopy(nil, snap.CompletedSteps...)
	next.CompensationResults = copyCompensationResults(snap.CompensationResults)
	next.FinalResult = copyValueMap(snap.FinalResult)
	return next
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyValueMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyResults(in map[string]map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(in)+1)
	for k, v := range in {
		out[k] = copyValueMap(v)
	}
	return out
}

func copySteps(in []plan.Step) []plan.Step {
	if in == nil {
		return nil
	}
	out := make([]plan.Step, len(in))
	copy(out, in)
	return out
}

func copyCompensationResults(in []saga.CompensationResult) []saga.CompensationResult {
	if in == nil {
		return nil
	}
	out := make([]saga.CompensationResult, len(in))
	copy(out, in)
	return out
}

func appendCopy(in []string, more ...string) []string {
	if in == nil && len(more) == 0 {
		return nil
	}
	out := make([]string, 0, len(in)+len(more))
	out = append(out, in...)
	out = append(out, more...)
	return out
}
