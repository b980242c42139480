// Package workflows contains the Temporal workflow that orchestrates an
// agent run: goal intake, plan acquisition, guarded step execution with
// compensation, and the checkpoint cutover that keeps histories bounded.
package workflows

import (
	"fmt"

	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/saga"
)

// Workflow and query names, fixed so external callers (gateway, CLI)
// can address a run without importing its implementation.
const (
	AgentRunWorkflowName = "AgentRunWorkflow"

	// QueryRunState returns the current derived events.RunState.
	QueryRunState = "run_state"
	// QueryRunEvents takes a sequence number and returns the events
	// recorded after it in the current history.
	QueryRunEvents = "run_events"
)

// RunOptions tunes one run. The zero value is valid and maps to the
// production defaults via ApplyDefaults.
type RunOptions struct {
	MaxConcurrentSteps  int  `json:"max_concurrent_steps,omitempty"`  // ready steps in flight at once (default 1)
	CheckpointMaxEvents int  `json:"checkpoint_max_events,omitempty"` // history length that triggers cutover (0 = default, negative disables)
	DisableEventPublish bool `json:"disable_event_publish,omitempty"` // skip broker notifications (tests, air-gapped workers)
	DisableGuard        bool `json:"disable_guard,omitempty"`         // skip the plan guard (trusted internal runs)
}

// ApplyDefaults fills zero values with production defaults.
func (o *RunOptions) ApplyDefaults() {
	if o.MaxConcurrentSteps == 0 {
		o.MaxConcurrentSteps = 1
	}
	if o.CheckpointMaxEvents == 0 {
		o.CheckpointMaxEvents = events.DefaultMaxEvents
	}
}

// minCheckpointEvents is the smallest usable cutover threshold: a
// resumed history spends one event on RunResumed and two per step, so
// anything lower would cut over before making progress.
const minCheckpointEvents = 8

// Validate checks option ranges after defaults are applied.
func (o RunOptions) Validate() error {
	if o.MaxConcurrentSteps < 1 {
		return fmt.Errorf("max_concurrent_steps must be >= 1, got %d", o.MaxConcurrentSteps)
	}
	if o.CheckpointMaxEvents > 0 && o.CheckpointMaxEvents < minCheckpointEvents {
		return fmt.Errorf("checkpoint_max_events must be >= %d or negative to disable, got %d", minCheckpointEvents, o.CheckpointMaxEvents)
	}
	return nil
}

// checkpointPolicy maps the options to the event log policy.
func (o RunOptions) checkpointPolicy() events.CheckpointPolicy {
	if o.CheckpointMaxEvents < 0 {
		return events.CheckpointPolicy{MaxEvents: 0}
	}
	return events.CheckpointPolicy{MaxEvents: o.CheckpointMaxEvents}
}

// AgentRunInput starts (or, with Resume set, continues) an agent run.
type AgentRunInput struct {
	Goal    string            `json:"goal"`
	UserID  string            `json:"user_id"`
	Context map[string]string `json:"context,omitempty"`
	Options RunOptions        `json:"options"`

	// Resume carries the state of the prior history across a
	// checkpoint cutover. Never set by external callers.
	Resume *ResumeState `json:"resume,omitempty"`
}

// ResumeState is the snapshot a cutover hands to its successor history.
type ResumeState struct {
	Snapshot    events.RunState `json:"snapshot"`
	Saga        saga.Snapshot   `json:"saga"`
	PriorEvents int             `json:"prior_events"`
	Generation  int             `json:"generation"`
}

// AgentRunResult is returned for completed runs. Failed runs surface a
// non-retryable application error carrying FailureDetails instead.
type AgentRunResult struct {
	CorrelationID   string                            `json:"correlation_id"`
	Status          events.Status                     `json:"status"`
	PlanID          string                            `json:"plan_id,omitempty"`
	TemplateID      string                            `json:"template_id,omitempty"`
	CacheHit        bool                              `json:"cache_hit"`
	StepsExecuted   int                               `json:"steps_executed"`
	Results         map[string]map[string]interface{} `json:"results,omitempty"`
	DurationSeconds float64                           `json:"duration_seconds"`
	Generation      int                               `json:"generation"`
	TotalEvents     int                               `json:"total_events"`
}

// FailureDetails is the structured payload attached to the terminal
// error of a failed run. Everything a caller needs for remediation is
// in one place: the failed step, the triggering error, and the full
// compensation outcome list.
type FailureDetails struct {
	CorrelationID        string                    `json:"correlation_id"`
	PlanID               string                    `json:"plan_id,omitempty"`
	FailedStepID         string                    `json:"failed_step_id,omitempty"`
	ErrorMessage         string                    `json:"error_message"`
	StepsExecuted        int                       `json:"steps_executed"`
	CompensationExecuted bool                      `json:"compensation_executed"`
	CompensationResults  []saga.CompensationResult `json:"compensation_results,omitempty"`
}
