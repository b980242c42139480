package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/workflows"
)

// RunService is everything the HTTP handlers need from the run
// backend. mcp.RunStarter is a strict subset, so one implementation
// serves both the HTTP and MCP surfaces.
type RunService interface {
	StartRun(ctx context.Context, goal, userID string, runContext map[string]string) (string, error)
	RunState(ctx context.Context, runID string) (events.RunState, error)
	RunEvents(ctx context.Context, runID string, sinceSeq int) ([]events.Event, error)
	RunResult(ctx context.Context, runID string) (RunOutcome, error)
	CancelRun(ctx context.Context, runID string) error
}

// Terminal statuses reported by RunResult.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// RunOutcome is the terminal report for a run. Completed runs carry
// Result; failed and compensated runs carry Failure.
type RunOutcome struct {
	RunID   string                    `json:"run_id"`
	Status  string                    `json:"status"`
	Result  *workflows.AgentRunResult `json:"result,omitempty"`
	Failure *workflows.FailureDetails `json:"failure,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// TemporalRuns implements RunService against a Temporal client. Run
// IDs double as workflow IDs, so every lookup addresses the latest
// history of the run even after checkpoint cutovers.
type TemporalRuns struct {
	client    client.Client
	taskQueue string
	defaults  workflows.RunOptions
	logger    *zap.Logger
}

// NewTemporalRuns wires a run service to a Temporal client. The
// defaults apply to every run submitted through this service.
func NewTemporalRuns(c client.Client, taskQueue string, defaults workflows.RunOptions, logger *zap.Logger) (*TemporalRuns, error) {
	if c == nil {
		return nil, fmt.Errorf("temporal client is required")
	}
	if taskQueue == "" {
		return nil, fmt.Errorf("task queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalRuns{
		client:    c,
		taskQueue: taskQueue,
		defaults:  defaults,
		logger:    logger,
	}, nil
}

// StartRun submits a new run and returns its ID without waiting for
// the outcome.
func (t *TemporalRuns) StartRun(ctx context.Context, goal, userID string, runContext map[string]string) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:        "run-" + uuid.NewString(),
		TaskQueue: t.taskQueue,
	}
	input := workflows.AgentRunInput{
		Goal:    goal,
		UserID:  userID,
		Context: runContext,
		Options: t.defaults,
	}

	we, err := t.client.ExecuteWorkflow(ctx, opts, workflows.AgentRunWorkflowName, input)
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}

	t.logger.Info("run started",
		zap.String("run_id", we.GetID()),
		zap.String("temporal_run_id", we.GetRunID()),
		zap.String("user_id", userID),
	)
	return we.GetID(), nil
}

// RunState queries the live workflow for its derived state.
func (t *TemporalRuns) RunState(ctx context.Context, runID string) (events.RunState, error) {
	resp, err := t.client.QueryWorkflow(ctx, runID, "", workflows.QueryRunState)
	if err != nil {
		return events.RunState{}, fmt.Errorf("querying run %s state: %w", runID, err)
	}
	var state events.RunState
	if err := resp.Get(&state); err != nil {
		return events.RunState{}, fmt.Errorf("decoding run %s state: %w", runID, err)
	}
	return state, nil
}

// RunEvents returns the events recorded after sinceSeq in the run's
// current history.
func (t *TemporalRuns) RunEvents(ctx context.Context, runID string, sinceSeq int) ([]events.Event, error) {
	resp, err := t.client.QueryWorkflow(ctx, runID, "", workflows.QueryRunEvents, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("querying run %s events: %w", runID, err)
	}
	var evs []events.Event
	if err := resp.Get(&evs); err != nil {
		return nil, fmt.Errorf("decoding run %s events: %w", runID, err)
	}
	return evs, nil
}

// RunResult blocks until the run reaches a terminal state and reports
// it. GetWorkflow follows the continue-as-new chain, so a run that cut
// over mid-wait still resolves to its final history's outcome. Errors
// are returned only for infrastructure failures; a failed or canceled
// run is a successful RunOutcome.
func (t *TemporalRuns) RunResult(ctx context.Context, runID string) (RunOutcome, error) {
	wf := t.client.GetWorkflow(ctx, runID, "")

	var result workflows.AgentRunResult
	err := wf.Get(ctx, &result)
	if err == nil {
		return RunOutcome{RunID: runID, Status: OutcomeCompleted, Result: &result}, nil
	}

	if temporal.IsCanceledError(err) {
		outcome := RunOutcome{RunID: runID, Status: OutcomeCanceled, Error: err.Error()}
		var canceled *temporal.CanceledError
		if errors.As(err, &canceled) && canceled.HasDetails() {
			var details workflows.FailureDetails
			if derr := canceled.Details(&details); derr == nil {
				outcome.Failure = &details
			}
		}
		return outcome, nil
	}

	if details, ok := workflows.FailureDetailsFromError(err); ok {
		return RunOutcome{
			RunID:   runID,
			Status:  OutcomeFailed,
			Failure: &details,
			Error:   details.ErrorMessage,
		}, nil
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return RunOutcome{RunID: runID, Status: OutcomeFailed, Error: appErr.Message()}, nil
	}

	return RunOutcome{}, fmt.Errorf("awaiting run %s: %w", runID, err)
}

// CancelRun requests cancellation. The workflow rolls back completed
// steps before finishing, so cancellation is not immediate.
func (t *TemporalRuns) CancelRun(ctx context.Context, runID string) error {
	if err := t.client.CancelWorkflow(ctx, runID, ""); err != nil {
		return fmt.Errorf("canceling run %s: %w", runID, err)
	}
	t.logger.Info("run cancellation requested", zap.String("run_id", runID))
	return nil
}

// isNotFound reports whether err means the run does not exist.
func isNotFound(err error) bool {
	var notFound *serviceerror.NotFound
	return errors.As(err, &notFound)
}
