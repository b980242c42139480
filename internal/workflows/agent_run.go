package workflows

import (
	"errors"
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/orchd/internal/activities"
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/plan"
	"github.com/fyrsmithlabs/orchd/internal/saga"
)

// AgentRunWorkflow executes one agent run end to end:
//
//  1. Record GoalReceived (or RunResumed when continuing a checkpoint).
//  2. Ask the plan cache for a matching plan; degrade to a miss on error.
//  3. On a miss, generate a plan and validate it.
//  4. Submit the plan to the guard before any step executes.
//  5. Drive ready steps through the saga executor with bounded
//     parallelism, registering compensations as steps succeed.
//  6. On terminal step failure or cancellation, roll back every
//     registered compensation in reverse completion order and fail the
//     run with structured details.
//  7. When the event log crosses the checkpoint threshold, finish the
//     in-flight steps and continue as new from a state snapshot.
//
// Every external call goes through the activity option classes in
// options.go; the workflow itself performs no I/O.
func AgentRunWorkflow(ctx workflow.Context, input AgentRunInput) (*AgentRunResult, error) {
	logger := workflow.GetLogger(ctx)

	input.Options.ApplyDefaults()
	if err := input.Options.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	if input.Resume == nil {
		if strings.TrimSpace(input.Goal) == "" {
			return nil, temporal.NewNonRetryableApplicationError("goal is required", ErrTypeInvalidInput, nil)
		}
		if strings.TrimSpace(input.UserID) == "" {
			return nil, temporal.NewNonRetryableApplicationError("user_id is required", ErrTypeInvalidInput, nil)
		}
	}

	r := &run{
		input: input,
		opts:  input.Options,
		runID: workflow.GetInfo(ctx).WorkflowExecution.ID,
		log:   events.NewLog(input.Options.checkpointPolicy()),
	}

	if err := r.registerQueries(ctx); err != nil {
		return nil, err
	}

	// Phase 1: open the history.
	if input.Resume != nil {
		r.exec = saga.NewExecutorFromSnapshot(r.inv, input.Resume.Saga)
		r.record(ctx, events.NewRunResumed(workflow.Now(ctx), events.RunResumed{
			CorrelationID: r.runID,
			Snapshot:      input.Resume.Snapshot,
			PriorEvents:   input.Resume.PriorEvents,
			Generation:    input.Resume.Generation,
		}))
		logger.Info("Run resumed from checkpoint",
			"generation", input.Resume.Generation,
			"prior_events", input.Resume.PriorEvents,
			"completed_steps", len(input.Resume.Snapshot.CompletedSteps))
	} else {
		r.exec = saga.NewExecutor(r.inv)
		r.record(ctx, events.NewGoalReceived(workflow.Now(ctx), events.GoalReceived{
			CorrelationID: r.runID,
			Goal:          input.Goal,
			UserID:        input.UserID,
			Context:       input.Context,
		}))
		logger.Info("Run started", "goal", input.Goal, "user_id", input.UserID)
	}
	r.publish(ctx)

	// Phase 2+3: plan acquisition, skipped when the snapshot already
	// carries a plan.
	if r.log.State().PlanID == "" {
		if failErr := r.acquirePlan(ctx); failErr != nil {
			return r.failRun(ctx, ErrTypePlanningFailed, "", failErr)
		}

		// Phase 4: guard the plan before anything executes.
		if !r.opts.DisableGuard {
			if failErr := r.guardPlan(ctx); failErr != nil {
				return r.failRun(ctx, ErrTypePlanRejected, "", failErr)
			}
		}
	}

	// Phase 5: step execution.
	failure, checkpoint := r.executeSteps(ctx)
	if failure != nil {
		return r.failRun(ctx, ErrTypeRunFailed, failure.stepID, failure.err)
	}
	if checkpoint {
		return r.continueAsNew(ctx)
	}

	// Phase 7: completion.
	return r.completeRun(ctx)
}

// run carries the per-execution state of one workflow history. All
// mutation happens on the main workflow coroutine; step coroutines
// only execute activities and report outcomes over a channel.
type run struct {
	input AgentRunInput
	opts  RunOptions
	runID string
	log   *events.Log
	exec  *saga.Executor
	inv   activityInvoker

	published         int
	checkpointPending bool
}

func (r *run) registerQueries(ctx workflow.Context) error {
	if err := workflow.SetQueryHandler(ctx, QueryRunState, func() (events.RunState, error) {
		return r.log.State(), nil
	}); err != nil {
		return fmt.Errorf("registering %s query: %w", QueryRunState, err)
	}
	if err := workflow.SetQueryHandler(ctx, QueryRunEvents, func(sinceSeq int) ([]events.Event, error) {
		return r.log.EventsSince(sinceSeq), nil
	}); err != nil {
		return fmt.Errorf("registering %s query: %w", QueryRunEvents, err)
	}
	return nil
}

// record appends an event and latches the checkpoint signal.
func (r *run) record(ctx workflow.Context, ev events.Event) {
	_, crossed := r.log.Append(ev)
	if crossed {
		workflow.GetLogger(ctx).Info("Checkpoint threshold crossed, cutting over at next quiescence",
			"events", r.log.Len(),
			"threshold", r.opts.CheckpointMaxEvents)
		r.checkpointPending = true
	}
}

// publish forwards events recorded since the last successful publish
// to the broker. Failures are logged and the batch is retried on the
// next call; subscribers deduplicate by sequence number.
func (r *run) publish(ctx workflow.Context) {
	if r.opts.DisableEventPublish {
		return
	}
	pending := r.log.EventsSince(r.published)
	if len(pending) == 0 {
		return
	}
	if err := r.inv.publishEvents(ctx, activities.PublishEventsInput{RunID: r.runID, Events: pending}); err != nil {
		workflow.GetLogger(ctx).Warn("Event publish failed (non-fatal)", "error", err)
		return
	}
	r.published += len(pending)
}

// acquirePlan runs the cache lookup and, on a miss, the planner. The
// cache is never a hard dependency: lookup errors degrade to a miss.
func (r *run) acquirePlan(ctx workflow.Context) error {
	logger := workflow.GetLogger(ctx)
	state := r.log.State()

	cached, err := r.inv.checkPlanCache(ctx, state.Goal)
	if err != nil {
		if temporal.IsCanceledError(err) {
			return err
		}
		logger.Warn("Plan cache lookup failed, treating as miss", "error", err)
		cached = activities.CacheLookupResult{}
	}

	var acquired plan.Plan
	if cached.Hit {
		acquired = plan.Plan{ID: cached.PlanID, TemplateID: cached.TemplateID, Steps: cached.Steps}
		logger.Info("Plan cache hit",
			"plan_id", cached.PlanID,
			"template_id", cached.TemplateID,
			"similarity", cached.Similarity)
	} else {
		generated, err := r.inv.generatePlan(ctx, state.Goal, state.Context)
		if err != nil {
			return fmt.Errorf("plan generation failed: %w", err)
		}
		acquired = plan.Plan{ID: generated.PlanID, TemplateID: generated.TemplateID, Steps: generated.Steps}
		logger.Info("Plan generated", "plan_id", generated.PlanID, "steps", len(generated.Steps))
	}

	if err := plan.Validate(acquired); err != nil {
		return fmt.Errorf("unusable plan: %w", err)
	}

	r.record(ctx, events.NewPlanGenerated(workflow.Now(ctx), events.PlanGenerated{
		CorrelationID: r.runID,
		PlanID:        acquired.ID,
		Steps:         acquired.Steps,
		CacheHit:      cached.Hit,
		TemplateID:    acquired.TemplateID,
	}))
	r.publish(ctx)
	return nil
}

// guardPlan submits the acquired plan for policy evaluation. The guard
// fails closed: an unavailable guard rejects the plan.
func (r *run) guardPlan(ctx workflow.Context) error {
	state := r.log.State()
	verdict, err := r.inv.guardPlan(ctx, activities.GuardPlanInput{
		UserID: state.UserID,
		Goal:   state.Goal,
		PlanID: state.PlanID,
		Steps:  state.Steps,
	})
	if err != nil {
		if temporal.IsCanceledError(err) {
			return err
		}
		return fmt.Errorf("plan guard unavailable: %w", err)
	}
	if !verdict.Allowed {
		return fmt.Errorf("plan rejected by guard: %s", strings.Join(verdict.Violations, "; "))
	}
	return nil
}

// stepFailure names the step whose terminal failure (or cancellation)
// ended execution.
type stepFailure struct {
	stepID string
	err    error
}

type stepOutcome struct {
	step   plan.Step
	result map[string]interface{}
	err    error
}

// executeSteps drives ready steps through the saga executor with at
// most MaxConcurrentSteps in flight. On failure or a pending
// checkpoint it stops dispatching and drains the in-flight steps, so
// compensations registered by late successes still make it onto the
// stack before rollback or cutover. Returns the first failure, or
// checkpoint=true when the policy fired and steps remain.
func (r *run) executeSteps(ctx workflow.Context) (*stepFailure, bool) {
	state := r.log.State()
	sched := plan.NewScheduler(state.Steps)
	for _, id := range state.CompletedSteps {
		sched.MarkDone(id)
	}

	resultCh := workflow.NewChannel(ctx)
	inFlight := 0
	var backlog []plan.Step
	var failure *stepFailure

	for {
		if failure == nil && !r.checkpointPending {
			backlog = append(backlog, sched.Ready()...)
			for len(backlog) > 0 && inFlight < r.opts.MaxConcurrentSteps {
				step := backlog[0]
				backlog = backlog[1:]
				r.record(ctx, events.NewToolCallRequested(workflow.Now(ctx), events.ToolCallRequested{
					CorrelationID:        r.runID,
					StepID:               step.ID,
					ToolName:             step.Tool,
					ToolInput:            step.Input,
					CompensationActivity: step.Compensation,
				}))
				inFlight++
				workflow.Go(ctx, func(gctx workflow.Context) {
					result, err := r.exec.Execute(gctx, step)
					resultCh.Send(gctx, stepOutcome{step: step, result: result, err: err})
				})
			}
		}

		if inFlight == 0 {
			break
		}

		var out stepOutcome
		resultCh.Receive(ctx, &out)
		inFlight--

		if out.err != nil {
			r.record(ctx, events.NewToolResultReceived(workflow.Now(ctx), events.ToolResultReceived{
				CorrelationID: r.runID,
				StepID:        out.step.ID,
				ToolName:      out.step.Tool,
				Success:       false,
				Error:         activityErrorMessage(out.err),
			}))
			if failure == nil {
				failure = &stepFailure{stepID: out.step.ID, err: out.err}
			}
			continue
		}

		r.record(ctx, events.NewToolResultReceived(workflow.Now(ctx), events.ToolResultReceived{
			CorrelationID: r.runID,
			StepID:        out.step.ID,
			ToolName:      out.step.Tool,
			Success:       true,
			Result:        out.result,
		}))
		sched.MarkDone(out.step.ID)
		r.publish(ctx)
	}

	if failure != nil {
		return failure, false
	}
	if r.checkpointPending && !sched.Drained() {
		return nil, true
	}
	return nil, false
}

// failRun rolls back, records the terminal failure, and surfaces the
// structured error. After a cancellation the rollback and terminal
// bookkeeping run on a disconnected context so they cannot be
// interrupted by the cancellation they are cleaning up after.
func (r *run) failRun(ctx workflow.Context, errType, failedStepID string, cause error) (*AgentRunResult, error) {
	logger := workflow.GetLogger(ctx)

	cancelled := temporal.IsCanceledError(cause) || ctx.Err() != nil
	dctx := ctx
	if cancelled {
		dctx, _ = workflow.NewDisconnectedContext(ctx)
	}

	message := activityErrorMessage(cause)
	if cancelled {
		message = "run cancelled"
	}

	compensations := r.exec.Rollback(dctx)
	logger.Info("Rollback finished",
		"compensations", len(compensations),
		"failed_step_id", failedStepID,
		"cancelled", cancelled)

	state := r.log.State()
	r.record(dctx, events.NewWorkflowFailed(workflow.Now(dctx), events.WorkflowFailed{
		CorrelationID:        r.runID,
		PlanID:               state.PlanID,
		FailedStepID:         failedStepID,
		ErrorMessage:         message,
		CompensationExecuted: true,
		CompensationResults:  compensations,
	}))
	r.publish(dctx)

	details := FailureDetails{
		CorrelationID:        r.runID,
		PlanID:               state.PlanID,
		FailedStepID:         failedStepID,
		ErrorMessage:         message,
		StepsExecuted:        state.StepsExecuted(),
		CompensationExecuted: true,
		CompensationResults:  compensations,
	}
	if cancelled {
		return nil, temporal.NewCanceledError(details)
	}
	return nil, newRunFailure(errType, details)
}

// continueAsNew snapshots the derived state and the compensation stack
// and restarts the run with a fresh history. The old history stays
// queryable until the host archives it.
func (r *run) continueAsNew(ctx workflow.Context) (*AgentRunResult, error) {
	state := r.log.State()
	next := r.input
	next.Resume = &ResumeState{
		Snapshot:    state,
		Saga:        r.exec.Stack().Export(),
		PriorEvents: state.PriorEvents + r.log.Len(),
		Generation:  state.Generation + 1,
	}

	workflow.GetLogger(ctx).Info("Continuing run as new",
		"generation", next.Resume.Generation,
		"prior_events", next.Resume.PriorEvents,
		"completed_steps", len(state.CompletedSteps))

	return nil, workflow.NewContinueAsNewError(ctx, AgentRunWorkflow, next)
}

func (r *run) completeRun(ctx workflow.Context) (*AgentRunResult, error) {
	state := r.log.State()
	duration := workflow.Now(ctx).Sub(state.StartedAt).Seconds()

	r.record(ctx, events.NewWorkflowCompleted(workflow.Now(ctx), events.WorkflowCompleted{
		CorrelationID:   r.runID,
		PlanID:          state.PlanID,
		TotalSteps:      len(state.Steps),
		DurationSeconds: duration,
		FinalResult:     map[string]interface{}{"steps_executed": state.StepsExecuted()},
	}))
	r.publish(ctx)

	state = r.log.State()
	workflow.GetLogger(ctx).Info("Run completed",
		"plan_id", state.PlanID,
		"steps_executed", state.StepsExecuted(),
		"duration_seconds", duration)

	return &AgentRunResult{
		CorrelationID:   r.runID,
		Status:          state.Status,
		PlanID:          state.PlanID,
		TemplateID:      state.TemplateID,
		CacheHit:        state.CacheHit,
		StepsExecuted:   state.StepsExecuted(),
		Results:         state.Results,
		DurationSeconds: duration,
		Generation:      state.Generation,
		TotalEvents:     state.PriorEvents + r.log.Len(),
	}, nil
}

// activityErrorMessage unwraps the human-relevant message from an
// activity failure chain. Context the workflow wrapped around the
// failure ("plan guard unavailable", ...) stays in the message; only
// the verbose activity envelope is replaced by its application-level
// cause.
func activityErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	switch err.(type) {
	case *temporal.ActivityError, *temporal.ApplicationError:
		return appErr.Message()
	}
	msg := err.Error()
	if inner := errors.Unwrap(err); inner != nil {
		if suffix := inner.Error(); strings.HasSuffix(msg, suffix) {
			return strings.TrimSuffix(msg, suffix) + appErr.Message()
		}
	}
	return msg
}
