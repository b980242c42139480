package saga

import (
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/orchd/internal/plan"
)

// Invoker is the activity-execution boundary the executor drives.
// InvokeTool carries the normal step budget, InvokeCompensation the
// shorter compensation budget so rollback cannot stall recovery. Both
// are the only sanctioned I/O paths out of a run.
type Invoker interface {
	InvokeTool(ctx workflow.Context, tool string, input map[string]interface{}) (map[string]interface{}, error)
	InvokeCompensation(ctx workflow.Context, tool string, input map[string]interface{}) (map[string]interface{}, error)
}

// Executor runs plan steps through the invoker and keeps the
// compensation stack consistent with what actually succeeded.
type Executor struct {
	stack   *Stack
	invoker Invoker
}

// NewExecutor returns an executor with an empty compensation stack.
func NewExecutor(invoker Invoker) *Executor {
	return &Executor{stack: NewStack(), invoker: invoker}
}

// NewExecutorFromSnapshot rebuilds an executor after a checkpoint
// cutover, restoring the compensations registered before the cut.
func NewExecutorFromSnapshot(invoker Invoker, snap Snapshot) *Executor {
	return &Executor{stack: Restore(snap), invoker: invoker}
}

// Stack exposes the compensation stack for snapshot export.
func (e *Executor) Stack() *Stack {
	return e.stack
}

// Execute runs one step. On success, a declared compensation is
// resolved against the step's result and registered before the result
// is returned, so any step observed as succeeded always has its
// compensation available for rollback. On failure nothing is
// registered and the stack is untouched.
func (e *Executor) Execute(ctx workflow.Context, step plan.Step) (map[string]interface{}, error) {
	result, err := e.invoker.InvokeTool(ctx, step.Tool, step.Input)
	if err != nil {
		return nil, err
	}
	if step.HasCompensation() {
		e.stack.Register(CompensationStep{
			StepID: step.ID,
			Tool:   step.Compensation,
			Input:  ResolveInput(step.CompensationInput, result),
		})
	}
	return result, nil
}

// Rollback drains the stack and invokes each compensation one at a
// time in reverse registration order. Compensations may have implicit
// ordering dependencies, so they never run in parallel. A failed
// compensation is recorded and rollback continues with the next entry.
// Calling Rollback on an already rolled-back stack returns an empty
// list without re-executing anything.
func (e *Executor) Rollback(ctx workflow.Context) []CompensationResult {
	logger := workflow.GetLogger(ctx)
	drained := e.stack.Drain()
	results := make([]CompensationResult, 0, len(drained))
	for _, entry := range drained {
		logger.Info("Executing compensation",
			"step_id", entry.StepID,
			"tool", entry.Tool)
		res, err := e.invoker.InvokeCompensation(ctx, entry.Tool, entry.Input)
		if err != nil {
			logger.Warn("Compensation failed, continuing rollback",
				"step_id", entry.StepID,
				"tool", entry.Tool,
				"error", err)
			results = append(results, CompensationResult{
				StepID:  entry.StepID,
				Tool:    entry.Tool,
				Success: false,
				Error:   err.Error(),
			})
			continue
		}
		results = append(results, CompensationResult{
			StepID:  entry.StepID,
			Tool:    entry.Tool,
			Success: true,
			Result:  res,
		})
	}
	return results
}
