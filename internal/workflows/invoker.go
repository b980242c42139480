package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/orchd/internal/activities"
)

// acts resolves activity names from method references. The nil
// receiver is never invoked; Temporal dispatches by registered name.
var acts *activities.Activities

// activityInvoker is the saga.Invoker implementation plus the
// remaining collaborator calls (cache, planner, guard, publish). It is
// the single I/O path out of a run.
type activityInvoker struct{}

func (activityInvoker) InvokeTool(ctx workflow.Context, tool string, input map[string]interface{}) (map[string]interface{}, error) {
	var out activities.ExecuteToolResult
	err := workflow.ExecuteActivity(stepOptions(ctx), acts.ExecuteTool, activities.ExecuteToolInput{
		Tool:  tool,
		Input: input,
	}).Get(ctx, &out)
	if err != nil {
		return nil, err
	}
	return out.Output, nil
}

func (activityInvoker) InvokeCompensation(ctx workflow.Context, tool string, input map[string]interface{}) (map[string]interface{}, error) {
	var out activities.ExecuteToolResult
	err := workflow.ExecuteActivity(compensationOptions(ctx), acts.ExecuteTool, activities.ExecuteToolInput{
		Tool:         tool,
		Input:        input,
		Compensation: true,
	}).Get(ctx, &out)
	if err != nil {
		return nil, err
	}
	return out.Output, nil
}

func (activityInvoker) checkPlanCache(ctx workflow.Context, goal string) (activities.CacheLookupResult, error) {
	var out activities.CacheLookupResult
	err := workflow.ExecuteActivity(cacheOptions(ctx), acts.CheckPlanCache, activities.CacheLookupInput{
		Goal: goal,
	}).Get(ctx, &out)
	return out, err
}

func (activityInvoker) generatePlan(ctx workflow.Context, goal string, runContext map[string]string) (activities.GeneratePlanResult, error) {
	var out activities.GeneratePlanResult
	err := workflow.ExecuteActivity(plannerOptions(ctx), acts.GeneratePlan, activities.GeneratePlanInput{
		Goal:    goal,
		Context: runContext,
	}).Get(ctx, &out)
	return out, err
}

func (activityInvoker) guardPlan(ctx workflow.Context, in activities.GuardPlanInput) (activities.GuardPlanResult, error) {
	var out activities.GuardPlanResult
	err := workflow.ExecuteActivity(guardOptions(ctx), acts.GuardPlan, in).Get(ctx, &out)
	return out, err
}

func (activityInvoker) publishEvents(ctx workflow.Context, in activities.PublishEventsInput) error {
	return workflow.ExecuteActivity(notifyOptions(ctx), acts.PublishRunEvents, in).Get(ctx, nil)
}
