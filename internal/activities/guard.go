package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/fyrsmithlabs/orchd/internal/guard"
)

// GuardPlan submits a plan for policy evaluation. Evaluation errors
// propagate so the workflow can fail closed.
func (a *Activities) GuardPlan(ctx context.Context, in GuardPlanInput) (GuardPlanResult, error) {
	verdict, err := a.guard.Evaluate(ctx, guard.Request{
		UserID: in.UserID,
		Goal:   in.Goal,
		PlanID: in.PlanID,
		Steps:  in.Steps,
	})
	a.metrics.recordGuardDecision(ctx, verdict.Allowed, err)
	if err != nil {
		return GuardPlanResult{}, fmt.Errorf("evaluating plan: %w", err)
	}
	if !verdict.Allowed {
		activity.GetLogger(ctx).Warn("Plan rejected by guard",
			"plan_id", in.PlanID,
			"violations", verdict.Violations)
	}
	return GuardPlanResult{Allowed: verdict.Allowed, Violations: verdict.Violations}, nil
}
