package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
)

// GeneratePlan asks the planner for a plan and, on success, indexes it
// in the plan cache so similar goals skip planning next time. Cache
// population is best-effort: a store failure is logged, never surfaced.
func (a *Activities) GeneratePlan(ctx context.Context, in GeneratePlanInput) (GeneratePlanResult, error) {
	logger := activity.GetLogger(ctx)

	p, err := a.planner.GeneratePlan(ctx, in.Goal, in.Context)
	a.metrics.recordPlanGenerated(ctx, len(p.Steps), err)
	if err != nil {
		return GeneratePlanResult{}, fmt.Errorf("generating plan: %w", err)
	}
	logger.Info("Plan generated", "plan_id", p.ID, "steps", len(p.Steps))

	templateID := ""
	if a.cache != nil {
		templateID, err = a.cache.Store(ctx, in.Goal, p)
		if err != nil {
			logger.Warn("Plan cache store failed", "plan_id", p.ID, "error", err)
			templateID = ""
		}
	}

	return GeneratePlanResult{
		PlanID:     p.ID,
		TemplateID: templateID,
		Steps:      p.Steps,
	}, nil
}
