package activities

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
)

// CheckPlanCache looks the goal up in the semantic plan cache. A hit
// mints a fresh plan ID for this run and reuses the cached template's
// steps. Without a configured cache every lookup is a miss. Errors
// propagate so the caller can decide; the workflow degrades them to a
// miss.
func (a *Activities) CheckPlanCache(ctx context.Context, in CacheLookupInput) (CacheLookupResult, error) {
	logger := activity.GetLogger(ctx)

	if a.cache == nil {
		return CacheLookupResult{}, nil
	}

	match, err := a.cache.Lookup(ctx, in.Goal)
	a.metrics.recordCacheLookup(ctx, match != nil, err)
	if err != nil {
		return CacheLookupResult{}, fmt.Errorf("plan cache lookup: %w", err)
	}
	if match == nil {
		logger.Debug("Plan cache miss")
		return CacheLookupResult{}, nil
	}

	logger.Info("Plan cache hit",
		"template_id", match.TemplateID,
		"similarity", match.Similarity,
		"steps", len(match.Steps))
	return CacheLookupResult{
		Hit:        true,
		PlanID:     uuid.NewString(),
		TemplateID: match.TemplateID,
		Steps:      match.Steps,
		Similarity: match.Similarity,
	}, nil
}
