package activities

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/orchd/internal/activities"

// runMetrics instruments the activity boundary. Workflow code never
// records metrics directly; it is replayed, activities are not.
type runMetrics struct {
	toolExecutions  metric.Int64Counter
	toolDuration    metric.Float64Histogram
	cacheLookups    metric.Int64Counter
	plansGenerated  metric.Int64Counter
	guardDecisions  metric.Int64Counter
	eventsPublished metric.Int64Counter
}

func newRunMetrics() (*runMetrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &runMetrics{}

	var err error
	if m.toolExecutions, err = meter.Int64Counter("orchd.tool.executions",
		metric.WithDescription("Tool executions by tool, outcome, and compensation flag"),
	); err != nil {
		return nil, fmt.Errorf("orchd.tool.executions: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("orchd.tool.duration",
		metric.WithDescription("Tool execution latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("orchd.tool.duration: %w", err)
	}
	if m.cacheLookups, err = meter.Int64Counter("orchd.plan_cache.lookups",
		metric.WithDescription("Plan cache lookups by result"),
	); err != nil {
		return nil, fmt.Errorf("orchd.plan_cache.lookups: %w", err)
	}
	if m.plansGenerated, err = meter.Int64Counter("orchd.plans.generated",
		metric.WithDescription("Plans produced by the planner"),
	); err != nil {
		return nil, fmt.Errorf("orchd.plans.generated: %w", err)
	}
	if m.guardDecisions, err = meter.Int64Counter("orchd.guard.decisions",
		metric.WithDescription("Guard verdicts by decision"),
	); err != nil {
		return nil, fmt.Errorf("orchd.guard.decisions: %w", err)
	}
	if m.eventsPublished, err = meter.Int64Counter("orchd.run_events.published",
		metric.WithDescription("Run events published to the broker"),
	); err != nil {
		return nil, fmt.Errorf("orchd.run_events.published: %w", err)
	}
	return m, nil
}

func (m *runMetrics) recordTool(ctx context.Context, tool string, compensation bool, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("compensation", compensation),
		attribute.String("outcome", outcomeOf(err)),
	)
	m.toolExecutions.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (m *runMetrics) recordCacheLookup(ctx context.Context, hit bool, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case hit:
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *runMetrics) recordPlanGenerated(ctx context.Context, steps int, err error) {
	m.plansGenerated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcomeOf(err)),
		attribute.Int("steps", steps),
	))
}

func (m *runMetrics) recordGuardDecision(ctx context.Context, allowed bool, err error) {
	decision := "denied"
	switch {
	case err != nil:
		decision = "error"
	case allowed:
		decision = "allowed"
	}
	m.guardDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

func (m *runMetrics) recordEventsPublished(ctx context.Context, count int) {
	m.eventsPublished.Add(ctx, int64(count))
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
