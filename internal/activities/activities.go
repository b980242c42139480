// Package activities implements the activity layer of an agent run:
// every network call a run makes (plan cache, planner, tools, guard,
// event broker) crosses this boundary, where Temporal applies the
// per-class timeout and retry budgets configured by the workflow.
package activities

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/guard"
	"github.com/fyrsmithlabs/orchd/internal/plan"
	"github.com/fyrsmithlabs/orchd/internal/semcache"
)

// PlanCache is the semantic plan cache consulted before planning.
type PlanCache interface {
	// Lookup returns the best template whose goal embedding clears the
	// similarity threshold, or nil on a miss.
	Lookup(ctx context.Context, goal string) (*semcache.Match, error)
	// Store indexes a generated plan under its goal and returns the
	// template ID assigned to it.
	Store(ctx context.Context, goal string, p plan.Plan) (string, error)
}

// PlanGenerator produces a plan for a goal on a cache miss.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, goal string, runContext map[string]string) (plan.Plan, error)
}

// ToolInvoker executes one tool call against the tool registry.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, input map[string]interface{}) (map[string]interface{}, error)
}

// PolicyGuard evaluates a plan against policy before execution.
type PolicyGuard interface {
	Evaluate(ctx context.Context, req guard.Request) (guard.Verdict, error)
}

// EventPublisher forwards run events to the broker for live observers.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, runID string, ev events.Event) error
}

// Deps collects the collaborators behind the activity boundary. Cache
// and Publisher are optional; the rest are required.
type Deps struct {
	Cache     PlanCache
	Planner   PlanGenerator
	Tools     ToolInvoker
	Guard     PolicyGuard
	Publisher EventPublisher
}

// Activities is registered on the worker as one activity struct. All
// methods are safe for concurrent use.
type Activities struct {
	cache     PlanCache
	planner   PlanGenerator
	tools     ToolInvoker
	guard     PolicyGuard
	publisher EventPublisher
	metrics   *runMetrics
}

// New validates the dependency set and builds the activity struct.
func New(deps Deps) (*Activities, error) {
	if deps.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool invoker is required")
	}
	if deps.Guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	m, err := newRunMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating activity metrics: %w", err)
	}
	return &Activities{
		cache:     deps.Cache,
		planner:   deps.Planner,
		tools:     deps.Tools,
		guard:     deps.Guard,
		publisher: deps.Publisher,
		metrics:   m,
	}, nil
}
