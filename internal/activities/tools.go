package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/orchd/internal/tools"
)

// ErrTypeToolFailure marks tool failures that retrying cannot fix.
const ErrTypeToolFailure = "ToolFailure"

// ExecuteTool runs one tool call. Unknown tools and failures the tool
// reports as permanent become non-retryable so the retry budget is not
// wasted; everything else is left retryable for Temporal.
func (a *Activities) ExecuteTool(ctx context.Context, in ExecuteToolInput) (ExecuteToolResult, error) {
	logger := activity.GetLogger(ctx)
	start := time.Now()

	kind := "step"
	if in.Compensation {
		kind = "compensation"
	}
	logger.Info("Executing tool", "tool", in.Tool, "kind", kind)

	out, err := a.tools.Invoke(ctx, in.Tool, in.Input)
	a.metrics.recordTool(ctx, in.Tool, in.Compensation, start, err)
	if err != nil {
		logger.Warn("Tool execution failed", "tool", in.Tool, "kind", kind, "error", err)
		var toolErr *tools.ToolError
		if errors.Is(err, tools.ErrUnknownTool) || (errors.As(err, &toolErr) && toolErr.Permanent) {
			return ExecuteToolResult{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeToolFailure, err)
		}
		return ExecuteToolResult{}, err
	}

	logger.Info("Tool executed", "tool", in.Tool, "kind", kind, "duration", time.Since(start))
	return ExecuteToolResult{Output: out}, nil
}
