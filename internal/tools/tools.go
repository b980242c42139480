// Package tools holds the tool registry an agent run executes against:
// built-in simulated tools, catalog-defined overrides loaded from TOML,
// and proxies for tools served by external MCP servers.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when a plan references a tool the
// registry does not know. Retrying cannot fix it.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes one tool invocation.
type Handler func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Description string
	// Compensation names the tool that undoes this one, if any. The
	// planner includes it in generated plan steps.
	Compensation string
	// Required lists input fields the handler needs.
	Required []string
	Handler  Handler
}

// ToolError is a tool failure with an explicit retry classification.
// Permanent failures (validation, business rejection) are surfaced to
// the run without burning the retry budget.
type ToolError struct {
	Tool      string
	Permanent bool
	Err       error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// permanentf builds a permanent ToolError.
func permanentf(tool, format string, args ...interface{}) error {
	return &ToolError{Tool: tool, Permanent: true, Err: fmt.Errorf(format, args...)}
}
