// Package mcp exposes the orchestrator over the Model Context
// Protocol: every registry tool is served as an MCP tool, and two
// management tools submit and inspect agent runs. MCP-capable agents
// can therefore both use orchd's tools directly and delegate whole
// goals to it.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/tools"
)

// RunStarter submits and inspects agent runs. The gateway's run
// service implements it.
type RunStarter interface {
	StartRun(ctx context.Context, goal, userID string, runContext map[string]string) (string, error)
	RunState(ctx context.Context, runID string) (events.RunState, error)
}

// Config carries server identity and logging.
type Config struct {
	Name    string
	Version string
	Logger  *zap.Logger
}

// Server serves the tool registry and run management over MCP.
type Server struct {
	mcp    *mcp.Server
	reg    *tools.Registry
	runs   RunStarter
	logger *zap.Logger
}

// NewServer builds the MCP server. The run tools are registered only
// when a RunStarter is provided.
func NewServer(cfg Config, reg *tools.Registry, runs RunStarter) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Name == "" {
		cfg.Name = "orchd"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:    mcpServer,
		reg:    reg,
		runs:   runs,
		logger: cfg.Logger,
	}
	s.registerRegistryTools()
	if runs != nil {
		s.registerRunTools()
	}
	return s, nil
}

// registerRegistryTools serves each registry tool under its own name.
func (s *Server) registerRegistryTools() {
	defs := s.reg.List()
	for _, def := range defs {
		name := def.Name
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        name,
			Description: def.Description,
		}, func(ctx context.Context, req *mcp.CallToolRequest, args map[string]interface{}) (*mcp.CallToolResult, map[string]interface{}, error) {
			out, err := s.reg.Invoke(ctx, name, args)
			if err != nil {
				return nil, nil, err
			}
			return textResult(out), out, nil
		})
	}
	s.logger.Info("Registered MCP tools", zap.Int("count", len(defs)))
}

type runSubmitInput struct {
	Goal    string            `json:"goal" jsonschema:"required,Goal to accomplish"`
	UserID  string            `json:"user_id" jsonschema:"required,User the run executes for"`
	Context map[string]string `json:"context,omitempty" jsonschema:"Additional key/value context for planning"`
}

type runSubmitOutput struct {
	RunID string `json:"run_id" jsonschema:"Identifier of the submitted run"`
}

type runStatusInput struct {
	RunID string `json:"run_id" jsonschema:"required,Run identifier"`
}

type runStatusOutput struct {
	RunID          string   `json:"run_id" jsonschema:"Run identifier"`
	Status         string   `json:"status" jsonschema:"Lifecycle status of the run"`
	PlanID         string   `json:"plan_id,omitempty" jsonschema:"Plan the run executes"`
	StepsExecuted  int      `json:"steps_executed" jsonschema:"Completed step count"`
	CompletedSteps []string `json:"completed_steps,omitempty" jsonschema:"Completed step IDs in completion order"`
	Error          string   `json:"error,omitempty" jsonschema:"Terminal error, when failed"`
}

func (s *Server) registerRunTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_submit",
		Description: "Submit a goal for durable multi-step execution. Returns the run ID.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args runSubmitInput) (*mcp.CallToolResult, runSubmitOutput, error) {
		if args.Goal == "" {
			return nil, runSubmitOutput{}, fmt.Errorf("goal is required")
		}
		if args.UserID == "" {
			return nil, runSubmitOutput{}, fmt.Errorf("user_id is required")
		}
		runID, err := s.runs.StartRun(ctx, args.Goal, args.UserID, args.Context)
		if err != nil {
			return nil, runSubmitOutput{}, fmt.Errorf("submitting run: %w", err)
		}
		out := runSubmitOutput{RunID: runID}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Run submitted: %s", runID)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_status",
		Description: "Fetch the current state of a run by its run ID.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args runStatusInput) (*mcp.CallToolResult, runStatusOutput, error) {
		if args.RunID == "" {
			return nil, runStatusOutput{}, fmt.Errorf("run_id is required")
		}
		state, err := s.runs.RunState(ctx, args.RunID)
		if err != nil {
			return nil, runStatusOutput{}, fmt.Errorf("querying run: %w", err)
		}
		out := runStatusOutput{
			RunID:          args.RunID,
			Status:         string(state.Status),
			PlanID:         state.PlanID,
			StepsExecuted:  state.StepsExecuted(),
			CompletedSteps: state.CompletedSteps,
			Error:          state.Error,
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Run %s: %s", args.RunID, state.Status)},
			},
		}, out, nil
	})
}

// Run serves MCP on the stdio transport until the context ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server run failed: %w", err)
	}
	return nil
}

func textResult(out map[string]interface{}) *mcp.CallToolResult {
	text, err := json.Marshal(out)
	if err != nil {
		text = []byte("{}")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(text)},
		},
	}
}
