package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/gateway"
	"github.com/fyrsmithlabs/orchd/internal/mcp"
	"github.com/fyrsmithlabs/orchd/internal/tools"
)

// runMCP serves the MCP stdio interface: every registry tool plus the
// run management tools, for agents that delegate goals to orchd
// instead of calling the HTTP gateway.
func runMCP(ctx context.Context, registry *tools.Registry, runs *gateway.TemporalRuns, zlog *zap.Logger) error {
	srv, err := mcp.NewServer(mcp.Config{
		Name:    "orchd",
		Version: version,
		Logger:  zlog,
	}, registry, runs)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
