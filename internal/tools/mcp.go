package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// MCPProxy holds a session to one external MCP server and exposes its
// tools through the registry, namespaced as <server>.<tool> so remote
// names cannot shadow builtins.
type MCPProxy struct {
	name    string
	session *mcp.ClientSession
	logger  *zap.Logger
}

// ConnectMCP launches the server process from its catalog definition
// and opens an MCP session over stdio.
func ConnectMCP(ctx context.Context, def MCPServerDef, logger *zap.Logger) (*MCPProxy, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("mcp server definition requires a name")
	}
	if def.Command == "" {
		return nil, fmt.Errorf("mcp server %s: command is required", def.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(def.Command, def.Args...)
	if len(def.Env) > 0 {
		cmd.Env = append(os.Environ(), def.Env...)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "orchd", Version: "dev"}, nil)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to mcp server %s: %w", def.Name, err)
	}

	logger.Info("Connected to MCP server", zap.String("server", def.Name), zap.String("command", def.Command))
	return &MCPProxy{name: def.Name, session: session, logger: logger}, nil
}

// RegisterTools lists the server's tools and registers a proxy handler
// for each. Returns the number of tools registered.
func (p *MCPProxy) RegisterTools(ctx context.Context, reg *Registry) (int, error) {
	resp, err := p.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return 0, fmt.Errorf("listing tools on %s: %w", p.name, err)
	}

	for _, t := range resp.Tools {
		def := Definition{
			Name:        p.name + "." + t.Name,
			Description: t.Description,
			Handler:     p.handler(t.Name),
		}
		if err := reg.Register(def); err != nil {
			return 0, fmt.Errorf("registering proxied tool %s: %w", def.Name, err)
		}
	}
	p.logger.Info("Registered proxied MCP tools", zap.String("server", p.name), zap.Int("count", len(resp.Tools)))
	return len(resp.Tools), nil
}

func (p *MCPProxy) handler(remote string) Handler {
	return func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		res, err := p.session.CallTool(ctx, &mcp.CallToolParams{
			Name:      remote,
			Arguments: input,
		})
		if err != nil {
			// Transport failures are left retryable.
			return nil, fmt.Errorf("calling %s on %s: %w", remote, p.name, err)
		}
		if res.IsError {
			return nil, permanentf(p.name+"."+remote, "%s", contentText(res.Content))
		}
		return contentToMap(res.Content), nil
	}
}

// Close shuts the session down; the server process exits with it.
func (p *MCPProxy) Close() error {
	if p.session == nil {
		return nil
	}
	if err := p.session.Close(); err != nil {
		return fmt.Errorf("closing mcp session %s: %w", p.name, err)
	}
	return nil
}

// contentToMap decodes a tool result: a single JSON text block becomes
// the output map, anything else is wrapped under "result".
func contentToMap(contents []mcp.Content) map[string]interface{} {
	if len(contents) == 0 {
		return map[string]interface{}{}
	}
	if len(contents) == 1 {
		if text, ok := contents[0].(*mcp.TextContent); ok {
			var v interface{}
			if err := json.Unmarshal([]byte(text.Text), &v); err == nil {
				if m, ok := v.(map[string]interface{}); ok {
					return m
				}
			}
			return map[string]interface{}{"result": text.Text}
		}
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(contents))
	for i, c := range contents {
		if text, ok := c.(*mcp.TextContent); ok {
			out[fmt.Sprintf("content_%d", i+1)] = text.Text
		}
	}
	return out
}

func contentText(contents []mcp.Content) string {
	for _, c := range contents {
		if text, ok := c.(*mcp.TextContent); ok {
			return text.Text
		}
	}
	return "tool reported an error"
}
