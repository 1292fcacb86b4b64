package tools

import (
	"context"

	"github.com/ahmkhn/klaviyo-nexus/config"
	"github.com/ahmkhn/klaviyo-nexus/tools/mcp"
)

// mcpAdapter fits an MCP-served tool into the Tool interface. MCP servers
// declare their own schemas, so the adapter's schema is permissive and the
// server does its own argument validation.
type mcpAdapter struct {
	inner *mcp.MCPTool
}

func (a *mcpAdapter) Name() string        { return a.inner.Name() }
func (a *mcpAdapter) Description() string { return a.inner.Description() }
func (a *mcpAdapter) InputSchema() Schema {
	return Schema{Properties: map[string]Property{}, AdditionalProperties: true}
}

func (a *mcpAdapter) Execute(ctx context.Context, args map[string]interface{}) (Result, error) {
	out, err := a.inner.Call(ctx, args)
	if err != nil {
		// Surface MCP failures in-band like any other tool failure.
		return Plain("Error: " + err.Error()), nil
	}
	return Plain(out), nil
}

// ConnectMCP starts the configured MCP servers and registers their tools
// under "<server>.<tool>" names.
func (r *Registry) ConnectMCP(ctx context.Context, servers []config.MCPServer) error {
	for _, srv := range servers {
		client, err := mcp.NewMCPClient(ctx, srv.Name, srv.Command, srv.Args)
		if err != nil {
			return err
		}
		r.mcpClients = append(r.mcpClients, client)
		for _, t := range client.Tools() {
			r.Register(&mcpAdapter{inner: t})
		}
	}
	return nil
}

// CloseMCP terminates every connected MCP server subprocess.
func (r *Registry) CloseMCP() {
	for _, client := range r.mcpClients {
		_ = client.Stop()
	}
	r.mcpClients = nil
}
