package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/ahmkhn/klaviyo-nexus/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPClient manages the connection to a single MCP server subprocess. MCP
// servers can only contribute read-style tools; the approval gate stays with
// the built-in propose/execute pair.
type MCPClient struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools map[string]*MCPTool
}

// NewMCPClient starts the MCP server subprocess, connects, and discovers the
// tools it provides.
func NewMCPClient(ctx context.Context, name, command string, args []string) (*MCPClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "klaviyo-nexus", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		cmd.Process.Kill()
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{
		Name:  name,
		cmd:   cmd,
		conn:  conn,
		tools: make(map[string]*MCPTool),
	}

	toolListParams := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, toolListParams)
		if err != nil {
			cmd.Process.Kill()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range toolList.Tools {
			client.tools[t.Name] = &MCPTool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				client:      client,
			}
		}
		if toolList.NextCursor == "" {
			break
		}
		toolListParams.Cursor = toolList.NextCursor
	}
	return client, nil
}

// Tools returns every tool the server exported.
func (c *MCPClient) Tools() []*MCPTool {
	out := make([]*MCPTool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// MCPTool represents a tool available from an external MCP server.
type MCPTool struct {
	serverName  string
	toolName    string
	description string
	client      *MCPClient
}

// Name returns the qualified name "<server>.<tool>", which is what toolset
// wildcard patterns match against.
func (t *MCPTool) Name() string {
	return fmt.Sprintf("%s.%s", t.serverName, t.toolName)
}

// Description returns the tool's description, provided by the MCP server.
func (t *MCPTool) Description() string {
	return t.description
}

// Call sends the arguments to the MCP server and concatenates the text
// content of the result.
func (t *MCPTool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	op := ""
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			op += text.Text
		}
	}
	return op, nil
}
