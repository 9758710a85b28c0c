package mcp

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP peers
const Version = "0.1.0"

// NewServer exposes every enabled tool of registry as an MCP tool. Tool
// failures are returned as error results so the peer can see them.
func NewServer(registry *tool.Registry) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "burrow",
		Version: Version,
	}, nil)

	for _, spec := range registry.Specs() {
		server.AddTool(&mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: inputSchema(spec),
		}, toolHandler(registry, spec.Name))
	}

	return server
}

// inputSchema returns the spec parameters, always with an object type as MCP requires
func inputSchema(spec *model.ToolSpec) *jsonschema.Schema {
	schema := *spec.ParameterSchema()
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema
}

func toolHandler(registry *tool.Registry, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := "{}"
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}

		call := &model.ToolCall{
			ID:        name,
			Name:      name,
			Arguments: args,
		}

		result, err := registry.Execute(ctx, call)
		if err != nil {
			logging.From(ctx).Warn("MCP tool call failed", "tool", name, logging.ErrAttr(err))
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
		}, nil
	}
}

// Serve runs the server on stdio until ctx is cancelled or the peer disconnects
func Serve(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

