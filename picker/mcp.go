package picker

import (
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/blockshot/kit"
)

// RegisterMCP registers the blockshot tools on an MCP server.
func RegisterMCP(srv *mcp.Server, c Controller, logger *slog.Logger) {
	ep := makeEndpoints(c, logger)
	noArgs := kit.InputSchema(map[string]any{}, nil)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "blockshot_activate",
		Description: "Start a picking session in the browser tab. The user hovers a block and clicks it to export a PNG; Escape cancels.",
		InputSchema: noArgs,
	}, ep.activate, decodeNone)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "blockshot_deactivate",
		Description: "End the running picking session and restore the page.",
		InputSchema: noArgs,
	}, ep.deactivate, decodeNone)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "blockshot_status",
		Description: "Report whether a session is active, the highlighted element and whether an export is running.",
		InputSchema: noArgs,
	}, ep.status, decodeNone)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "blockshot_history",
		Description: "List recent exports (file name, size, success or error) with totals.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}, ep.history, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r historyRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	})
}

func decodeNone(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{}, nil
}
