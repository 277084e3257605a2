package chatapi

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/nibs/kit"
)

// RegisterMCP registers the session tools on an MCP server, so agent
// runtimes can drive the browser chat the same way HTTP clients do.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerChatTool(srv)
	s.registerStatusTool(srv)
	s.registerResumeTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type chatToolReq struct {
	Prompt string `json:"prompt"`
}

func (s *Server) registerChatTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "nibs_chat",
		Description: "Send a prompt through the browser chat UI and return the assistant's reply.",
		InputSchema: inputSchema(map[string]any{
			"prompt": map[string]any{"type": "string", "description": "Prompt text to type into the chat"},
		}, []string{"prompt"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*chatToolReq)
		text, err := s.engine.ChatCompletion(ctx, r.Prompt)
		if err != nil {
			return nil, err
		}
		return map[string]any{"reply": text}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r chatToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithTransport(ctx, "mcp") },
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type emptyReq struct{}

func (s *Server) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "nibs_status",
		Description: "Report the session state and, when paused, the dead-man reason.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		reason := s.engine.PausedReason()
		return map[string]any{
			"state":         s.engine.State().String(),
			"paused":        reason != "",
			"paused_reason": reason,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeEmpty)
}

func (s *Server) registerResumeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "nibs_resume",
		Description: "Clear a dead-man pause after the challenge has been handled in the browser.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		if err := s.engine.Resume(); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeEmpty)
}

func decodeEmpty(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{Request: &emptyReq{}}, nil
}
