package capture

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/chatwatch/kit"
)

// RegisterMCP registers the capture tools on an MCP server.
func (s *Session) RegisterMCP(srv *mcp.Server) {
	s.registerStatusTool(srv)
	s.registerRecentTool(srv)
	s.registerAskTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

// --- status ---

type statusResponse struct {
	SessionID    string `json:"session_id"`
	URL          string `json:"url"`
	Connected    bool   `json:"connected"`
	UserMessages int    `json:"user_messages"`
	AIMessages   int    `json:"ai_messages"`
	Loops        uint64 `json:"loops"`
}

func (s *Session) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "chatwatch_status",
		Description: "Get capture session status: connection state, page URL, and message counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		user, ai := s.counts()
		return &statusResponse{
			SessionID:    s.id,
			URL:          s.PageURL(),
			Connected:    s.connected(),
			UserMessages: user,
			AIMessages:   ai,
			Loops:        s.loops.Load(),
		}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- recent ---

type recentRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Session) registerRecentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "chatwatch_recent",
		Description: "List the most recently captured chat messages, newest first. Requires the archive sink.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max messages (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		if s.archive == nil {
			return nil, errors.New("archive sink not configured")
		}
		r := req.(*recentRequest)
		return s.archive.Recent(ctx, r.Limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r recentRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- ask ---

type askRequest struct {
	Message        string `json:"message"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type askResponse struct {
	Reply string `json:"reply"`
}

func (s *Session) registerAskTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "chatwatch_ask",
		Description: "Send a message into the chat and wait for the assistant reply.",
		InputSchema: inputSchema(map[string]any{
			"message":         map[string]any{"type": "string", "description": "Message to send"},
			"timeout_seconds": map[string]any{"type": "integer", "description": "Reply timeout in seconds (default from config)"},
		}, []string{"message"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*askRequest)
		if r.Message == "" {
			return nil, errors.New("message is required")
		}
		reply, err := s.Ask(ctx, r.Message, time.Duration(r.TimeoutSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		return &askResponse{Reply: reply}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r askRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
