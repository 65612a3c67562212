package kit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}

type echoRequest struct {
	Text string `json:"text"`
}

func clientFor(t *testing.T, register func(*mcp.Server)) *mcp.ClientSession {
	t.Helper()

	srv := mcp.NewServer(testImpl, nil)
	register(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	go func() {
		_ = srv.Run(context.Background(), serverT)
	}()

	session, err := mcp.NewClient(testImpl, nil).Connect(context.Background(), clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestRegisterMCPToolRoundTrip(t *testing.T) {
	session := clientFor(t, func(srv *mcp.Server) {
		tool := &mcp.Tool{
			Name:        "echo",
			Description: "echo back the text",
			InputSchema: map[string]any{"type": "object"},
		}
		endpoint := func(_ context.Context, req any) (any, error) {
			return map[string]string{"echo": req.(*echoRequest).Text}, nil
		}
		decode := func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
			var r echoRequest
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
			return &MCPDecodeResult{Request: &r}, nil
		}
		RegisterMCPTool(srv, tool, endpoint, decode)
	})

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]string{"text": "bonjour"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %+v", result.Content)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(tc.Text), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["echo"] != "bonjour" {
		t.Fatalf("echo = %q", out["echo"])
	}
}

func TestRegisterMCPToolEndpointErrorIsToolError(t *testing.T) {
	session := clientFor(t, func(srv *mcp.Server) {
		tool := &mcp.Tool{
			Name:        "boom",
			Description: "always fails",
			InputSchema: map[string]any{"type": "object"},
		}
		endpoint := func(context.Context, any) (any, error) {
			return nil, errors.New("storage offline")
		}
		decode := func(*mcp.CallToolRequest) (*MCPDecodeResult, error) {
			return &MCPDecodeResult{Request: nil}, nil
		}
		RegisterMCPTool(srv, tool, endpoint, decode)
	})

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "boom",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error, got success")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok || !strings.Contains(tc.Text, "storage offline") {
		t.Fatalf("error content = %+v", result.Content)
	}
}
