package capture

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/chatwatch/capture/internal/scan"
	"github.com/hazyhaar/chatwatch/capture/internal/sink"
	"github.com/hazyhaar/chatwatch/message"
)

var testImpl = &mcp.Implementation{Name: "chatwatch-test", Version: "0.1.0"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memorySink records everything it receives.
type memorySink struct {
	mu       sync.Mutex
	messages []message.Message
	starts   int
	ends     []message.SessionEnd
}

func (m *memorySink) Send(_ context.Context, msg message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memorySink) SendStart(context.Context, message.SessionStart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return nil
}

func (m *memorySink) SendEnd(_ context.Context, end message.SessionEnd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ends = append(m.ends, end)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.ID
	}
	return out
}

func testSession(t *testing.T) (*Session, *memorySink) {
	t.Helper()
	rec := &memorySink{}
	return New(DefaultConfig(), quietLogger(), rec), rec
}

func caps(role message.Role, texts ...string) []scan.Capture {
	out := make([]scan.Capture, len(texts))
	for i, txt := range texts {
		out[i] = scan.Capture{Role: role, Text: txt, Snippet: "<div>" + txt + "</div>"}
	}
	return out
}

func TestSeenSet(t *testing.T) {
	s := newSeenSet()
	if !s.Add("user_0") {
		t.Fatal("first Add should report new")
	}
	if s.Add("user_0") {
		t.Fatal("second Add of same id should report seen")
	}
	if !s.Has("user_0") {
		t.Fatal("Has should find recorded id")
	}
	if s.Has("ai_0") {
		t.Fatal("Has should not find unknown id")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestIngestEmitsNewMessagesOnce(t *testing.T) {
	s, rec := testSession(t)
	ctx := context.Background()

	users := caps(message.RoleUser, "hello")
	ais := caps(message.RoleAI, "hi there")

	if n := s.ingest(ctx, users, ais, false); n != 2 {
		t.Fatalf("first ingest emitted %d, want 2", n)
	}
	// Same scan result again: nothing new.
	if n := s.ingest(ctx, users, ais, false); n != 0 {
		t.Fatalf("repeat ingest emitted %d, want 0", n)
	}

	got := rec.ids()
	want := []string{"user_0", "ai_0"}
	if len(got) != len(want) {
		t.Fatalf("sink got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sink got %v, want %v", got, want)
		}
	}
}

func TestIngestIdentifiersUseRoleAndIndex(t *testing.T) {
	s, rec := testSession(t)
	ctx := context.Background()

	s.ingest(ctx, caps(message.RoleUser, "a"), nil, false)
	s.ingest(ctx, caps(message.RoleUser, "a", "b"), caps(message.RoleAI, "r"), false)

	got := rec.ids()
	want := []string{"user_0", "user_1", "ai_0"}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestIngestWithholdsAIWhileLoading(t *testing.T) {
	s, rec := testSession(t)
	ctx := context.Background()

	users := caps(message.RoleUser, "question")
	partial := caps(message.RoleAI, "partial rep")

	if n := s.ingest(ctx, users, partial, true); n != 1 {
		t.Fatalf("loading ingest emitted %d, want 1 (user only)", n)
	}

	final := caps(message.RoleAI, "partial reply, now complete")
	if n := s.ingest(ctx, users, final, false); n != 1 {
		t.Fatalf("settled ingest emitted %d, want 1", n)
	}

	msgs := rec.messages
	if msgs[1].Type != message.RoleAI || msgs[1].Content != "partial reply, now complete" {
		t.Fatalf("AI message captured mid-stream: %+v", msgs[1])
	}
}

func TestBaselineSuppressesExistingMessages(t *testing.T) {
	s, rec := testSession(t)
	ctx := context.Background()

	// Simulate baseline: pre-existing turns become seen without output.
	for i := 0; i < 2; i++ {
		s.seen.Add(messageID(message.RoleUser, i))
		s.seen.Add(messageID(message.RoleAI, i))
	}
	s.userCount, s.aiCount = 2, 2

	users := caps(message.RoleUser, "old1", "old2", "new")
	ais := caps(message.RoleAI, "old1", "old2")
	if n := s.ingest(ctx, users, ais, false); n != 1 {
		t.Fatalf("ingest after baseline emitted %d, want 1", n)
	}
	if got := rec.ids(); len(got) != 1 || got[0] != "user_2" {
		t.Fatalf("ids = %v, want [user_2]", got)
	}
}

// The scan loop and the ask path ingest concurrently when MCP tools
// are served alongside capture; the race detector verifies the
// counters stay guarded.
func TestIngestConcurrentWithAskPath(t *testing.T) {
	s, rec := testSession(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			users := make([]scan.Capture, i)
			for j := range users {
				users[j] = scan.Capture{Role: message.RoleUser, Text: "u"}
			}
			s.ingest(ctx, users, caps(message.RoleAI, "reply"), false)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			s.ingestUsers(ctx, caps(message.RoleUser, "u"))
			s.counts()
			s.PageURL()
		}
	}()
	wg.Wait()

	user, ai := s.counts()
	if user != 50 || ai != 1 {
		t.Fatalf("counts = (%d, %d), want (50, 1)", user, ai)
	}
	if len(rec.ids()) != 51 {
		t.Fatalf("sink got %d messages, want 51", len(rec.ids()))
	}
}

func TestFooterCountsEmittedMessages(t *testing.T) {
	s, rec := testSession(t)
	ctx := context.Background()

	s.ingest(ctx, caps(message.RoleUser, "a", "b"), caps(message.RoleAI, "r"), false)
	s.loops.Add(5)
	s.writeFooter(ctx)

	if len(rec.ends) != 1 {
		t.Fatalf("footer count = %d, want 1", len(rec.ends))
	}
	end := rec.ends[0]
	if end.TotalCaptured != 3 || end.UserMessages != 2 || end.AIMessages != 1 {
		t.Fatalf("footer = %+v", end)
	}
	if end.TotalLoops != 5 {
		t.Fatalf("footer loops = %d, want 5", end.TotalLoops)
	}
	if end.SessionID != s.ID() {
		t.Fatalf("footer session = %q, want %q", end.SessionID, s.ID())
	}
}

// --- MCP surface ---

func mcpSession(t *testing.T, s *Session) *mcp.ClientSession {
	t.Helper()

	srv := mcp.NewServer(testImpl, nil)
	s.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %+v", name, result.Content)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCPStatus(t *testing.T) {
	s, _ := testSession(t)
	s.ingest(context.Background(), caps(message.RoleUser, "q"), caps(message.RoleAI, "a"), false)

	session := mcpSession(t, s)
	raw := callTool(t, session, "chatwatch_status", map[string]any{})

	var status statusResponse
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.SessionID != s.ID() {
		t.Fatalf("status session = %q, want %q", status.SessionID, s.ID())
	}
	if status.Connected {
		t.Fatal("status should report disconnected without a page")
	}
	if status.UserMessages != 1 || status.AIMessages != 1 {
		t.Fatalf("status counts = %+v", status)
	}
}

func TestMCPRecentReadsArchive(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	archive, err := sink.OpenArchiveDB(db)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}

	s := New(DefaultConfig(), quietLogger(), archive)
	s.SetArchive(archive)
	s.ingest(context.Background(), caps(message.RoleUser, "stored question"), nil, false)

	session := mcpSession(t, s)
	raw := callTool(t, session, "chatwatch_recent", map[string]any{"limit": 5})

	var msgs []message.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		t.Fatalf("unmarshal recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "stored question" {
		t.Fatalf("recent = %+v", msgs)
	}
}

func TestMCPRecentWithoutArchiveIsToolError(t *testing.T) {
	s, _ := testSession(t)
	session := mcpSession(t, s)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "chatwatch_recent",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error without archive sink")
	}
	if tc, ok := result.Content[0].(*mcp.TextContent); !ok || !strings.Contains(tc.Text, "archive") {
		t.Fatalf("error content = %+v", result.Content)
	}
}
