package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/chatwatch/message"
)

func sampleMessage(id string) message.Message {
	return message.Message{
		Timestamp:   "2026-08-30T12:00:00Z",
		ID:          id,
		Type:        message.RoleUser,
		Content:     "hello",
		HTMLSnippet: "<div>hello</div>",
		Location:    message.Location{X: 1, Y: 2, Width: 3, Height: 4},
	}
}

func TestJSONL_AppendsCompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "capture.jsonl")
	j, err := NewJSONL(path)
	if err != nil {
		t.Fatalf("NewJSONL: %v", err)
	}

	ctx := context.Background()
	if err := j.SendStart(ctx, message.SessionStart{SessionID: "s1", SessionStart: "t0"}); err != nil {
		t.Fatalf("SendStart: %v", err)
	}
	if err := j.Send(ctx, sampleMessage("user_0")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := j.SendEnd(ctx, message.SessionEnd{SessionID: "s1", TotalCaptured: 1}); err != nil {
		t.Fatalf("SendEnd: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
		var obj map[string]any
		if err := json.Unmarshal(sc.Bytes(), &obj); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
	}
	if lines != 3 {
		t.Fatalf("got %d lines, want 3", lines)
	}
}

func TestJSONL_AppendNeverTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		j, err := NewJSONL(path)
		if err != nil {
			t.Fatalf("NewJSONL: %v", err)
		}
		if err := j.Send(ctx, sampleMessage("user_0")); err != nil {
			t.Fatalf("Send: %v", err)
		}
		j.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, _ := os.Open(path)
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("got %d lines after two runs, want 2 (len=%d)", lines, len(data))
	}
}

func TestJSONL_RequiredFieldsPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	j, err := NewJSONL(path)
	if err != nil {
		t.Fatalf("NewJSONL: %v", err)
	}
	if err := j.Send(context.Background(), sampleMessage("ai_3")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	j.Close()

	data, _ := os.ReadFile(path)
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"timestamp", "message_id", "type", "content", "html_snippet", "element_location"} {
		if _, ok := obj[field]; !ok {
			t.Errorf("field %q missing from output line", field)
		}
	}
}

type failingSink struct{ err error }

func (f *failingSink) Send(context.Context, message.Message) error           { return f.err }
func (f *failingSink) SendStart(context.Context, message.SessionStart) error { return f.err }
func (f *failingSink) SendEnd(context.Context, message.SessionEnd) error     { return f.err }
func (f *failingSink) Close() error                                          { return nil }

type countingSink struct{ sent int }

func (c *countingSink) Send(context.Context, message.Message) error           { c.sent++; return nil }
func (c *countingSink) SendStart(context.Context, message.SessionStart) error { return nil }
func (c *countingSink) SendEnd(context.Context, message.SessionEnd) error     { return nil }
func (c *countingSink) Close() error                                          { return nil }

func TestRouter_OneFailureDoesNotBlockOthers(t *testing.T) {
	boom := errors.New("boom")
	counting := &countingSink{}
	r := NewRouter(nil, &failingSink{err: boom}, counting)

	err := r.Send(context.Background(), sampleMessage("user_1"))
	if !errors.Is(err, boom) {
		t.Fatalf("Send: got %v, want first error returned", err)
	}
	if counting.sent != 1 {
		t.Fatalf("second sink got %d sends, want 1", counting.sent)
	}
}

func TestStdout_WritesJSONLines(t *testing.T) {
	var buf testBuffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), sampleMessage("user_0")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(buf.bytes, &obj); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
}

type testBuffer struct{ bytes []byte }

func (b *testBuffer) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}
