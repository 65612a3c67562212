package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hazyhaar/chatwatch/message"
)

// JSONL appends one JSON object per line to a file. The file is opened
// append-only and never rewritten or truncated; re-running against the
// same path extends the log.
type JSONL struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewJSONL opens (or creates) the output file at path, creating parent
// directories as needed.
func NewJSONL(path string) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("jsonl: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	return &JSONL{f: f, enc: json.NewEncoder(f)}, nil
}

func (j *JSONL) Send(_ context.Context, msg message.Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(msg)
}

func (j *JSONL) SendStart(_ context.Context, start message.SessionStart) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(start)
}

func (j *JSONL) SendEnd(_ context.Context, end message.SessionEnd) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(end)
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
