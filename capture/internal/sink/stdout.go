package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/chatwatch/message"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(msg)
}

func (s *Stdout) SendStart(_ context.Context, start message.SessionStart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(start)
}

func (s *Stdout) SendEnd(_ context.Context, end message.SessionEnd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(end)
}

func (s *Stdout) Close() error { return nil }
