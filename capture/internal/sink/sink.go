// Package sink defines output backends for captured chat messages.
package sink

import (
	"context"

	"github.com/hazyhaar/chatwatch/message"
)

// Sink is the output interface. Implementations deliver captured
// messages to different backends (JSONL file, stdout, webhook, SQLite
// archive). The session header and footer travel through the same
// interface so every backend sees the full run envelope.
type Sink interface {
	Send(ctx context.Context, msg message.Message) error
	SendStart(ctx context.Context, start message.SessionStart) error
	SendEnd(ctx context.Context, end message.SessionEnd) error
	Close() error
}
