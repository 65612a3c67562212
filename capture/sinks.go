package capture

import (
	"io"

	"github.com/hazyhaar/chatwatch/capture/internal/sink"
)

// Sink re-exports the output contract so callers can supply their own.
type Sink = sink.Sink

// Archive re-exports the SQLite sink, which also serves reads.
type Archive = sink.Archive

// NewJSONLSink opens an append-only JSONL file sink.
func NewJSONLSink(path string) (Sink, error) { return sink.NewJSONL(path) }

// NewStdoutSink writes records as JSON lines to w (os.Stdout when nil).
func NewStdoutSink(w io.Writer) Sink { return sink.NewStdout(w) }

// NewWebhookSink posts records to a URL with retries.
func NewWebhookSink(url string, opts ...sink.WebhookOption) Sink {
	return sink.NewWebhook(url, opts...)
}

// NewArchive opens (or creates) the SQLite archive at path.
func NewArchive(path string) (*Archive, error) {
	return sink.OpenArchive(path)
}
