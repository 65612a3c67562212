// Package message defines the structured records emitted by chatwatch.
// These are the public API contract: any consumer (the relay, custom
// pipelines, offline analysis) imports this package to read capture output.
package message

import "time"

// Role classifies who authored a chat turn.
type Role string

const (
	RoleUser Role = "user" // operator-authored turn
	RoleAI   Role = "ai"   // assistant-authored turn
)

// Location is the bounding box of the source DOM element at capture time.
type Location struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Message is one captured chat turn. Created the moment the capture loop
// first sees a DOM element, immutable afterwards, appended exactly once.
type Message struct {
	// Timestamp is the capture time (not send time), ISO-8601.
	Timestamp string `json:"timestamp"`
	// ID is unique within one capture session ("<role>_<index>").
	ID   string `json:"message_id"`
	Type Role   `json:"type"`
	// Content is the cleaned visible text of the turn.
	Content string `json:"content"`
	// ContentMarkdown is a commonmark rendering of the captured markup.
	// Empty when conversion produced nothing beyond Content.
	ContentMarkdown string `json:"content_markdown,omitempty"`
	// HTMLSnippet is a sanitised, capped fragment of the source markup,
	// kept for diagnostics only.
	HTMLSnippet string `json:"html_snippet"`
	// Location is the element geometry at first sighting.
	Location Location `json:"element_location"`
}

// SessionStart is the header record written once when capture begins.
type SessionStart struct {
	SessionStart    string            `json:"session_start"` // ISO-8601
	SessionID       string            `json:"session_id"`
	URL             string            `json:"url"`
	CaptureMethod   string            `json:"capture_method"`
	Endpoint        string            `json:"cdp_endpoint"`
	TargetSelectors map[string]string `json:"target_selectors"`
}

// SessionEnd is the footer record written once when capture stops.
type SessionEnd struct {
	SessionEnd    string `json:"session_end"` // ISO-8601
	SessionID     string `json:"session_id"`
	TotalCaptured int    `json:"total_messages_captured"`
	UserMessages  int    `json:"total_user_messages"`
	AIMessages    int    `json:"total_ai_messages"`
	TotalLoops    uint64 `json:"total_loops"`
}

// Now returns the canonical timestamp string used in all records.
func Now() string {
	return time.Now().Format(time.RFC3339Nano)
}
