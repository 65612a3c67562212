// Package scan reads chat-message elements out of a live page.
//
// A scan is a full re-read of the currently rendered messages: for each
// role an ordered selector list is tried until one matches, every match
// is converted to a Capture, and unreadable elements are skipped whole.
// The caller owns dedup; scan owns selection, extraction, and cleanup.
package scan

import (
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/go-rod/rod"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/chatwatch/message"
)

// Default selector lists, ordered most-specific first. The first
// selector that matches anything wins for that scan cycle.
var (
	DefaultUserSelectors = []string{
		`[data-testid="chatOutput"]`,
		`[data-content="user-message"]`,
		`[data-testid="user-message"]`,
		`.user-message`,
	}
	DefaultAISelectors = []string{
		`[data-testid="copilot-message-reply-div"]`,
		`[data-testid="m365-chat-llm-web-ui-chat-message"]`,
		`[data-testid="copilot-message-div"]`,
		`[data-testid="lastChatMessage"]`,
		`[data-testid="markdown-reply"]`,
		`[data-content="ai-message"]`,
		`[data-testid="bot-message"]`,
		`[data-testid="ai-message"]`,
		`.ai-message`,
		`.bot-message`,
	}
	DefaultTextboxSelectors = []string{
		`[data-testid="chatQuestion"] [role="textbox"]`,
		`[data-testid="chatQuestion"] [contenteditable="true"]`,
		`[data-testid="chatQuestion"] textarea`,
		`[data-testid="bizchat-input-section"] [role="textbox"]`,
		`[data-testid="bizchat-input-section"] [contenteditable="true"]`,
		`[role="textbox"]`,
		`[contenteditable="true"]`,
		`textarea`,
		`input[type="text"]`,
	}
	DefaultLoadingSelector = `[data-testid="loading-message"]`
	DefaultStopSelectors   = []string{
		`[aria-label="Stop generating"]`,
		`button[aria-label="Stop generating"]`,
	}
)

// snippetCap is the byte cap on diagnostic markup snippets.
const snippetCap = 500

// Capture is one message element read from the page, already cleaned.
type Capture struct {
	Role     message.Role
	Text     string
	Markdown string
	Snippet  string
	Box      message.Location
}

// Config for creating a Scanner.
type Config struct {
	UserSelectors    []string
	AISelectors      []string
	TextboxSelectors []string
	LoadingSelector  string
	StopSelectors    []string
	Logger           *slog.Logger
}

func (c *Config) defaults() {
	if len(c.UserSelectors) == 0 {
		c.UserSelectors = DefaultUserSelectors
	}
	if len(c.AISelectors) == 0 {
		c.AISelectors = DefaultAISelectors
	}
	if len(c.TextboxSelectors) == 0 {
		c.TextboxSelectors = DefaultTextboxSelectors
	}
	if c.LoadingSelector == "" {
		c.LoadingSelector = DefaultLoadingSelector
	}
	if len(c.StopSelectors) == 0 {
		c.StopSelectors = DefaultStopSelectors
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scanner reads message elements from a page. Safe for reuse across
// scan cycles; it keeps no per-page state.
type Scanner struct {
	cfg       Config
	sanitizer *bluemonday.Policy
	md        *converter.Converter
	logger    *slog.Logger
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	cfg.defaults()
	return &Scanner{
		cfg:       cfg,
		sanitizer: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		logger: cfg.Logger,
	}
}

// Scan performs a full re-read of user and assistant messages in DOM
// order. Elements that cannot be fully read (text, markup, geometry)
// are skipped entirely rather than emitted as partial records.
func (s *Scanner) Scan(page *rod.Page) (users, ais []Capture) {
	users = s.collect(page, message.RoleUser, s.cfg.UserSelectors)
	ais = s.collect(page, message.RoleAI, s.cfg.AISelectors)
	return users, ais
}

func (s *Scanner) collect(page *rod.Page, role message.Role, selectors []string) []Capture {
	for _, sel := range selectors {
		els, err := page.Elements(sel)
		if err != nil {
			s.logger.Debug("scan: selector query failed", "selector", sel, "error", err)
			continue
		}
		if len(els) == 0 {
			continue
		}

		caps := make([]Capture, 0, len(els))
		for _, el := range els {
			c, ok := s.read(el, role)
			if !ok {
				continue
			}
			caps = append(caps, c)
		}
		// First matching selector wins; later fallbacks would re-count
		// the same turns under different markup.
		return caps
	}
	return nil
}

// read extracts one element. ok is false when any required piece is
// missing, in which case the element is skipped whole.
func (s *Scanner) read(el *rod.Element, role message.Role) (Capture, bool) {
	text, err := el.Text()
	if err != nil {
		s.logger.Debug("scan: element text read failed", "error", err)
		return Capture{}, false
	}

	markup, err := el.HTML()
	if err != nil {
		s.logger.Debug("scan: element markup read failed", "error", err)
		return Capture{}, false
	}

	shape, err := el.Shape()
	if err != nil {
		s.logger.Debug("scan: element shape read failed", "error", err)
		return Capture{}, false
	}
	box := shape.Box()
	if box == nil {
		return Capture{}, false
	}

	text = CleanText(text)
	if role == message.RoleAI {
		text = StripReplyChrome(text)
	}
	if text == "" {
		text = TextFromHTML(markup)
	}
	if text == "" {
		return Capture{}, false
	}

	return Capture{
		Role:     role,
		Text:     text,
		Markdown: s.renderMarkdown(markup, text),
		Snippet:  s.sanitizer.Sanitize(TruncateMarkup(markup, snippetCap)),
		Box: message.Location{
			X:      box.X,
			Y:      box.Y,
			Width:  box.Width,
			Height: box.Height,
		},
	}, true
}

// renderMarkdown converts the element markup to commonmark. Falls back
// to the plain text when conversion fails or produces nothing.
func (s *Scanner) renderMarkdown(markup, fallback string) string {
	result, err := s.md.ConvertString(markup)
	if err != nil || strings.TrimSpace(result) == "" {
		return fallback
	}
	return strings.TrimSpace(result)
}

// LoadingText returns the text of the newest loading-message indicator,
// or "" when the page shows none.
func (s *Scanner) LoadingText(page *rod.Page) string {
	els, err := page.Elements(s.cfg.LoadingSelector)
	if err != nil || len(els) == 0 {
		return ""
	}
	text, err := els[len(els)-1].Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// Loading reports whether a loading-message indicator is present.
func (s *Scanner) Loading(page *rod.Page) bool {
	has, _, err := page.Has(s.cfg.LoadingSelector)
	return err == nil && has
}

// Generating reports whether a stop-generating control is present,
// i.e. the assistant is still streaming a reply.
func (s *Scanner) Generating(page *rod.Page) bool {
	for _, sel := range s.cfg.StopSelectors {
		has, _, err := page.Has(sel)
		if err == nil && has {
			return true
		}
	}
	return false
}

// FindTextbox returns the chat input element, trying the textbox
// selector list in order. Does not wait.
func (s *Scanner) FindTextbox(page *rod.Page) (*rod.Element, bool) {
	for _, sel := range s.cfg.TextboxSelectors {
		has, el, err := page.Has(sel)
		if err == nil && has {
			return el, true
		}
	}
	return nil, false
}

// TextboxSelectors exposes the configured textbox selector list (the
// session uses it for readiness waits).
func (s *Scanner) TextboxSelectors() []string {
	return s.cfg.TextboxSelectors
}

// Targets describes the primary selector per role, recorded in the
// session header for diagnostics.
func (s *Scanner) Targets() map[string]string {
	return map[string]string{
		"user_messages": s.cfg.UserSelectors[0],
		"ai_messages":   s.cfg.AISelectors[0],
	}
}
