// Package capture implements the chat capture client. It attaches to a
// running browser over its remote-debugging endpoint, locates the chat
// page, and polls the DOM for new message elements, appending each new
// turn to the configured sinks exactly once.
//
// capture observes, it does not interpret. Cleaned text and raw markup
// snippets are emitted to sinks (JSONL file, stdout, webhook, SQLite
// archive) for consumers to process.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/chatwatch/capture/internal/browser"
	"github.com/hazyhaar/chatwatch/capture/internal/config"
	"github.com/hazyhaar/chatwatch/capture/internal/scan"
	"github.com/hazyhaar/chatwatch/capture/internal/sink"
	"github.com/hazyhaar/chatwatch/idgen"
	"github.com/hazyhaar/chatwatch/message"
)

// Session is the capture client: one attached connection, one selected
// page, one seen-set. All run state lives here, passed by reference to
// the scan routine; nothing is ambient.
type Session struct {
	cfg     *config.Config
	client  *browser.Client
	page    *rod.Page
	pageURL string
	scanner *scan.Scanner
	sinks   *sink.Router
	archive *sink.Archive
	logger  *slog.Logger

	id   string
	seen *seenSet

	// mu guards the scan-position counters, the emit totals, and
	// pageURL. The scan loop and the ask path ingest concurrently when
	// the MCP tools are served alongside capture.
	mu sync.Mutex

	// Scan-position counters: messages at index < count were already
	// captured (or baselined) this run.
	userCount int
	aiCount   int

	userEmitted int
	aiEmitted   int
	loops       atomic.Uint64

	// Confirm is asked at the manual synchronisation points (navigate,
	// capture start). Nil answers yes, for non-interactive use.
	Confirm func(prompt string) bool
}

// New creates a Session from configuration.
func New(cfg *config.Config, logger *slog.Logger, sinks ...sink.Sink) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		cfg: cfg,
		scanner: scan.New(scan.Config{
			UserSelectors:    cfg.Selectors.User,
			AISelectors:      cfg.Selectors.AI,
			TextboxSelectors: cfg.Selectors.Textbox,
			LoadingSelector:  cfg.Selectors.Loading,
			StopSelectors:    cfg.Selectors.Stop,
			Logger:           logger,
		}),
		sinks:  sink.NewRouter(logger, sinks...),
		logger: logger,
		id:     idgen.New(),
		seen:   newSeenSet(),
	}
}

// SetArchive points the session at an archive sink so the MCP and
// relay surfaces can serve recent messages, and binds the archive's
// rows to this session. The archive must also be passed to New as a
// sink to receive writes.
func (s *Session) SetArchive(a *sink.Archive) {
	a.BindSession(s.id)
	s.archive = a
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// PageURL returns the URL of the selected chat page.
func (s *Session) PageURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageURL
}

// Connect attaches to the debugging endpoint and selects the chat
// page, optionally opening one. Fatal errors here carry remediation
// hints for the operator.
func (s *Session) Connect(ctx context.Context) error {
	client, err := browser.Attach(ctx, s.cfg.Endpoint, s.logger)
	if err != nil {
		return err
	}
	s.client = client

	page, err := client.SelectPage(s.cfg.TargetURL)
	switch {
	case err == nil:
		s.page = page
	case errors.Is(err, browser.ErrNoChatPage):
		if s.allowNavigate() {
			opened, openErr := client.OpenChatPage(ctx, s.cfg.TargetURL)
			if openErr != nil {
				client.Close()
				return openErr
			}
			s.page = opened
		} else {
			// Operator says the fallback tab is the one; trust them.
			s.page = page
		}
	default:
		client.Close()
		return err
	}

	if info, err := s.page.Info(); err == nil {
		s.mu.Lock()
		s.pageURL = info.URL
		s.mu.Unlock()
	}
	s.logger.Info("capture: page selected", "url", s.PageURL())
	return nil
}

func (s *Session) allowNavigate() bool {
	if s.cfg.AutoNavigate {
		return true
	}
	return s.confirm("No chat tab found. Open " + s.cfg.TargetURL + "?")
}

func (s *Session) confirm(prompt string) bool {
	if s.Confirm == nil {
		return true
	}
	return s.Confirm(prompt)
}

// Run enters the capture loop: baseline, session header, fixed-interval
// scans until the context is cancelled or the connection is lost, then
// the session footer. Scan errors are logged and skipped; only
// connection loss ends the run early.
func (s *Session) Run(ctx context.Context) error {
	if s.page == nil {
		return fmt.Errorf("capture: Run before Connect")
	}

	if !s.cfg.AutoStart {
		if !s.confirm("Ready to begin capture? Make sure you are logged in and the conversation is visible.") {
			s.logger.Info("capture: operator declined start")
			return nil
		}
	}

	if err := s.waitTextbox(ctx, 30*time.Second); err != nil {
		return err
	}

	if s.cfg.Baseline == config.BaselineSkip {
		s.Baseline()
	}

	if s.cfg.SelfTest.Enabled {
		if err := s.runSelfTest(ctx); err != nil {
			s.logger.Warn("capture: self-test failed", "error", err)
		}
	}

	if err := s.sinks.SendStart(ctx, message.SessionStart{
		SessionStart:    message.Now(),
		SessionID:       s.id,
		URL:             s.PageURL(),
		CaptureMethod:   "rod_cdp",
		Endpoint:        s.cfg.Endpoint,
		TargetSelectors: s.scanner.Targets(),
	}); err != nil {
		s.logger.Warn("capture: write session header", "error", err)
	}

	s.logger.Info("capture: started",
		"session", s.id, "interval", s.cfg.Interval, "baseline", s.cfg.Baseline)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			s.loops.Add(1)
			if n, err := s.scanOnce(ctx); err != nil {
				if !s.connected() {
					s.logger.Error("capture: connection lost", "error", err)
					runErr = fmt.Errorf("%w: %v", browser.ErrConnection, err)
					break loop
				}
				s.logger.Warn("capture: scan failed, skipping cycle", "error", err)
			} else if n > 0 {
				s.logger.Info("capture: new messages", "count", n)
			}
		}
	}

	s.writeFooter(ctx)
	return runErr
}

// Close releases the connection and the sinks. No writes happen after.
func (s *Session) Close() {
	if s.client != nil {
		s.client.Close()
	}
	if err := s.sinks.Close(); err != nil {
		s.logger.Warn("capture: close sinks", "error", err)
	}
}

// Baseline records messages already on the page as seen without
// emitting them. Run calls it when the configuration says to skip
// pre-existing content; callers that drive Ask directly should call it
// once after Connect.
func (s *Session) Baseline() {
	users, ais := s.scanner.Scan(s.page)

	s.mu.Lock()
	for i := range users {
		s.seen.Add(messageID(message.RoleUser, i))
	}
	for i := range ais {
		s.seen.Add(messageID(message.RoleAI, i))
	}
	s.userCount = len(users)
	s.aiCount = len(ais)
	s.mu.Unlock()

	s.logger.Info("capture: baseline recorded",
		"user", len(users), "ai", len(ais))
}

// scanOnce performs one scan cycle and returns how many new messages
// were emitted.
func (s *Session) scanOnce(ctx context.Context) (int, error) {
	// A page that cannot even report its info means the scan target is
	// gone; let the caller decide whether the connection survives.
	if _, err := s.page.Info(); err != nil {
		return 0, fmt.Errorf("capture: page unresponsive: %w", err)
	}

	users, ais := s.scanner.Scan(s.page)
	loading := s.scanner.Loading(s.page)
	return s.ingest(ctx, users, ais, loading), nil
}

// ingest applies one scan result to the session state, emitting every
// element beyond the known counts. Assistant turns are withheld while
// the loading indicator is up so a mid-stream reply is not captured as
// final.
func (s *Session) ingest(ctx context.Context, users, ais []scan.Capture, loading bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	emitted := s.ingestRoleLocked(ctx, message.RoleUser, users)
	if !loading {
		emitted += s.ingestRoleLocked(ctx, message.RoleAI, ais)
	}
	return emitted
}

// ingestUsers captures new operator turns only; the ask path calls it
// while the assistant reply is still streaming.
func (s *Session) ingestUsers(ctx context.Context, users []scan.Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingestRoleLocked(ctx, message.RoleUser, users)
}

// ingestRoleLocked emits every capture beyond the role's scan position.
// Caller holds mu.
func (s *Session) ingestRoleLocked(ctx context.Context, role message.Role, caps []scan.Capture) int {
	count := &s.userCount
	if role == message.RoleAI {
		count = &s.aiCount
	}
	if len(caps) <= *count {
		return 0
	}
	emitted := 0
	for i := *count; i < len(caps); i++ {
		if s.emitLocked(ctx, role, i, caps[i]) {
			emitted++
		}
	}
	*count = len(caps)
	return emitted
}

// emitLocked appends one captured message to the sinks and bumps the
// role's emit total. The seen-set guarantees no identifier is written
// twice in a run. Caller holds mu.
func (s *Session) emitLocked(ctx context.Context, role message.Role, index int, c scan.Capture) bool {
	id := messageID(role, index)
	if !s.seen.Add(id) {
		return false
	}

	msg := message.Message{
		Timestamp:       message.Now(),
		ID:              id,
		Type:            role,
		Content:         c.Text,
		ContentMarkdown: c.Markdown,
		HTMLSnippet:     c.Snippet,
		Location:        c.Box,
	}
	if err := s.sinks.Send(ctx, msg); err != nil {
		s.logger.Warn("capture: sink write failed", "id", id, "error", err)
	}
	if role == message.RoleUser {
		s.userEmitted++
	} else {
		s.aiEmitted++
	}
	s.logger.Debug("capture: message emitted", "id", id, "role", role)
	return true
}

// counts returns the emit totals for both roles.
func (s *Session) counts() (user, ai int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userEmitted, s.aiEmitted
}

func (s *Session) writeFooter(ctx context.Context) {
	user, ai := s.counts()
	if err := s.sinks.SendEnd(ctx, message.SessionEnd{
		SessionEnd:    message.Now(),
		SessionID:     s.id,
		TotalCaptured: user + ai,
		UserMessages:  user,
		AIMessages:    ai,
		TotalLoops:    s.loops.Load(),
	}); err != nil {
		s.logger.Warn("capture: write session footer", "error", err)
	}
}

// waitTextbox polls until a chat input is present, confirming the
// operator has a conversation open.
func (s *Session) waitTextbox(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, ok := s.scanner.FindTextbox(s.page); ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("capture: chat textbox not found within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// connected reports whether the page is still reachable over the
// debugging connection.
func (s *Session) connected() bool {
	if s.page == nil {
		return false
	}
	_, err := s.page.Info()
	return err == nil
}

func messageID(role message.Role, index int) string {
	return fmt.Sprintf("%s_%d", role, index)
}
