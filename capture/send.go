package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"

	"github.com/hazyhaar/chatwatch/capture/internal/scan"
	"github.com/hazyhaar/chatwatch/message"
)

// ErrSendFailed reports that the message could not be typed into the
// chat input.
var ErrSendFailed = errors.New("capture: send failed")

// clearInput empties the chat input whether it is a contenteditable
// region or a form control.
const clearInput = `() => {
	this.focus();
	if (this.isContentEditable) {
		this.textContent = '';
	} else if ('value' in this) {
		this.value = '';
	}
}`

const readInput = `() => {
	if (this.isContentEditable) {
		return this.textContent || '';
	}
	return ('value' in this) ? (this.value || '') : '';
}`

// Send types text into the chat input and presses Enter. The typed
// content is read back before submitting; a mismatch retries on a
// fresh element, since the page can swap the input node underneath us.
func (s *Session) Send(ctx context.Context, text string) error {
	if s.page == nil {
		return fmt.Errorf("capture: Send before Connect")
	}
	if err := s.waitTextbox(ctx, 10*time.Second); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}

		el, ok := s.scanner.FindTextbox(s.page)
		if !ok {
			lastErr = errors.New("textbox not found")
			continue
		}
		if _, err := el.Eval(clearInput); err != nil {
			lastErr = err
			continue
		}
		if err := el.Input(text); err != nil {
			lastErr = err
			continue
		}

		res, err := el.Eval(readInput)
		if err != nil {
			lastErr = err
			continue
		}
		if !strings.Contains(res.Value.Str(), prefix(text, 10)) {
			lastErr = errors.New("typed text did not stick")
			continue
		}

		if err := el.Type(input.Enter); err != nil {
			lastErr = err
			continue
		}
		s.logger.Info("capture: message sent", "chars", len(text))
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
}

// Ask sends text and blocks until the assistant reply settles,
// returning the normalized reply. The reply and the sent turn are
// also emitted to the sinks like any scanned message.
func (s *Session) Ask(ctx context.Context, text string, timeout time.Duration) (string, error) {
	return s.ask(ctx, text, timeout, nil)
}

// Stream behaves like Ask but invokes update with the partial reply
// text every time it grows.
func (s *Session) Stream(ctx context.Context, text string, timeout time.Duration, update func(partial string)) error {
	_, err := s.ask(ctx, text, timeout, update)
	return err
}

// ask is the settlement loop. The reply is considered final once new
// content appeared and either the stop-generating control vanished
// after being seen, or the text survived StablePolls consecutive polls
// unchanged with no loading indicator.
func (s *Session) ask(ctx context.Context, text string, timeout time.Duration, update func(string)) (string, error) {
	if s.page == nil {
		return "", fmt.Errorf("capture: Ask before Connect")
	}
	if timeout <= 0 {
		timeout = s.cfg.Ask.Timeout
	}

	// Baseline the page so pre-existing content is not mistaken for
	// the new reply.
	baseUsers, baseAIs := s.scanner.Scan(s.page)
	startAI := len(baseAIs)
	baselineLast := ""
	if startAI > 0 {
		baselineLast = scan.NormalizeStreamText(baseAIs[startAI-1].Text)
	}
	baselineLoading := scan.NormalizeStreamText(s.scanner.LoadingText(s.page))
	s.ingest(ctx, baseUsers, baseAIs, false)

	if err := s.Send(ctx, text); err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	last := baselineLast
	sawNew := false
	sawStop := false
	unchanged := 0

	ticker := time.NewTicker(s.cfg.Ask.Interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		users, ais := s.scanner.Scan(s.page)
		// Capture the operator's own turn as soon as it renders.
		s.ingestUsers(ctx, users)

		loading := scan.NormalizeStreamText(s.scanner.LoadingText(s.page))
		latest := loading
		if latest == "" && len(ais) > 0 {
			latest = scan.NormalizeStreamText(ais[len(ais)-1].Text)
		}

		generating := s.scanner.Generating(s.page)
		if generating {
			sawStop = true
		}

		if latest == "" {
			continue
		}
		// Stale content from before the send does not count as new.
		if loading != "" && loading == baselineLoading {
			continue
		}
		if loading == "" && len(ais) <= startAI && latest == baselineLast {
			continue
		}

		if latest != last {
			sawNew = true
			unchanged = 0
			last = latest
			if update != nil {
				update(latest)
			}
		} else if sawNew {
			unchanged++
		}

		settled := sawNew && !generating &&
			(sawStop || unchanged >= s.cfg.Ask.StablePolls)
		if !settled {
			continue
		}
		if loading != "" || len(ais) <= startAI {
			// Settled on the indicator text, not a rendered reply.
			continue
		}

		final := scan.NormalizeStreamText(ais[len(ais)-1].Text)
		if final == "" {
			continue
		}
		s.mu.Lock()
		s.emitLocked(ctx, message.RoleAI, len(ais)-1, ais[len(ais)-1])
		if len(ais) > s.aiCount {
			s.aiCount = len(ais)
		}
		s.mu.Unlock()
		return final, nil
	}
	return "", fmt.Errorf("capture: no reply within %s", timeout)
}

// runSelfTest sends a canary message and verifies both the sent turn
// and a reply are captured, proving the selectors match this page.
func (s *Session) runSelfTest(ctx context.Context) error {
	text := s.cfg.SelfTest.Message
	if text == "" {
		text = "Self-test: please reply with a short acknowledgement."
	}
	s.logger.Info("capture: running self-test")

	usersBefore, _ := s.counts()
	reply, err := s.Ask(ctx, text, s.cfg.SelfTest.Timeout)
	if err != nil {
		return err
	}
	if usersAfter, _ := s.counts(); usersAfter <= usersBefore {
		return errors.New("capture: self-test reply arrived but sent turn was not captured")
	}
	s.logger.Info("capture: self-test passed", "reply_chars", len(reply))
	return nil
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
