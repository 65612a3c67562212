// Package browser attaches to an already-running Chrome over its
// remote-debugging endpoint and selects the chat page. It never owns
// the browser process: disconnecting leaves the browser running.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

var (
	// ErrConnection means no debugging listener was reachable.
	ErrConnection = errors.New("browser: cannot reach debugging endpoint")
	// ErrNoPage means the attached browser exposes no open pages.
	ErrNoPage = errors.New("browser: no open pages in browser")
	// ErrNoChatPage means pages exist but none looks like a chat tab.
	ErrNoChatPage = errors.New("browser: no suitable chat page found")
)

// Client is the attached remote-debugging session. Owned exclusively by
// one capture session; Close releases the connection only.
type Client struct {
	Browser  *rod.Browser
	endpoint string
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// Attach connects to the debugging endpoint (host:port or http URL).
func Attach(ctx context.Context, endpoint string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := launcher.ResolveURL(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrConnection, endpoint, err)
	}

	bctx, cancel := context.WithCancel(ctx)
	b := rod.New().ControlURL(wsURL).Context(bctx)
	if err := b.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: connect %s: %v", ErrConnection, wsURL, err)
	}

	logger.Info("browser: attached", "endpoint", endpoint)
	return &Client{Browser: b, endpoint: endpoint, cancel: cancel, logger: logger}, nil
}

// Close drops the debugging connection. The browser itself stays open;
// it belongs to the operator, not to us.
func (c *Client) Close() {
	c.cancel()
	c.logger.Info("browser: disconnected (browser remains open)")
}

// Endpoint returns the configured debugging endpoint.
func (c *Client) Endpoint() string { return c.endpoint }

// SelectPage picks the open page that looks most like the target chat.
// Scoring combines URL markers with the presence of a chat textbox.
// Returns ErrNoPage when nothing is open, ErrNoChatPage when pages
// exist but none scores above zero.
func (c *Client) SelectPage(targetURL string) (*rod.Page, error) {
	pages, err := c.Browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, ErrNoPage
	}

	var best *rod.Page
	bestScore := 0
	var fallback *rod.Page

	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, "devtools://") {
			continue
		}
		if fallback == nil {
			fallback = p
		}

		score := scorePage(info.URL, hasTextbox(p))
		if targetURL != "" && strings.HasPrefix(info.URL, targetURL) {
			score += 3
		}
		if score > bestScore {
			best, bestScore = p, score
		}
	}

	if best != nil {
		c.logger.Info("browser: selected chat page", "score", bestScore)
		return best, nil
	}
	if fallback == nil {
		return nil, ErrNoPage
	}
	return fallback, ErrNoChatPage
}

// OpenChatPage opens a fresh stealth page and navigates it to the chat URL.
func (c *Client) OpenChatPage(ctx context.Context, pageURL string) (*rod.Page, error) {
	page, err := stealth.Page(c.Browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		c.logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	c.logger.Info("browser: opened chat page", "url", pageURL)
	return page, nil
}

// scorePage ranks a candidate page. URL markers dominate; a visible
// textbox is a strong tie-breaker for the active conversation tab.
func scorePage(pageURL string, textbox bool) int {
	score := 0
	if strings.Contains(pageURL, "m365.cloud.microsoft/chat") {
		score += 7
	}
	if strings.Contains(pageURL, "m365.cloud.microsoft.com/chat") {
		score += 6
	}
	if strings.Contains(pageURL, "/chat") || strings.Contains(pageURL, "/chats") {
		score += 4
	}
	if strings.Contains(pageURL, "copilot.microsoft.com") ||
		strings.Contains(pageURL, "m365.cloud.microsoft.com") {
		score += 2
	}
	if textbox {
		score += 5
	}
	return score
}

func hasTextbox(p *rod.Page) bool {
	has, _, err := p.Has(`[role="textbox"]`)
	return err == nil && has
}
