package capture

import "github.com/hazyhaar/chatwatch/capture/internal/browser"

// Connection errors surfaced to callers, with remediation in the cmd
// layer.
var (
	ErrConnection = browser.ErrConnection
	ErrNoPage     = browser.ErrNoPage
	ErrNoChatPage = browser.ErrNoChatPage
)
