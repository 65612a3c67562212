package scan

import (
	"regexp"
	"strings"
)

// skipPrefixes are UI chrome lines that leak into the rendered reply
// while the assistant is streaming. Lines starting with any of these
// are dropped during normalisation.
var skipPrefixes = []string{
	"Copilot",
	"Generating response",
	"Reasoned for",
	"Get a quick answer",
	"You said:",
	"Today",
}

// NormalizeStreamText cleans a streaming reply snapshot: strips UI
// chrome lines, lone colons, and trailing whitespace per line. Line
// structure is preserved.
func NormalizeStreamText(text string) string {
	if text == "" {
		return ""
	}

	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			cleaned = append(cleaned, "")
			continue
		}
		if stripped == ":" {
			continue
		}
		skip := false
		for _, prefix := range skipPrefixes {
			if strings.HasPrefix(stripped, prefix) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// StripReplyChrome removes the accessibility labels the chat UI embeds
// in assistant message containers.
func StripReplyChrome(text string) string {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "Copilot said") {
		text = strings.TrimSpace(strings.ReplaceAll(text, "Copilot said", ""))
		text = strings.TrimSpace(strings.TrimSuffix(text, "Edit in a page"))
	}
	return text
}

// CleanText removes zero-width characters and trims. Unlike web-page
// extraction, chat content keeps its internal line structure.
func CleanText(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}

var multiSpaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// TruncateMarkup caps a markup fragment at max bytes without splitting
// a multi-byte rune. Diagnostic snippets do not need balanced tags.
func TruncateMarkup(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
