package scan

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalizeStreamText_StripsChrome(t *testing.T) {
	in := strings.Join([]string{
		"Copilot",
		"Generating response",
		"Here is the answer.",
		":",
		"Second line.",
	}, "\n")

	got := NormalizeStreamText(in)
	want := "Here is the answer.\nSecond line."
	if got != want {
		t.Fatalf("NormalizeStreamText: got %q, want %q", got, want)
	}
}

func TestNormalizeStreamText_KeepsBlankLines(t *testing.T) {
	got := NormalizeStreamText("para one\n\npara two")
	if got != "para one\n\npara two" {
		t.Fatalf("blank line dropped: %q", got)
	}
}

func TestNormalizeStreamText_Empty(t *testing.T) {
	if got := NormalizeStreamText(""); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	if got := NormalizeStreamText("You said:\nToday"); got != "" {
		t.Fatalf("chrome-only input: got %q, want empty", got)
	}
}

func TestStripReplyChrome(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Copilot said Hello there. Edit in a page", "Hello there."},
		{"Copilot said Hello there.", "Hello there."},
		{"Plain reply", "Plain reply"},
	}
	for _, c := range cases {
		if got := StripReplyChrome(c.in); got != c.want {
			t.Errorf("StripReplyChrome(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCleanText_ZeroWidth(t *testing.T) {
	in := "a\u200bb\ufeffc"
	if got := CleanText(in); got != "abc" {
		t.Fatalf("CleanText: got %q", got)
	}
}

func TestCleanText_KeepsNewlines(t *testing.T) {
	if got := CleanText(" line1\nline2 "); got != "line1\nline2" {
		t.Fatalf("CleanText: got %q", got)
	}
}

func TestTruncateMarkup_RuneBoundary(t *testing.T) {
	s := "<p>héllo wörld</p>"
	got := TruncateMarkup(s, 6)
	if len(got) > 6 {
		t.Fatalf("TruncateMarkup: length %d > 6", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("TruncateMarkup: split a rune: %q", got)
	}
	if !strings.HasPrefix(s, got) {
		t.Fatalf("TruncateMarkup: %q is not a prefix of input", got)
	}
}

func TestTruncateMarkup_NoTruncation(t *testing.T) {
	s := "<p>short</p>"
	if got := TruncateMarkup(s, 500); got != s {
		t.Fatalf("TruncateMarkup: got %q, want unchanged", got)
	}
}

func TestTextFromHTML(t *testing.T) {
	got := TextFromHTML(`<div><p>Hello</p><script>var x;</script><p>world</p></div>`)
	if got != "Hello world" {
		t.Fatalf("TextFromHTML: got %q", got)
	}
}

func TestTextFromHTML_Empty(t *testing.T) {
	if got := TextFromHTML(`<div><script>x()</script></div>`); got != "" {
		t.Fatalf("TextFromHTML: got %q, want empty", got)
	}
}
