package browser

import "testing"

func TestScorePage(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		textbox bool
		want    int
	}{
		{"m365 chat with textbox", "https://m365.cloud.microsoft/chat/?auth=2", true, 7 + 4 + 5},
		{"m365 com chat", "https://m365.cloud.microsoft.com/chat", false, 6 + 4 + 2},
		{"copilot home", "https://copilot.microsoft.com/", false, 2},
		{"generic chats path", "https://example.com/chats/42", false, 4},
		{"unrelated", "https://news.example.com/", false, 0},
		{"unrelated with textbox", "https://search.example.com/", true, 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := scorePage(c.url, c.textbox); got != c.want {
				t.Errorf("scorePage(%q, %v): got %d, want %d", c.url, c.textbox, got, c.want)
			}
		})
	}
}

func TestScorePage_ChatBeatsTextboxOnly(t *testing.T) {
	chat := scorePage("https://m365.cloud.microsoft/chat/", false)
	other := scorePage("https://example.com/", true)
	if chat <= other {
		t.Fatalf("chat URL (%d) should outrank a bare textbox page (%d)", chat, other)
	}
}
