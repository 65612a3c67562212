package scan

import (
	"strings"

	"golang.org/x/net/html"
)

// TextFromHTML extracts the visible text of a markup fragment. Used as
// a fallback when the live element's text read comes back empty (the
// element detached between query and read).
func TextFromHTML(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	collectText(doc, &sb)
	return collapseWhitespace(sb.String())
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	case html.ElementNode:
		// Script and style bodies are not visible text.
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
