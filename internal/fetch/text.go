package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText returns the visible text of an HTML fragment with whitespace
// collapsed. Plain text passes through unchanged apart from whitespace.
func HTMLToText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return cleanWhitespace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return cleanWhitespace(fragment)
	}
	doc.Find("script, style, noscript").Remove()
	return cleanWhitespace(doc.Text())
}

// cleanWhitespace normalizes whitespace in text.
func cleanWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
