package notify

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var richPolicy = bluemonday.UGCPolicy()

// PlainText reduces CRM or admin supplied text to a single line of plain
// text. Markup is dropped and entities are decoded.
func PlainText(s string) string {
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// SanitizeHTML keeps basic formatting (links, emphasis, lists) and removes
// anything scriptable. Used for announcement bodies that are rendered as HTML.
func SanitizeHTML(s string) string {
	return strings.TrimSpace(richPolicy.Sanitize(s))
}
