// Package sanitize turns fetched feed bodies into plain text before they
// are sent to the scorer.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mmm8091/zimmerwald/internal/domain"
)

// RSSHub and similar gateways append promotional signatures to every item.
var gatewayBoilerplate = regexp.MustCompile(`(?i)powered by (rsshub|broadcast channel)\S*`)

// Clean converts raw HTML into plain text. News platforms get tag
// stripping and whitespace collapse; social platforms additionally get
// media placeholders, line-break preservation, and gateway boilerplate
// removal. Clean is idempotent: already-clean text passes through
// unchanged.
func Clean(raw string, platform domain.Platform) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	if platform.Social() {
		return cleanSocial(raw)
	}
	return cleanNews(raw)
}

func cleanNews(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(raw), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func cleanSocial(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return normalizeLines(raw)
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	// Placeholders instead of deletion: the scorer should still see that
	// an item was media-only.
	doc.Find("img, picture").ReplaceWithHtml(" [image] ")
	doc.Find("video, iframe").ReplaceWithHtml(" [video] ")
	return normalizeLines(doc.Text())
}

// normalizeLines trims each line, drops gateway signatures, and collapses
// runs of blank lines into a single separator.
func normalizeLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		line = strings.TrimSpace(gatewayBoilerplate.ReplaceAllString(line, ""))
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
