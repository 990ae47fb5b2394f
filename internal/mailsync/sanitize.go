package mailsync

import (
	"strings"

	"github.com/k3a/html2text"
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer makes message HTML safe to hand to a browser.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds the message body policy: user-generated-content rules, which drop
// script, style, iframe, frame, object and embed, plus target on links and cid: images.
func NewSanitizer() *Sanitizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("target").Matching(bluemonday.SpaceSeparatedTokens).OnElements("a")
	policy.AllowURLSchemes("cid")
	policy.RequireNoReferrerOnLinks(true)
	return &Sanitizer{policy: policy}
}

// HTML returns the sanitized body.
func (s *Sanitizer) HTML(unsafe string) string {
	if unsafe == "" {
		return ""
	}
	return s.policy.Sanitize(unsafe)
}

// Text renders HTML as plain text, collapsing runs of blank lines.
func (s *Sanitizer) Text(html string) string {
	if html == "" {
		return ""
	}

	text := html2text.HTML2TextWithOptions(html, html2text.WithUnixLineBreaks())

	var lines []string
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
