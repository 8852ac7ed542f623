// Package sanitize cleans platform-sourced strings (transcript fragments,
// agent names) before they reach the presentation layer.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// StripHTML removes markup, including markup hidden behind entities, and
// trims the result.
func StripHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(html.UnescapeString(s), "")
	return strings.TrimSpace(s)
}

// Text returns s as a single line of plain text: markup and control
// characters removed, whitespace runs collapsed to one space.
func Text(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return spacePattern.ReplaceAllString(StripHTML(s), " ")
}
