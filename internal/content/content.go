// Package content holds the few helpers the workspace needs for file bodies.
// File content is an opaque HTML string produced by the editor; these helpers
// only measure it or build it from markdown.
package content

import (
	"bytes"
	"html"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	tagRegex        = regexp.MustCompile(`<[^>]*>`)
)

// Normalize trims, lowercases and collapses internal whitespace.
// Used for case-insensitive name matching.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// PlainText strips markup from an HTML body and unescapes entities.
func PlainText(body string) string {
	text := tagRegex.ReplaceAllString(body, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// EstimateTokens estimates token count using a 1.3x multiplier on word count.
func EstimateTokens(text string) int {
	words := strings.Fields(strings.TrimSpace(text))
	return int(math.Ceil(float64(len(words)) * 1.3))
}

// Stats describes a file body as seen by a reader.
type Stats struct {
	Chars  int `json:"chars"`
	Tokens int `json:"tokens"`
}

// Measure computes Stats on the plain text of an HTML body.
func Measure(body string) Stats {
	text := PlainText(body)
	return Stats{Chars: CountChars(text), Tokens: EstimateTokens(text)}
}

// FromMarkdown converts markdown into the HTML the editor stores.
func FromMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
