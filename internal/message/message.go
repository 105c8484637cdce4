// Package message turns feed items into chat text.
package message

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ppiankov/rsspinger/internal/feed"
)

const redactedPlaceholder = "[REDACTED]"

var stripPolicy = bluemonday.StrictPolicy()

// Formatter renders one item per message as title, link and media url on separate lines.
type Formatter struct {
	redact []*regexp.Regexp
}

// New creates a formatter. Each redact pattern is replaced with [REDACTED] in the output.
func New(redactPatterns []string) (*Formatter, error) {
	compiled := make([]*regexp.Regexp, 0, len(redactPatterns))
	for _, p := range redactPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Formatter{redact: compiled}, nil
}

// Format returns the message text for it.
func (f *Formatter) Format(it feed.Item) string {
	text := cleanTitle(it.Title) + "\n" + it.Link + "\n" + it.MediaURL
	for _, re := range f.redact {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Write prints items in order, separated by blank lines.
func (f *Formatter) Write(w io.Writer, items []feed.Item) error {
	for i, it := range items {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, f.Format(it)); err != nil {
			return err
		}
	}
	return nil
}

// cleanTitle drops any markup and folds whitespace. Feeds often carry escaped HTML in titles.
func cleanTitle(s string) string {
	s = stripPolicy.Sanitize(strings.TrimSpace(s))
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
