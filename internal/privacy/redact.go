// Package privacy masks configured patterns in text before it is archived.
package privacy

import (
	"fmt"
	"regexp"
)

// Mask replaces every match.
const Mask = "[REDACTED]"

// Redactor applies a fixed list of patterns. A nil Redactor leaves text alone.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New compiles patterns. It fails on the first invalid one.
func New(patterns []string) (*Redactor, error) {
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Len reports how many patterns are active.
func (r *Redactor) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patterns)
}

// Redact replaces every match of every pattern with Mask.
func (r *Redactor) Redact(text string) string {
	if r == nil || text == "" {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, Mask)
	}
	return text
}
