// Package digest renders archived items for humans and tools.
package digest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/pollmark/internal/store"
)

const headlineRunes = 120

// Input is the full input for a formatter. Items are expected newest first.
type Input struct {
	Items []store.Item
	Since time.Duration // time window
	Now   time.Time     // reference for relative times; zero means time.Now()
}

// Formatter writes formatted items to w.
type Formatter interface {
	Format(w io.Writer, input Input) error
}

// New returns the formatter for a format name.
func New(format string, color bool) (Formatter, error) {
	switch format {
	case "terminal", "":
		return NewTerminal(color), nil
	case "json":
		return NewJSON(), nil
	case "markdown":
		return NewMarkdown(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want terminal, json or markdown)", format)
	}
}

// group holds the items of one source and kind, keeping input order.
type group struct {
	Source string
	Kind   string
	Items  []store.Item
}

func groupBySource(items []store.Item) []group {
	var groups []group
	index := make(map[string]int)
	for _, item := range items {
		key := item.Source + "\x00" + item.Kind
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{Source: item.Source, Kind: item.Kind})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// headline is the first non-empty line of text, cut to headlineRunes.
func headline(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > headlineRunes {
			return string(runes[:headlineRunes-1]) + "…"
		}
		return line
	}
	return ""
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%dd", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}

func reference(input Input) time.Time {
	if input.Now.IsZero() {
		return time.Now()
	}
	return input.Now
}
