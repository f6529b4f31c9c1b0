package digest

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// TerminalFormatter formats items for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes the items to w grouped by source.
func (f *TerminalFormatter) Format(w io.Writer, input Input) error {
	groups := groupBySource(input.Items)
	now := reference(input)

	header := fmt.Sprintf("pollmark — %d sources, %s items, since %s",
		len(groups), humanize.Comma(int64(len(input.Items))), formatDuration(input.Since))
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	if len(input.Items) == 0 {
		fmt.Fprintln(w, "No items found.")
		return nil
	}

	for _, g := range groups {
		fmt.Fprintln(w, f.green(f.bold(fmt.Sprintf("--- %s / %s (%d) ---", g.Source, g.Kind, len(g.Items)))))
		fmt.Fprintln(w)
		for _, item := range g.Items {
			author := ""
			if item.Author != "" {
				author = " @" + item.Author
			}
			fmt.Fprintf(w, "  %s%s — %s %s\n",
				f.bold("#"+item.ExternalID),
				author,
				headline(item.Text),
				f.dim("("+humanize.RelTime(item.CreatedAt, now, "ago", "from now")+")"),
			)
			if item.URL != "" {
				fmt.Fprintf(w, "      %s\n", f.dim(item.URL))
			}
		}
		fmt.Fprintln(w)
	}

	return nil
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
