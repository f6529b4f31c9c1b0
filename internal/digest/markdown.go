package digest

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// MarkdownFormatter formats items as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes the items as Markdown to w.
func (f *MarkdownFormatter) Format(w io.Writer, input Input) error {
	groups := groupBySource(input.Items)
	now := reference(input)

	fmt.Fprintf(w, "# pollmark\n\n")
	fmt.Fprintf(w, "%d sources, %d items, since %s\n\n", len(groups), len(input.Items), formatDuration(input.Since))

	if len(input.Items) == 0 {
		fmt.Fprintln(w, "No items found.")
		return nil
	}

	for _, g := range groups {
		fmt.Fprintf(w, "## %s / %s (%d)\n\n", g.Source, g.Kind, len(g.Items))
		for _, item := range g.Items {
			fmt.Fprintf(w, "- **#%s**", item.ExternalID)
			if item.Author != "" {
				fmt.Fprintf(w, " @%s", item.Author)
			}
			fmt.Fprintf(w, " — %s _(%s)_", headline(item.Text), humanize.RelTime(item.CreatedAt, now, "ago", "from now"))
			if item.URL != "" {
				fmt.Fprintf(w, " [link](%s)", item.URL)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	return nil
}
