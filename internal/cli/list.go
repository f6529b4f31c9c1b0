package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/ppiankov/pollmark/internal/config"
	"github.com/ppiankov/pollmark/internal/digest"
	"github.com/ppiankov/pollmark/internal/store"
	"github.com/spf13/cobra"
)

var (
	listSince  string
	listFormat string
	listSource string
	listKind   string
	listLimit  int
	noColor    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show archived items",
	RunE:  listAction,
}

func init() {
	listCmd.Flags().StringVar(&listSince, "since", "24h", "time window (e.g. 7d, 48h)")
	listCmd.Flags().StringVar(&listFormat, "format", "terminal", "output format: terminal, json, markdown")
	listCmd.Flags().StringVar(&listSource, "source", "", "only items of this source name")
	listCmd.Flags().StringVar(&listKind, "kind", "", "only items of this kind (timeline, mentions, direct_messages)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of items (0 = all)")
	listCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
}

func listAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	formatter, err := digest.New(listFormat, !noColor && isTerminal(os.Stdout))
	if err != nil {
		return err
	}

	sinceDur, err := parseDuration(listSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	items, err := db.GetItems(commandContext(cmd), time.Now().Add(-sinceDur), store.ItemFilter{
		Source: listSource,
		Kind:   listKind,
		Limit:  listLimit,
	})
	if err != nil {
		return fmt.Errorf("get items: %w", err)
	}

	return formatter.Format(os.Stdout, digest.Input{Items: items, Since: sinceDur})
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
