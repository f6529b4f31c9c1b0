package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ppiankov/pollmark/internal/config"
	"github.com/ppiankov/pollmark/internal/store"
	"github.com/spf13/cobra"
)

var (
	statsSince  string
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-source archive statistics",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "30d", "time window (e.g. 7d, 48h)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
}

const staleDays = 7

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	sinceDur, err := parseDuration(statsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}

	stats, err := db.GetSourceStats(commandContext(cmd), time.Now().Add(-sinceDur))
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, stats)
	case "terminal", "":
		printStats(os.Stdout, stats, sinceDur, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	Sources []jsonSourceStats `json:"sources"`
	Total   int               `json:"total"`
}

type jsonSourceStats struct {
	Source    string `json:"source"`
	Kind      string `json:"kind"`
	Account   string `json:"account"`
	Total     int    `json:"total"`
	LatestID  int64  `json:"latest_id"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
}

func printStatsJSON(w io.Writer, stats []store.SourceStats) error {
	out := jsonStatsOutput{Sources: make([]jsonSourceStats, 0, len(stats))}
	for _, st := range stats {
		out.Sources = append(out.Sources, jsonSourceStats{
			Source:    st.Source,
			Kind:      st.Kind,
			Account:   st.Account,
			Total:     st.Total,
			LatestID:  st.LatestID,
			FirstSeen: st.FirstSeen.UTC().Format(time.RFC3339),
			LastSeen:  st.LastSeen.UTC().Format(time.RFC3339),
		})
		out.Total += st.Total
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, stats []store.SourceStats, since time.Duration, now time.Time) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No items found. Run 'pollmark pull' first.")
		return
	}

	total := 0
	for _, st := range stats {
		total += st.Total
	}
	fmt.Fprintf(w, "pollmark stats — %s, %s items from %d sources\n\n",
		formatStatsDuration(since), humanize.Comma(int64(total)), len(stats))

	maxName := 6 // minimum "Source"
	for _, st := range stats {
		if len(st.Source) > maxName {
			maxName = len(st.Source)
		}
	}
	if maxName > 30 {
		maxName = 30
	}

	fmt.Fprintf(w, "  %-*s  %-15s  %6s  %20s  %s\n", maxName, "Source", "Kind", "Items", "Latest ID", "Last Item")
	for _, st := range stats {
		name := st.Source
		if len(name) > maxName {
			name = name[:maxName-1] + "…"
		}
		fmt.Fprintf(w, "  %-*s  %-15s  %6d  %20d  %s\n",
			maxName, name, st.Kind, st.Total, st.LatestID, humanize.RelTime(st.LastSeen, now, "ago", "from now"))
	}
	fmt.Fprintln(w)

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale []store.SourceStats
	for _, st := range stats {
		if st.LastSeen.Before(staleThreshold) {
			stale = append(stale, st)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "--- Quiet Sources (no items in %d+ days) ---\n\n", staleDays)
		for _, st := range stale {
			daysAgo := int(now.Sub(st.LastSeen).Hours() / 24)
			fmt.Fprintf(w, "  %s/%s — last item %d days ago\n", st.Source, st.Kind, daysAgo)
		}
		fmt.Fprintln(w)
	}
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func formatStatsDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
