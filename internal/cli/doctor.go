package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ppiankov/pollmark/internal/config"
	"github.com/ppiankov/pollmark/internal/metadata"
	"github.com/ppiankov/pollmark/internal/source"
	"github.com/ppiankov/pollmark/internal/store"
	"github.com/spf13/cobra"
)

var doctorOffline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage, and remote access",
	RunE:  doctorAction,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip checks that contact the remote service")
}

const doctorRemoteTimeout = 10 * time.Second

func doctorAction(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%s client, %d sources, %s markers)",
		cfg.Client.Type, len(cfg.Sources), cfg.Metadata.Backend)

	// Database
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		return fmt.Errorf("some checks failed")
	}
	defer func() { _ = db.Close() }()
	if version, err := db.SchemaVersion(ctx); err != nil {
		printCheck(false, "database %s: %v", cfg.Storage.Path, err)
		ok = false
	} else {
		printCheck(true, "database %s (schema v%d)", cfg.Storage.Path, version)
	}

	// Marker backend
	markers, err := openMarkerStore(ctx, cfg, db)
	if err != nil {
		printCheck(false, "marker store: %v", err)
		ok = false
	} else {
		if pg, isPG := markers.(*metadata.PostgresStore); isPG {
			defer pg.Close()
		}
		printCheck(true, "marker store (%s)", cfg.Metadata.Backend)
		if cfg.Metadata.Backend == config.BackendMemory {
			printInfo("memory markers are lost on restart; the whole timeline is forwarded again")
		}
	}

	// Persisted markers
	if lister, canList := markers.(metadata.Lister); canList && cfg.Metadata.Backend != config.BackendMemory {
		if !checkMarkers(ctx, lister) {
			ok = false
		}
	}

	// Remote
	if !doctorOffline {
		if !checkRemote(ctx, cfg) {
			ok = false
		}
	}

	checkArchiveHealth(ctx, db)

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

// checkMarkers reports every stored marker that does not parse. Sources
// fail on such a marker instead of forwarding.
func checkMarkers(ctx context.Context, lister metadata.Lister) bool {
	list, err := lister.Entries(ctx)
	if err != nil {
		printCheck(false, "markers: %v", err)
		return false
	}
	ok := true
	for _, m := range list {
		if _, err := metadata.ParseMarker(m.Value); err != nil {
			printCheck(false, "marker %s: %q is not an integer (repair with 'pollmark marker set --force')", m.Key, m.Value)
			ok = false
		}
	}
	if ok {
		printCheck(true, "%d markers", len(list))
	}
	return ok
}

func checkRemote(ctx context.Context, cfg *config.Config) bool {
	client, err := newClient(cfg.Client)
	if err != nil {
		printCheck(false, "client: %v", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, doctorRemoteTimeout)
	defer cancel()

	profileID, err := client.ProfileID(ctx)
	if err != nil {
		printCheck(false, "remote account: %v", err)
		return false
	}
	printCheck(true, "remote account %s", profileID)

	if status, err := client.RateLimitStatus(ctx, source.EndpointProfile); err == nil && status.Known {
		printInfo("rate limit (profile lookup): %d of %d requests left, window resets %s",
			status.Remaining, status.Limit, humanize.Time(status.Reset))
	}
	return true
}

// checkArchiveHealth prints info-level notes about quiet sources.
func checkArchiveHealth(ctx context.Context, db *store.Store) {
	stats, err := db.GetSourceStats(ctx, time.Now().AddDate(0, 0, -30))
	if err != nil || len(stats) == 0 {
		return
	}

	staleThreshold := time.Now().AddDate(0, 0, -staleDays)
	fmt.Println()
	for _, st := range stats {
		if st.LastSeen.Before(staleThreshold) {
			printInfo("quiet: %s/%s — last item %s", st.Source, st.Kind, humanize.Time(st.LastSeen))
		}
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
