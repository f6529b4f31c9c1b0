package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ppiankov/pollmark/internal/inbound"
	"github.com/ppiankov/pollmark/internal/metadata"
	"github.com/ppiankov/pollmark/internal/schedule"
	"github.com/ppiankov/pollmark/internal/source"
	"github.com/spf13/cobra"
)

var (
	markerKind    string
	markerForce   bool
	markerProfile string
)

var markerCmd = &cobra.Command{
	Use:   "marker",
	Short: "Inspect or repair the persisted high-water markers",
}

var markerGetCmd = &cobra.Command{
	Use:   "get [source]",
	Short: "Print the marker of every source, or of one source by name",
	Args:  cobra.MaximumNArgs(1),
	RunE:  markerGetAction,
}

var markerSetCmd = &cobra.Command{
	Use:   "set <source> <id>",
	Short: "Set the marker of a source",
	Long: "Set the marker of a source. Items with an identifier at or below the marker are never forwarded. " +
		"Moving a marker backwards re-delivers items and requires --force.",
	Args: cobra.ExactArgs(2),
	RunE: markerSetAction,
}

func init() {
	markerCmd.PersistentFlags().StringVar(&markerKind, "kind", "", "source kind when several sources share a name")
	markerCmd.PersistentFlags().StringVar(&markerProfile, "profile", "", "account id used in marker keys; skips the remote lookup")
	markerSetCmd.Flags().BoolVar(&markerForce, "force", false, "allow moving the marker backwards")
	markerCmd.AddCommand(markerGetCmd)
	markerCmd.AddCommand(markerSetCmd)
}

// fixedProfile answers ProfileID locally so markers can be inspected and
// repaired without reaching the remote.
type fixedProfile struct {
	source.Client
	id string
}

func (f fixedProfile) ProfileID(context.Context) (string, error) {
	return f.id, nil
}

// openMarkerSources builds every configured source without starting it.
// The caller closes the returned app.
func openMarkerSources(cmd *cobra.Command) (*app, context.Context, []*inbound.Source, error) {
	a, ctx, err := openApp(commandContext(cmd))
	if err != nil {
		return nil, ctx, nil, err
	}
	if markerProfile != "" {
		a.client = fixedProfile{Client: a.client, id: markerProfile}
	}

	sched := schedule.NewTaskScheduler(ctx)
	a.closers = append(a.closers, sched.Shutdown)

	sources, err := a.buildSources(ctx, sched)
	if err != nil {
		a.Close()
		if markerProfile == "" {
			return nil, ctx, nil, fmt.Errorf("%w (pass --profile <account id> to work without the remote)", err)
		}
		return nil, ctx, nil, err
	}
	return a, ctx, sources, nil
}

func markerGetAction(cmd *cobra.Command, args []string) error {
	a, ctx, sources, err := openMarkerSources(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		src, err := findSource(sources, args[0], markerKind)
		if err != nil {
			return err
		}
		sources = []*inbound.Source{src}
	}

	for _, src := range sources {
		value, ok, err := a.markers.Get(ctx, src.MetadataKey())
		switch {
		case err != nil:
			return fmt.Errorf("get marker %s: %w", src.MetadataKey(), err)
		case !ok:
			value = "(none)"
		default:
			if _, perr := metadata.ParseMarker(value); perr != nil {
				value += " (malformed)"
			}
		}
		fmt.Printf("%-16s %-16s %s  %s\n", src.Name(), src.Kind(), value, src.MetadataKey())
	}
	return nil
}

func markerSetAction(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id < 0 {
		return fmt.Errorf("marker id %q: must be a non-negative integer", args[1])
	}

	a, ctx, sources, err := openMarkerSources(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := findSource(sources, args[0], markerKind)
	if err != nil {
		return err
	}
	key := src.MetadataKey()

	if markerForce {
		if err := a.markers.Put(ctx, key, metadata.FormatMarker(id)); err != nil {
			return fmt.Errorf("put marker %s: %w", key, err)
		}
		fmt.Printf("Marker %s set to %d.\n", key, id)
		return nil
	}

	advanced, err := metadata.Advance(ctx, a.markers, key, id)
	if err != nil {
		return fmt.Errorf("advance marker %s: %w (use --force to overwrite)", key, err)
	}
	if !advanced {
		current, _ := metadata.Load(ctx, a.markers, key)
		return fmt.Errorf("marker %s is already at %d; use --force to move it back to %d", key, current, id)
	}
	fmt.Printf("Marker %s advanced to %d.\n", key, id)
	return nil
}

func findSource(sources []*inbound.Source, name, kind string) (*inbound.Source, error) {
	var matches []*inbound.Source
	for _, src := range sources {
		if src.Name() != name {
			continue
		}
		if kind != "" && string(src.Kind()) != kind {
			continue
		}
		matches = append(matches, src)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no configured source named %q", name)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("several sources are named %q; pick one with --kind", name)
	}
}
