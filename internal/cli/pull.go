package cli

import (
	"fmt"

	"github.com/ppiankov/pollmark/internal/schedule"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Run one poll cycle for every configured source and archive the results",
	RunE:  pullAction,
}

func pullAction(cmd *cobra.Command, _ []string) error {
	a, ctx, err := openApp(commandContext(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	sched := schedule.NewTaskScheduler(ctx)
	defer sched.Shutdown()

	sources, err := a.buildSources(ctx, sched)
	if err != nil {
		return err
	}

	totalArchived := 0
	polled := 0
	for _, src := range sources {
		_, pollErr := src.Poll(ctx)
		if pollErr != nil {
			fmt.Printf("warning: %s/%s: %v\n", src.Kind(), src.Name(), pollErr)
		} else {
			polled++
		}

		// Drain even after a failed poll: items forwarded before the error are queued.
		n, err := a.drain(ctx, src)
		if err != nil {
			return err
		}
		totalArchived += n
	}

	pruned, err := a.db.PruneOld(ctx, a.cfg.Storage.RetainDays)
	if err != nil {
		return fmt.Errorf("prune old: %w", err)
	}

	fmt.Printf("Pulled %d items from %d sources", totalArchived, polled)
	if pruned > 0 {
		fmt.Printf(" (%d old items pruned)", pruned)
	}
	fmt.Println()

	return nil
}
