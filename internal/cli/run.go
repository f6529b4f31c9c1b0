package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/pollmark/internal/inbound"
	"github.com/ppiankov/pollmark/internal/schedule"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runDrainEvery string
	runPruneEvery string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll all sources and archive new items until interrupted",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().StringVar(&runDrainEvery, "drain-every", "1s", "how often queued items are archived")
	runCmd.Flags().StringVar(&runPruneEvery, "prune-every", "1h", "how often items past retain_days are deleted")
}

func runAction(cmd *cobra.Command, _ []string) error {
	drainEvery, err := parsePositiveDuration("--drain-every", runDrainEvery)
	if err != nil {
		return err
	}
	pruneEvery, err := parsePositiveDuration("--prune-every", runPruneEvery)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, ctx, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return runSources(ctx, a, drainEvery, pruneEvery)
}

// runSources starts every source and archives what they deliver until ctx is
// cancelled or archiving fails. Items still queued at shutdown are archived
// before it returns.
func runSources(ctx context.Context, a *app, drainEvery, pruneEvery time.Duration) error {
	logger := zerolog.Ctx(ctx)

	sched := schedule.NewTaskScheduler(ctx)
	defer sched.Shutdown()

	sources, err := a.buildSources(ctx, sched)
	if err != nil {
		return err
	}

	var started []*inbound.Source
	defer func() {
		for _, src := range started {
			if err := src.Stop(); err != nil {
				logger.Warn().Err(err).Str("source", src.Name()).Msg("stop source")
			}
		}
	}()
	for _, src := range sources {
		if err := src.Start(); err != nil {
			return fmt.Errorf("start source %s: %w", src.Name(), err)
		}
		started = append(started, src)
	}
	logger.Info().Int("sources", len(sources)).Msg("polling")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return consume(gctx, a, sources, drainEvery)
	})
	group.Go(func() error {
		return pruneLoop(gctx, a, pruneEvery)
	})
	runErr := group.Wait()

	for _, src := range started {
		if err := src.Stop(); err != nil {
			logger.Warn().Err(err).Str("source", src.Name()).Msg("stop source")
		}
	}
	started = nil

	// Markers of queued items have advanced already; archive them even though ctx is done.
	final := context.WithoutCancel(ctx)
	for _, src := range sources {
		n, err := a.drain(final, src)
		if err != nil {
			runErr = errors.Join(runErr, err)
			continue
		}
		if n > 0 {
			logger.Info().Str("source", src.Name()).Int("items", n).Msg("archived queued items at shutdown")
		}
	}

	logger.Info().Msg("stopped")
	return runErr
}

func consume(ctx context.Context, a *app, sources []*inbound.Source, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for _, src := range sources {
			n, err := a.drain(ctx, src)
			if err != nil {
				return err
			}
			if n > 0 {
				zerolog.Ctx(ctx).Info().Str("source", src.Name()).Str("kind", string(src.Kind())).Int("items", n).Msg("archived")
			}
		}
	}
}

func pruneLoop(ctx context.Context, a *app, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := a.db.PruneOld(ctx, a.cfg.Storage.RetainDays)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("prune archive")
			continue
		}
		if n > 0 {
			zerolog.Ctx(ctx).Info().Int64("items", n).Msg("pruned archive")
		}
	}
}

func parsePositiveDuration(flag, value string) (time.Duration, error) {
	d, err := parseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", flag, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", flag)
	}
	return d, nil
}
