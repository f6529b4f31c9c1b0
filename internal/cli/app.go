package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/ppiankov/pollmark/internal/config"
	"github.com/ppiankov/pollmark/internal/inbound"
	"github.com/ppiankov/pollmark/internal/logging"
	"github.com/ppiankov/pollmark/internal/metadata"
	"github.com/ppiankov/pollmark/internal/privacy"
	"github.com/ppiankov/pollmark/internal/schedule"
	"github.com/ppiankov/pollmark/internal/source"
	"github.com/ppiankov/pollmark/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds what every polling command needs: config, logger, archive,
// marker store and remote client.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	db      *store.Store
	markers metadata.Store
	client  source.Client
	redact  *privacy.Redactor

	closers []func()
}

// openApp loads the config and opens every backend it names. The returned
// context carries the logger.
func openApp(ctx context.Context) (*app, context.Context, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, ctx, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New("pollmark", Version, logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, ctx, err
	}
	ctx = logger.WithContext(ctx)

	a := &app{cfg: cfg, logger: logger}

	a.redact, err = privacy.New(cfg.Storage.Redact)
	if err != nil {
		return nil, ctx, fmt.Errorf("storage.redact: %w", err)
	}

	a.db, err = store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, ctx, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.db.Close() })

	a.markers, err = openMarkerStore(ctx, cfg, a.db)
	if err != nil {
		a.Close()
		return nil, ctx, err
	}
	if pg, ok := a.markers.(*metadata.PostgresStore); ok {
		a.closers = append(a.closers, pg.Close)
	}

	a.client, err = newClient(cfg.Client)
	if err != nil {
		a.Close()
		return nil, ctx, err
	}

	return a, ctx, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openMarkerStore(ctx context.Context, cfg *config.Config, db *store.Store) (metadata.Store, error) {
	switch cfg.Metadata.Backend {
	case config.BackendPostgres:
		pg, err := metadata.NewPostgres(ctx, cfg.Metadata.Postgres.Options())
		if err != nil {
			return nil, fmt.Errorf("open postgres marker store: %w", err)
		}
		return pg, nil
	case config.BackendMemory:
		zerolog.Ctx(ctx).Warn().Msg("memory marker backend: every restart forwards the current timeline again")
		return metadata.NewMemory(), nil
	default:
		return db, nil
	}
}

func newClient(cfg config.ClientConfig) (source.Client, error) {
	switch cfg.Type {
	case config.ClientFeed:
		c, err := source.NewFeed(cfg.FeedURL, cfg.Account, cfg.Timeout.Duration)
		if err != nil {
			return nil, fmt.Errorf("create feed client: %w", err)
		}
		return c, nil
	default:
		c, err := source.NewAPI(cfg.BaseURL, cfg.Token, cfg.Timeout.Duration)
		if err != nil {
			return nil, fmt.Errorf("create api client: %w", err)
		}
		return c, nil
	}
}

// trigger paces one source. Rate-limit triggers read the budget of the kind's
// own endpoint so sources polling different endpoints do not share one budget.
func (a *app) trigger(kind inbound.Kind) schedule.Trigger {
	sc := a.cfg.Schedule
	if sc.Mode == config.ScheduleFixed {
		return schedule.NewPeriodic(sc.Interval.Duration)
	}
	limiter := source.EndpointLimiter{Client: a.client, Endpoint: kind.Endpoint()}
	return schedule.NewRateLimit(limiter, sc.Interval.Duration, sc.MinInterval.Duration)
}

// buildSources creates and initializes one inbound source per configured entry.
func (a *app) buildSources(ctx context.Context, sched schedule.Scheduler) ([]*inbound.Source, error) {
	sources := make([]*inbound.Source, 0, len(a.cfg.Sources))
	for _, sc := range a.cfg.Sources {
		kind, err := inbound.ParseKind(sc.Kind)
		if err != nil {
			return nil, err
		}
		src, err := inbound.New(inbound.Options{
			Kind:        kind,
			Name:        sc.Name,
			Client:      a.client,
			Store:       a.markers,
			Scheduler:   sched,
			Trigger:     a.trigger(kind),
			ShouldTrack: sc.Track,
		})
		if err != nil {
			return nil, err
		}
		if err := src.Init(ctx); err != nil {
			return nil, fmt.Errorf("init source %s/%s: %w", sc.Kind, sc.Name, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
