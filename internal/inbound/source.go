// Package inbound polls a remote account and forwards each item at most once.
//
// A Source fetches batches on a schedule, drops items whose identifier is not
// above the persisted high-water marker, and queues the rest in creation
// order. Consumers drain the queue with Receive, which never blocks.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/pollmark/internal/metadata"
	"github.com/ppiankov/pollmark/internal/schedule"
	"github.com/ppiankov/pollmark/internal/source"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupportedItem = fmt.Errorf("%w: unsupported item type", ErrInvalidArgument)

	ErrConfiguration = errors.New("configuration error")
	ErrNoScheduler   = fmt.Errorf("%w: no task scheduler available", ErrConfiguration)
	ErrNoClient      = fmt.Errorf("%w: remote client is required", ErrConfiguration)

	ErrState = errors.New("invalid lifecycle transition")
)

// State is a Source lifecycle state.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configure a Source.
type Options struct {
	Kind Kind
	// Name distinguishes sources of the same kind and account in the marker key.
	Name   string
	Client source.Client
	// Store persists the marker. When nil an in-memory store is used and
	// markers do not survive a restart.
	Store     metadata.Store
	Scheduler schedule.Scheduler
	// Trigger decides the polling cadence. Defaults to a rate-limit trigger
	// over the budget of the kind's endpoint.
	Trigger schedule.Trigger
	// ShouldTrack adds a history entry to every received message.
	ShouldTrack bool
}

// Source is a deduplicating poll source for one timeline of one account.
type Source struct {
	kind        Kind
	name        string
	client      source.Client
	scheduler   schedule.Scheduler
	trigger     schedule.Trigger
	shouldTrack bool

	store     metadata.Store
	key       string
	profileID string
	logger    zerolog.Logger

	// markerGuard serializes whole batches so check-and-update pairs never interleave.
	markerGuard sync.Mutex
	markerID    atomic.Int64
	pending     queue

	// initialized is set once store, key and logger are final; the polling
	// path reads it instead of taking mu, which Stop holds while it waits.
	initialized atomic.Bool

	mu    sync.Mutex
	state State
	task  *schedule.Task
}

// New creates a Source in the Created state.
func New(opts Options) (*Source, error) {
	if _, err := ParseKind(string(opts.Kind)); err != nil {
		return nil, err
	}
	s := &Source{
		kind:        opts.Kind,
		name:        opts.Name,
		client:      opts.Client,
		store:       opts.Store,
		scheduler:   opts.Scheduler,
		trigger:     opts.Trigger,
		shouldTrack: opts.ShouldTrack,
		logger:      zerolog.Nop(),
	}
	s.markerID.Store(-1)
	return s, nil
}

// Init resolves the marker store and computes the marker key. It fails when
// no scheduler or client was configured.
func (s *Source) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("%w: init from %s", ErrState, s.state)
	}
	if s.scheduler == nil {
		return ErrNoScheduler
	}
	if s.client == nil {
		return ErrNoClient
	}

	s.logger = zerolog.Ctx(ctx).With().
		Str("source", s.name).
		Str("kind", string(s.kind)).
		Logger()

	if s.store == nil {
		s.store = metadata.NewMemory()
		s.logger.Warn().Msg("no marker store configured, markers will not survive a restart")
	}

	profileID, err := s.client.ProfileID(ctx)
	if err != nil {
		return fmt.Errorf("resolve profile id: %w", err)
	}
	if s.name == "" {
		s.logger.Warn().Msg("source has no name, marker key might not be unique")
	}
	s.profileID = profileID
	s.key = metadata.Key(s.kind.ComponentType(), s.name, profileID)

	if s.trigger == nil {
		s.trigger = schedule.NewRateLimit(source.EndpointLimiter{Client: s.client, Endpoint: s.kind.Endpoint()}, 0, 0)
	}

	s.state = StateInitialized
	s.initialized.Store(true)
	s.logger.Debug().Str("key", s.key).Msg("source initialized")
	return nil
}

// Start schedules the polling task. A stopped source can be started again.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized && s.state != StateStopped {
		return fmt.Errorf("%w: start from %s", ErrState, s.state)
	}

	task, err := s.scheduler.Schedule(func(ctx context.Context) error {
		_, err := s.Poll(ctx)
		return err
	}, s.trigger)
	if err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}

	s.task = task
	s.state = StateStarted
	s.logger.Info().Str("key", s.key).Msg("source started")
	return nil
}

// Stop cancels the polling task, interrupting a poll in progress, and waits
// for it to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		return fmt.Errorf("%w: stop from %s", ErrState, s.state)
	}

	s.task.Cancel(true)
	<-s.task.Done()
	s.task = nil
	s.state = StateStopped
	s.logger.Info().Msg("source stopped")
	return nil
}

// Poll runs one fetch cycle: it asks the client for items newer than the
// persisted marker and forwards them. It returns the number of items queued.
func (s *Source) Poll(ctx context.Context) (int, error) {
	if !s.initialized.Load() {
		return 0, fmt.Errorf("%w: poll before init", ErrState)
	}

	sinceID, err := metadata.Load(ctx, s.store, s.key)
	if err != nil {
		return 0, err
	}

	items, err := s.kind.fetch(ctx, s.client, sinceID)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", s.kind, err)
	}

	n, err := s.Forward(ctx, items)
	if err != nil {
		return n, err
	}
	s.logger.Debug().
		Int64("since_id", sinceID).
		Int("fetched", len(items)).
		Int("forwarded", n).
		Msg("poll complete")
	return n, nil
}

// Forward sorts items by creation time, then id, and queues each one whose identifier
// is above the marker, advancing the marker as it goes. The whole batch is
// processed under one lock. A batch containing an item this source does not
// handle is rejected before anything is forwarded.
func (s *Source) Forward(ctx context.Context, items []source.Item) (int, error) {
	if !s.initialized.Load() {
		return 0, fmt.Errorf("%w: forward before init", ErrState)
	}

	for _, item := range items {
		if item == nil || !s.kind.accepts(item) {
			return 0, fmt.Errorf("%w: %T for %s source", ErrUnsupportedItem, item, s.kind)
		}
	}

	sorted := make([]source.Item, len(items))
	copy(sorted, items)
	// Timestamps have one-second resolution; equal times are ordered by id so
	// a newest-first batch does not drop the older items of the same second.
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].ItemTime(), sorted[j].ItemTime()
		return ti.Before(tj) || (ti.Equal(tj) && sorted[i].ItemID() < sorted[j].ItemID())
	})

	s.markerGuard.Lock()
	defer s.markerGuard.Unlock()

	forwarded := 0
	for _, item := range sorted {
		id := item.ItemID()
		advanced, err := metadata.Advance(ctx, s.store, s.key, id)
		if err != nil {
			return forwarded, fmt.Errorf("advance marker to %d: %w", id, err)
		}
		if !advanced {
			continue
		}
		s.markerID.Store(id)
		s.pending.push(item)
		forwarded++
	}
	return forwarded, nil
}

// Receive returns the oldest queued item without blocking. ok is false when
// nothing is queued.
func (s *Source) Receive() (msg Message, ok bool) {
	item, ok := s.pending.pop()
	if !ok {
		return Message{}, false
	}

	now := time.Now()
	msg = Message{
		Payload: item,
		Headers: Headers{ID: uuid.New(), Timestamp: now},
	}
	if s.shouldTrack {
		msg.Headers.History = []HistoryEntry{{
			Name:      s.name,
			Type:      s.kind.ComponentType(),
			Timestamp: now,
		}}
	}
	return msg, true
}

// MarkerID returns the last identifier this process forwarded, or -1.
func (s *Source) MarkerID() int64 {
	return s.markerID.Load()
}

// HasMarker reports whether this process has forwarded anything.
func (s *Source) HasMarker() bool {
	return s.MarkerID() > -1
}

// MetadataKey returns the marker key. It is empty before Init.
func (s *Source) MetadataKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// ProfileID returns the polled account's identifier. It is empty before Init.
func (s *Source) ProfileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileID
}

// Store returns the marker store in use.
func (s *Source) Store() metadata.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Name returns the configured source name.
func (s *Source) Name() string { return s.name }

// Kind returns the polled timeline.
func (s *Source) Kind() Kind { return s.kind }

// Pending returns the number of queued items.
func (s *Source) Pending() int {
	return s.pending.len()
}

// State returns the lifecycle state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
