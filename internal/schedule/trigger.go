package schedule

import (
	"context"
	"time"

	"github.com/ppiankov/pollmark/internal/source"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultMinInterval = 5 * time.Second
)

// Execution describes the previous run of a task. All fields are zero before
// the first run.
type Execution struct {
	Scheduled time.Time
	Started   time.Time
	Completed time.Time
}

// First reports whether the task has not run yet.
func (e Execution) First() bool {
	return e.Completed.IsZero()
}

// Trigger decides when a task runs next. A zero time ends the schedule.
type Trigger interface {
	Next(ctx context.Context, last Execution) time.Time
}

// PeriodicTrigger runs a task with a fixed delay between the end of one run
// and the start of the next.
type PeriodicTrigger struct {
	Interval     time.Duration
	InitialDelay time.Duration

	now func() time.Time
}

// NewPeriodic creates a fixed-delay trigger that fires immediately first.
func NewPeriodic(interval time.Duration) *PeriodicTrigger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &PeriodicTrigger{Interval: interval, now: time.Now}
}

func (p *PeriodicTrigger) Next(_ context.Context, last Execution) time.Time {
	if last.First() {
		return p.clock().Add(p.InitialDelay)
	}
	return last.Completed.Add(p.Interval)
}

func (p *PeriodicTrigger) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

// RateLimiter reports the remote request budget.
type RateLimiter interface {
	RateLimitStatus(ctx context.Context) (source.RateLimitStatus, error)
}

// RateLimitTrigger spreads the remaining request budget evenly over the time
// left in the current rate-limit window. With no budget left it waits for the
// window to reset. When the budget is unknown it falls back to a fixed delay.
type RateLimitTrigger struct {
	Limiter     RateLimiter
	Fallback    time.Duration
	MinInterval time.Duration

	now func() time.Time
}

// NewRateLimit creates a rate-limit aware trigger over limiter.
func NewRateLimit(limiter RateLimiter, fallback, minInterval time.Duration) *RateLimitTrigger {
	if fallback <= 0 {
		fallback = DefaultInterval
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &RateLimitTrigger{
		Limiter:     limiter,
		Fallback:    fallback,
		MinInterval: minInterval,
		now:         time.Now,
	}
}

func (r *RateLimitTrigger) Next(ctx context.Context, last Execution) time.Time {
	now := r.clock()
	if last.First() {
		return now
	}
	earliest := last.Completed.Add(r.MinInterval)

	status, err := r.Limiter.RateLimitStatus(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("rate limit status unavailable, using fallback interval")
		return last.Completed.Add(r.Fallback)
	}
	if !status.Known {
		return last.Completed.Add(r.Fallback)
	}

	var next time.Time
	switch untilReset := status.Reset.Sub(now); {
	case untilReset <= 0:
		next = earliest
	case status.Remaining <= 0:
		next = status.Reset
	default:
		next = now.Add(untilReset / time.Duration(status.Remaining))
	}

	if next.Before(earliest) {
		next = earliest
	}
	return next
}

func (r *RateLimitTrigger) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}
