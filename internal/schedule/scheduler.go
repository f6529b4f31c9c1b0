// Package schedule runs recurring tasks whose cadence is decided by a Trigger.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrShutdown is returned when scheduling on a scheduler that has shut down.
var ErrShutdown = errors.New("scheduler is shut down")

// Func is a unit of scheduled work. Its context is cancelled when the task is
// cancelled with interrupt.
type Func func(ctx context.Context) error

// Scheduler accepts recurring tasks.
type Scheduler interface {
	Schedule(fn Func, trigger Trigger) (*Task, error)
}

// TaskScheduler runs each scheduled task on its own goroutine. Errors returned
// by a task are logged and do not end its schedule.
type TaskScheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewTaskScheduler creates a scheduler. Tasks inherit ctx, including the
// zerolog logger attached to it.
func NewTaskScheduler(ctx context.Context) *TaskScheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &TaskScheduler{ctx: ctx, cancel: cancel}
}

// Schedule starts running fn at the times trigger returns.
func (s *TaskScheduler) Schedule(fn Func, trigger Trigger) (*Task, error) {
	if fn == nil {
		return nil, errors.New("schedule: task is nil")
	}
	if trigger == nil {
		return nil, errors.New("schedule: trigger is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}

	t := newTask(s.ctx, fn, trigger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.loop()
	}()
	return t, nil
}

// Shutdown interrupts every task and waits for them to exit.
func (s *TaskScheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Task is a handle to a scheduled task.
type Task struct {
	fn      Func
	trigger Trigger

	// loopCtx ends the schedule; runCtx additionally interrupts a run in flight.
	loopCtx    context.Context
	stopLoop   context.CancelFunc
	runCtx     context.Context
	stopRun    context.CancelFunc
	done       chan struct{}
	runs       atomic.Int64
	cancelOnce sync.Once
}

func newTask(parent context.Context, fn Func, trigger Trigger) *Task {
	runCtx, stopRun := context.WithCancel(parent)
	loopCtx, stopLoop := context.WithCancel(runCtx)
	return &Task{
		fn:       fn,
		trigger:  trigger,
		loopCtx:  loopCtx,
		stopLoop: stopLoop,
		runCtx:   runCtx,
		stopRun:  stopRun,
		done:     make(chan struct{}),
	}
}

// Cancel ends the schedule. With interrupt, a run in progress has its context
// cancelled; otherwise it is allowed to finish.
func (t *Task) Cancel(interrupt bool) {
	t.cancelOnce.Do(t.stopLoop)
	if interrupt {
		t.stopRun()
	}
}

// Done is closed once the task will not run again.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Runs returns the number of completed runs.
func (t *Task) Runs() int64 {
	return t.runs.Load()
}

func (t *Task) loop() {
	defer close(t.done)
	defer t.stopRun()

	var last Execution
	for t.loopCtx.Err() == nil {
		next := t.trigger.Next(t.loopCtx, last)
		if next.IsZero() {
			return
		}

		if delay := time.Until(next); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-t.loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		started := time.Now()
		t.run()
		last = Execution{Scheduled: next, Started: started, Completed: time.Now()}
		t.runs.Add(1)
	}
}

func (t *Task) run() {
	logger := zerolog.Ctx(t.runCtx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Err(fmt.Errorf("panic: %v", r)).Msg("scheduled task panicked")
		}
	}()

	if err := t.fn(t.runCtx); err != nil {
		if errors.Is(err, context.Canceled) && t.runCtx.Err() != nil {
			logger.Debug().Msg("scheduled task interrupted")
			return
		}
		logger.Error().Err(err).Msg("scheduled task failed")
	}
}
