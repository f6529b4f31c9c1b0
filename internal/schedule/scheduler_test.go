package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// countTrigger fires immediately until limit runs have completed.
type countTrigger struct {
	limit int
	seen  int
}

func (c *countTrigger) Next(_ context.Context, last Execution) time.Time {
	if !last.First() {
		c.seen++
	}
	if c.seen >= c.limit {
		return time.Time{}
	}
	return time.Now()
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestTaskScheduler_RunsUntilTriggerEnds(t *testing.T) {
	s := NewTaskScheduler(context.Background())
	defer s.Shutdown()

	var calls atomic.Int32
	task, err := s.Schedule(func(context.Context) error {
		calls.Add(1)
		return nil
	}, &countTrigger{limit: 3})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	waitDone(t, task)
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if task.Runs() != 3 {
		t.Errorf("runs = %d, want 3", task.Runs())
	}
}

func TestTaskScheduler_ErrorsDoNotStopSchedule(t *testing.T) {
	s := NewTaskScheduler(context.Background())
	defer s.Shutdown()

	var calls atomic.Int32
	task, _ := s.Schedule(func(context.Context) error {
		calls.Add(1)
		return errors.New("remote unavailable")
	}, &countTrigger{limit: 2})

	waitDone(t, task)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestTaskScheduler_PanicIsRecovered(t *testing.T) {
	s := NewTaskScheduler(context.Background())
	defer s.Shutdown()

	var calls atomic.Int32
	task, _ := s.Schedule(func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("bad payload")
		}
		return nil
	}, &countTrigger{limit: 2})

	waitDone(t, task)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestTask_CancelInterruptsRun(t *testing.T) {
	s := NewTaskScheduler(context.Background())
	defer s.Shutdown()

	started := make(chan struct{})
	interrupted := make(chan struct{})
	task, _ := s.Schedule(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(interrupted)
		return ctx.Err()
	}, NewPeriodic(time.Hour))

	<-started
	task.Cancel(true)

	select {
	case <-interrupted:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not interrupted")
	}
	waitDone(t, task)
}

func TestTask_CancelWithoutInterruptLetsRunFinish(t *testing.T) {
	s := NewTaskScheduler(context.Background())
	defer s.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	var finishedCleanly atomic.Bool
	task, _ := s.Schedule(func(ctx context.Context) error {
		close(started)
		<-release
		finishedCleanly.Store(ctx.Err() == nil)
		return nil
	}, NewPeriodic(time.Millisecond))

	<-started
	task.Cancel(false)
	close(release)
	waitDone(t, task)

	if !finishedCleanly.Load() {
		t.Error("run context was cancelled without interrupt")
	}
	if task.Runs() != 1 {
		t.Errorf("runs = %d, want 1", task.Runs())
	}
}

func TestTaskScheduler_Shutdown(t *testing.T) {
	s := NewTaskScheduler(context.Background())

	started := make(chan struct{})
	task, _ := s.Schedule(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, NewPeriodic(time.Hour))

	<-started
	s.Shutdown()
	waitDone(t, task)

	if _, err := s.Schedule(func(context.Context) error { return nil }, NewPeriodic(time.Hour)); !errors.Is(err, ErrShutdown) {
		t.Errorf("schedule after shutdown err = %v, want ErrShutdown", err)
	}
}

func TestTaskScheduler_RejectsNil(t *testing.T) {
	s := NewTaskScheduler(context.Background())
	defer s.Shutdown()

	if _, err := s.Schedule(nil, NewPeriodic(time.Second)); err == nil {
		t.Error("expected error for nil task")
	}
	if _, err := s.Schedule(func(context.Context) error { return nil }, nil); err == nil {
		t.Error("expected error for nil trigger")
	}
}
