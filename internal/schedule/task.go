package schedule

import (
	"context"
	"sync"
	"time"
)

// Func runs once per tick. It returns the delay before the next tick, or
// false to end the task.
type Func func(ctx context.Context, now time.Time) (time.Duration, bool)

// Task is a cancellable repeating task.
type Task struct {
	cancel   context.CancelFunc
	finished chan struct{}
	once     sync.Once
}

// Start schedules fn to run after initial and then after each delay fn
// returns. The task ends when ctx is done, Cancel is called, or fn returns
// false.
func Start(ctx context.Context, clock Clock, initial time.Duration, fn Func) *Task {
	if clock == nil {
		clock = RealClock{}
	}
	runCtx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, finished: make(chan struct{})}
	go t.run(runCtx, clock, initial, fn)
	return t
}

func (t *Task) run(ctx context.Context, clock Clock, delay time.Duration, fn Func) {
	defer close(t.finished)
	defer t.cancel()

	for {
		if delay < 0 {
			delay = 0
		}
		timer := clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
		if ctx.Err() != nil {
			return
		}
		next, ok := fn(ctx, clock.Now())
		if !ok {
			return
		}
		delay = next
	}
}

// Cancel stops the task and waits for an in-progress tick to finish. It must
// not be called from inside the task's own Func.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.finished
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.finished
}
