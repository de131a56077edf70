package motor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Task calls fn every period until its context ends. A suspended task
// keeps its goroutine but skips invocations until resumed.
type Task struct {
	name   string
	period time.Duration
	fn     func(ctx context.Context)

	// runMu is held for each invocation so Suspend waits out a running fn.
	runMu   sync.Mutex
	mu      sync.Mutex
	enabled bool
	wake    chan struct{}
	runs    atomic.Uint64
}

func NewTask(name string, period time.Duration, enabled bool, fn func(ctx context.Context)) *Task {
	return &Task{
		name:    name,
		period:  period,
		fn:      fn,
		enabled: enabled,
		wake:    make(chan struct{}, 1),
	}
}

func (t *Task) Name() string { return t.name }

// Runs counts completed invocations.
func (t *Task) Runs() uint64 { return t.runs.Load() }

func (t *Task) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.enabled
}

// Suspend returns once no invocation is in progress. Must not be called
// from the task's own fn.
func (t *Task) Suspend() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.mu.Lock()
	t.enabled = false
	t.mu.Unlock()
}

func (t *Task) Resume() {
	t.mu.Lock()
	t.enabled = true
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Task) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		if t.Suspended() {
			select {
			case <-ctx.Done():
				return nil
			case <-t.wake:
				ticker.Reset(t.period)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.wake:
		case <-ticker.C:
			t.invoke(ctx)
		}
	}
}

func (t *Task) invoke(ctx context.Context) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.Suspended() || ctx.Err() != nil {
		return
	}
	t.fn(ctx)
	t.runs.Add(1)
}
