// Package rpc bounds and fails over outbound blockchain calls. The Throttler
// caps the number of calls in flight; the Executor retries rate-limited calls
// against the next upstream endpoint.
package rpc

import (
	"context"
	"sync"
)

// DefaultMaxInflight is the default number of calls allowed in flight.
const DefaultMaxInflight = 3

// Task is a unit of outbound work.
type Task func() error

// Throttler runs submitted tasks with at most limit of them executing at once.
// Tasks start in strict submission order; they may complete in any order.
// A submitted task always runs eventually, there is no cancellation of queued
// tasks.
type Throttler struct {
	limit int

	mu      sync.Mutex
	queue   []*job
	running int
}

type job struct {
	task Task
	done chan error
}

// NewThrottler creates a Throttler with the given concurrency limit. A limit
// below one falls back to DefaultMaxInflight.
func NewThrottler(limit int) *Throttler {
	if limit < 1 {
		limit = DefaultMaxInflight
	}
	return &Throttler{limit: limit}
}

// Submit enqueues task and returns a future that receives its result exactly
// once. Submit never blocks.
func (t *Throttler) Submit(task Task) <-chan error {
	j := &job{task: task, done: make(chan error, 1)}

	t.mu.Lock()
	t.queue = append(t.queue, j)
	t.mu.Unlock()

	t.dispatch()
	return j.done
}

// Do submits task and waits for its result. If ctx ends first Do returns
// ctx.Err(); the task still runs to completion in the background.
func (t *Throttler) Do(ctx context.Context, task Task) error {
	done := t.Submit(task)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of tasks currently executing.
func (t *Throttler) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Pending returns the number of queued tasks not yet started.
func (t *Throttler) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// dispatch starts queued tasks while capacity is available.
func (t *Throttler) dispatch() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.running < t.limit && len(t.queue) > 0 {
		j := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		t.running++
		go t.run(j)
	}
}

func (t *Throttler) run(j *job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r}
			}
		}()
		err = j.task()
	}()

	t.mu.Lock()
	t.running--
	t.mu.Unlock()

	j.done <- err
	t.dispatch()
}

// PanicError reports a task that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "rpc: task panicked"
}
