package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestThrottlerNeverExceedsLimit(t *testing.T) {
	th := NewThrottler(3)

	var mu sync.Mutex
	inflight, peak := 0, 0

	const n = 20
	futures := make([]<-chan error, 0, n)
	for i := 0; i < n; i++ {
		futures = append(futures, th.Submit(func() error {
			mu.Lock()
			inflight++
			if inflight > peak {
				peak = inflight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inflight--
			mu.Unlock()
			return nil
		}))
	}

	for i, f := range futures {
		select {
		case err := <-f:
			if err != nil {
				t.Fatalf("task %d: unexpected error %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("task %d did not complete", i)
		}
	}

	if peak > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", peak)
	}
	if peak == 0 {
		t.Fatal("no task ran")
	}
}

func TestThrottlerStartsInSubmissionOrder(t *testing.T) {
	th := NewThrottler(3)

	const n = 8
	started := make(chan int, n)
	release := make([]chan struct{}, n)
	futures := make([]<-chan error, n)
	for i := 0; i < n; i++ {
		release[i] = make(chan struct{})
		i := i
		futures[i] = th.Submit(func() error {
			started <- i
			<-release[i]
			return nil
		})
	}

	// The first three run immediately, in some order.
	first := map[int]bool{}
	for i := 0; i < 3; i++ {
		first[waitStart(t, started)] = true
	}
	for i := 0; i < 3; i++ {
		if !first[i] {
			t.Fatalf("task %d should be among the first three started, got %v", i, first)
		}
	}
	if got := th.Pending(); got != n-3 {
		t.Fatalf("Pending() = %d, want %d", got, n-3)
	}

	// Each completion admits exactly the next queued task, regardless of
	// which running task finished.
	for next := 3; next < n; next++ {
		close(release[next-2])
		if got := waitStart(t, started); got != next {
			t.Fatalf("started task %d, want %d", got, next)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case <-release[i]:
		default:
			close(release[i])
		}
	}
	for _, f := range futures {
		<-f
	}
	if th.Running() != 0 {
		t.Fatalf("Running() = %d after drain", th.Running())
	}
}

func TestThrottlerPropagatesErrorAndPanic(t *testing.T) {
	th := NewThrottler(1)
	boom := errors.New("boom")

	if err := th.Do(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want boom", err)
	}

	err := th.Do(context.Background(), func() error { panic("bad") })
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Do() error = %v, want *PanicError", err)
	}

	// A failed task must still free its slot.
	if err := th.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Do() after failures error = %v", err)
	}
}

func TestThrottlerDoHonoursContext(t *testing.T) {
	th := NewThrottler(1)
	block := make(chan struct{})
	ran := make(chan struct{})
	th.Submit(func() error { <-block; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := th.Do(ctx, func() error { close(ran); return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}

	// The queued task still runs once capacity frees up.
	close(block)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued task never ran")
	}
}

func waitStart(t *testing.T, started <-chan int) int {
	t.Helper()
	select {
	case i := <-started:
		return i
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a task to start")
		return -1
	}
}
