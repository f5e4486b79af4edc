package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

type recordingRebinder struct {
	mu        sync.Mutex
	endpoints []string
	err       error
}

func (r *recordingRebinder) Rebind(_ context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = append(r.endpoints, endpoint)
	return r.err
}

func (r *recordingRebinder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.endpoints...)
}

func newTestExecutor(t *testing.T, endpoints []string, rb Rebinder) (*Executor, *[]time.Duration) {
	t.Helper()
	e, err := NewExecutor(ExecutorConfig{
		Endpoints:   endpoints,
		MaxInflight: 3,
		MaxAttempts: 2,
		BackoffUnit: time.Second,
	}, rb, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func rateLimitErr() error {
	return &domain.ChainError{Kind: domain.ChainRateLimited, Err: errors.New("429 Too Many Requests")}
}

func TestExecutorRotatesOnceOnRateLimit(t *testing.T) {
	rb := &recordingRebinder{}
	e, slept := newTestExecutor(t, []string{"https://a", "https://b", "https://c"}, rb)

	calls := 0
	err := e.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return rateLimitErr()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("task ran %d times, want 2", calls)
	}
	if got := e.Index(); got != 1 {
		t.Fatalf("Index() = %d, want 1", got)
	}
	if got := rb.calls(); len(got) != 1 || got[0] != "https://b" {
		t.Fatalf("rebind calls = %v, want [https://b]", got)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Fatalf("backoff = %v, want [1s]", *slept)
	}
}

func TestExecutorDoesNotRotateOnOtherErrors(t *testing.T) {
	rb := &recordingRebinder{}
	e, slept := newTestExecutor(t, []string{"https://a", "https://b"}, rb)

	reverted := &domain.ChainError{Kind: domain.ChainReverted, Reason: "DeadlineTooSoon", Err: errors.New("execution reverted")}
	calls := 0
	err := e.Execute(context.Background(), func(context.Context) error {
		calls++
		return reverted
	})
	if err != reverted {
		t.Fatalf("Execute() error = %v, want the original error", err)
	}
	if calls != 1 {
		t.Fatalf("task ran %d times, want 1", calls)
	}
	if e.Index() != 0 || len(rb.calls()) != 0 || len(*slept) != 0 {
		t.Fatalf("unexpected failover: index=%d rebinds=%v slept=%v", e.Index(), rb.calls(), *slept)
	}
}

func TestExecutorSurfacesFinalRateLimitVerbatim(t *testing.T) {
	rb := &recordingRebinder{}
	e, _ := newTestExecutor(t, []string{"https://a", "https://b"}, rb)

	var last error
	err := e.ExecuteN(context.Background(), func(context.Context) error {
		last = rateLimitErr()
		return last
	}, 3)
	if err != last {
		t.Fatalf("Execute() error = %v, want the last task error unchanged", err)
	}
	// Three attempts rotate twice: a -> b -> a (circular).
	if got := rb.calls(); len(got) != 2 || got[0] != "https://b" || got[1] != "https://a" {
		t.Fatalf("rebind calls = %v", got)
	}
	if e.Index() != 0 {
		t.Fatalf("Index() = %d, want 0 after wrapping", e.Index())
	}
}

func TestExecutorBackoffGrowsWithAttempt(t *testing.T) {
	e, slept := newTestExecutor(t, []string{"https://a", "https://b", "https://c"}, nil)

	_ = e.ExecuteN(context.Background(), func(context.Context) error {
		return rateLimitErr()
	}, 3)
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept = %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("slept = %v, want %v", *slept, want)
		}
	}
}

func TestExecutorRotationIsShared(t *testing.T) {
	rb := &recordingRebinder{}
	e, _ := newTestExecutor(t, []string{"https://a", "https://b"}, rb)

	// Two callers observe the same generation; only the first rotation counts.
	gen := e.currentGeneration()
	e.rotate(context.Background(), gen)
	e.rotate(context.Background(), gen)
	if e.Index() != 1 {
		t.Fatalf("Index() = %d, want 1", e.Index())
	}
	if e.Endpoint() != "https://b" {
		t.Fatalf("Endpoint() = %q", e.Endpoint())
	}
	if len(rb.calls()) != 1 {
		t.Fatalf("rebind calls = %v, want one", rb.calls())
	}
}

func TestCallReturnsValue(t *testing.T) {
	e, _ := newTestExecutor(t, []string{"https://a"}, nil)
	got, err := Call(context.Background(), e, func(context.Context) (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("Call() = %d, %v", got, err)
	}

	_, err = Call(context.Background(), e, func(context.Context) (int, error) { return 0, io.EOF })
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Call() error = %v, want io.EOF", err)
	}
}

func TestNewExecutorRequiresEndpoints(t *testing.T) {
	if _, err := NewExecutor(ExecutorConfig{}, nil, slog.Default()); err == nil {
		t.Fatal("expected error for empty endpoint list")
	}
}
