package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// DefaultMaxAttempts is the default number of attempts per call.
const DefaultMaxAttempts = 2

// Rebinder rebuilds every handle bound to an upstream endpoint. It is invoked
// after the executor rotates to a new endpoint.
type Rebinder interface {
	Rebind(ctx context.Context, endpoint string) error
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Endpoints   []string
	MaxInflight int
	MaxAttempts int
	// BackoffUnit is multiplied by the attempt number before each retry.
	BackoffUnit time.Duration
}

// Executor runs calls through a Throttler and fails over to the next endpoint
// in a fixed circular list when a call is rate limited. Rotation is global:
// every later call from any caller uses the new endpoint.
type Executor struct {
	throttler   *Throttler
	rebinder    Rebinder
	maxAttempts int
	backoffUnit time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger

	mu         sync.RWMutex
	endpoints  []string
	index      int
	generation uint64
}

// NewExecutor creates an Executor. The rebinder is expected to be bound to
// cfg.Endpoints[0] already.
func NewExecutor(cfg ExecutorConfig, rebinder Rebinder, logger *slog.Logger) (*Executor, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("rpc: at least one endpoint is required")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	endpoints := make([]string, len(cfg.Endpoints))
	copy(endpoints, cfg.Endpoints)

	return &Executor{
		throttler:   NewThrottler(cfg.MaxInflight),
		rebinder:    rebinder,
		maxAttempts: cfg.MaxAttempts,
		backoffUnit: cfg.BackoffUnit,
		sleep:       sleepContext,
		logger:      logger.With(slog.String("component", "rpc_executor")),
		endpoints:   endpoints,
	}, nil
}

// Endpoint returns the endpoint currently in use.
func (e *Executor) Endpoint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.endpoints[e.index]
}

// Index returns the position of the current endpoint in the list.
func (e *Executor) Index() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// Throttler exposes the underlying throttler.
func (e *Executor) Throttler() *Throttler {
	return e.throttler
}

// Execute runs task with the default attempt budget.
func (e *Executor) Execute(ctx context.Context, task func(ctx context.Context) error) error {
	return e.ExecuteN(ctx, task, e.maxAttempts)
}

// ExecuteN runs task at most maxAttempts times. Only rate-limit-class
// failures are retried; every other failure, and the last failure once
// attempts are exhausted, is returned unchanged.
func (e *Executor) ExecuteN(ctx context.Context, task func(ctx context.Context) error, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		gen := e.currentGeneration()
		err = e.throttler.Do(ctx, func() error { return task(ctx) })
		if err == nil {
			return nil
		}
		if !domain.IsRateLimited(err) || attempt == maxAttempts {
			return err
		}

		e.logger.WarnContext(ctx, "rate limited, failing over",
			slog.Int("attempt", attempt),
			slog.String("endpoint", e.Endpoint()),
			slog.String("error", err.Error()),
		)
		e.rotate(ctx, gen)

		if sleepErr := e.sleep(ctx, time.Duration(attempt)*e.backoffUnit); sleepErr != nil {
			return err
		}
	}
	return err
}

func (e *Executor) currentGeneration() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// rotate advances to the next endpoint unless another caller already rotated
// since gen was observed, so a burst of failures on one endpoint moves the
// index once.
func (e *Executor) rotate(ctx context.Context, gen uint64) {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	e.index = (e.index + 1) % len(e.endpoints)
	e.generation++
	endpoint := e.endpoints[e.index]
	e.mu.Unlock()

	if e.rebinder == nil {
		return
	}
	if err := e.rebinder.Rebind(ctx, endpoint); err != nil {
		e.logger.ErrorContext(ctx, "rebind after rotation failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.InfoContext(ctx, "rotated rpc endpoint", slog.String("endpoint", endpoint))
}

// Call runs fn through e and returns its value.
func Call[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rpc: backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
