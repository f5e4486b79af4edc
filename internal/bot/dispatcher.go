package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// ErrDispatcherStopped is returned by Enqueue after Run has returned.
var ErrDispatcherStopped = errors.New("bot: dispatcher stopped")

// DispatcherConfig tunes the per-conversation workers.
type DispatcherConfig struct {
	QueueSize      int           // pending events per conversation
	HandlerTimeout time.Duration // user-visible deadline for one event
	WorkLimit      time.Duration // hard cap on the handler context
	IdleTimeout    time.Duration // idle workers exit after this
}

func (c *DispatcherConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.WorkLimit <= c.HandlerTimeout {
		c.WorkLimit = 5 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
}

// DispatchHooks are called by the workers. Any hook may be nil.
type DispatchHooks struct {
	Handle  domain.EventHandler
	Timeout func(ctx context.Context, ev domain.Event)
	Panic   func(ctx context.Context, ev domain.Event, recovered any)
}

// Dispatcher runs one FIFO worker per conversation. Events for one
// conversation are handled strictly in arrival order; different
// conversations run concurrently.
type Dispatcher struct {
	cfg    DispatcherConfig
	hooks  DispatchHooks
	logger *slog.Logger

	// ready is closed by Run once base is bound. Workers wait on it so no
	// handler runs under a context shutdown cannot cancel.
	ready chan struct{}

	mu      sync.Mutex
	base    context.Context
	running bool
	stopped bool
	workers map[string]*worker
	wg      sync.WaitGroup
}

type worker struct {
	ch chan domain.Event
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig, hooks DispatchHooks, logger *slog.Logger) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		cfg:     cfg,
		hooks:   hooks,
		logger:  logger.With(slog.String("component", "dispatcher")),
		ready:   make(chan struct{}),
		workers: make(map[string]*worker),
	}
}

// Enqueue queues ev on its conversation's worker without blocking.
func (d *Dispatcher) Enqueue(ev domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	w, ok := d.workers[ev.ChatID]
	if !ok {
		w = &worker{ch: make(chan domain.Event, d.cfg.QueueSize)}
		d.workers[ev.ChatID] = w
		d.wg.Add(1)
		go d.loop(ev.ChatID, w)
	}

	select {
	case w.ch <- ev:
		return nil
	default:
		d.logger.Warn("conversation queue full", slog.String("chat_id", ev.ChatID))
		return fmt.Errorf("bot: enqueue %s: %w", ev.ChatID, domain.ErrQueueFull)
	}
}

// Run binds handler contexts to ctx and blocks until ctx is done, then stops
// accepting events and waits for the workers to drain. Events queued before
// Run are held until it starts.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("bot: dispatcher already running")
	}
	d.running = true
	d.base = ctx
	close(d.ready)
	d.mu.Unlock()

	<-ctx.Done()

	d.mu.Lock()
	d.stopped = true
	for key, w := range d.workers {
		close(w.ch)
		delete(d.workers, key)
	}
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

// Workers returns the number of live conversation workers.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

func (d *Dispatcher) loop(key string, w *worker) {
	defer d.wg.Done()

	idle := time.NewTimer(d.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case ev, ok := <-w.ch:
			if !ok {
				return
			}
			d.process(ev)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.cfg.IdleTimeout)
		case <-idle.C:
			// Enqueue sends under d.mu, so an empty channel observed here
			// stays empty once the worker is unregistered.
			d.mu.Lock()
			if len(w.ch) == 0 && d.workers[key] == w {
				delete(d.workers, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.cfg.IdleTimeout)
		}
	}
}

// process runs one event. When the handler overruns HandlerTimeout the
// Timeout hook fires, and the worker still waits for the handler so order
// is preserved.
func (d *Dispatcher) process(ev domain.Event) {
	<-d.ready
	d.mu.Lock()
	base := d.base
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, d.cfg.WorkLimit)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.safeHandle(ctx, ev)
	}()

	timer := time.NewTimer(d.cfg.HandlerTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	d.logger.WarnContext(ctx, "handler exceeded timeout",
		slog.String("chat_id", ev.ChatID),
		slog.Duration("timeout", d.cfg.HandlerTimeout),
	)
	if d.hooks.Timeout != nil {
		d.hooks.Timeout(base, ev)
	}
	<-done
}

func (d *Dispatcher) safeHandle(ctx context.Context, ev domain.Event) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		d.logger.ErrorContext(ctx, "handler panic",
			slog.String("chat_id", ev.ChatID),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		if d.hooks.Panic != nil {
			d.hooks.Panic(context.WithoutCancel(ctx), ev, r)
		}
	}()
	if d.hooks.Handle != nil {
		d.hooks.Handle(ctx, ev)
	}
}
