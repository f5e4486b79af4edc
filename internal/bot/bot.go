// Package bot is the chat front end: it rate-limits and acknowledges inbound
// events, serialises them per conversation, routes commands, and hands
// workflow input to the wizard state machine.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/wizard"
)

// Wallets provisions and looks up custodial wallets.
type Wallets interface {
	EnsureUser(ctx context.Context, userID, handle string) (common.Address, error)
	Address(ctx context.Context, userID string) (common.Address, error)
}

// RefCache hands out short tokens for market snapshots.
type RefCache interface {
	Put(ref domain.MarketRef) string
}

// Deps are the collaborators of a Bot. Limiter may be nil.
type Deps struct {
	Messenger domain.Messenger
	Sessions  *session.Store
	Wizard    *wizard.Machine
	Gate      domain.EpochGate
	Chain     domain.ChainReader
	Wallets   Wallets
	Markets   domain.MarketStore
	Refs      RefCache
	Limiter   domain.RateLimiter
}

// Config tunes a Bot.
type Config struct {
	Dispatch           DispatcherConfig
	AckTimeout         time.Duration
	ProvisionTimeout   time.Duration
	RateLimitPerMinute int
	ListLimit          int
}

// Bot routes chat events.
type Bot struct {
	Deps
	cfg        Config
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	detached sync.WaitGroup
}

// New creates a Bot.
func New(deps Deps, cfg Config, logger *slog.Logger) *Bot {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = time.Minute
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 10
	}
	b := &Bot{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "bot")),
		now:    time.Now,
	}
	b.dispatcher = NewDispatcher(cfg.Dispatch, DispatchHooks{
		Handle:  b.handle,
		Timeout: b.onTimeout,
		Panic:   b.onPanic,
	}, logger)
	return b
}

// Run processes queued events until ctx is done, then waits for queued and
// detached work.
func (b *Bot) Run(ctx context.Context) error {
	err := b.dispatcher.Run(ctx)
	b.detached.Wait()
	return err
}

// OnEvent is the transport callback. It applies the per-user rate limit,
// acknowledges buttons, and queues the event on its conversation.
func (b *Bot) OnEvent(ctx context.Context, ev domain.Event) {
	if !b.allow(ctx, ev) {
		if ev.Kind == domain.EventButton {
			b.ack(ctx, ev, msgSlowDown)
		}
		return
	}
	if ev.Kind == domain.EventButton {
		b.ack(ctx, ev, "")
	}

	if err := b.dispatcher.Enqueue(ev); err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			b.send(ctx, ev.ChatID, msgBusy, nil)
		}
		b.logger.WarnContext(ctx, "event dropped",
			slog.String("chat_id", ev.ChatID),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bot) allow(ctx context.Context, ev domain.Event) bool {
	if b.Limiter == nil || b.cfg.RateLimitPerMinute <= 0 {
		return true
	}
	ok, err := b.Limiter.Allow(ctx, "user:"+ev.UserID, b.cfg.RateLimitPerMinute, time.Minute)
	if err != nil {
		b.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return true
	}
	if !ok {
		b.logger.DebugContext(ctx, "event rate limited", slog.String("user_id", ev.UserID))
	}
	return ok
}

func (b *Bot) ack(ctx context.Context, ev domain.Event, text string) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.AckTimeout)
	defer cancel()
	if err := b.Messenger.Ack(ctx, ev, text); err != nil {
		b.logger.DebugContext(ctx, "ack failed",
			slog.String("chat_id", ev.ChatID),
			slog.String("error", err.Error()),
		)
	}
}

// handle runs on the conversation worker with the session lock held for the
// whole event.
func (b *Bot) handle(ctx context.Context, ev domain.Event) {
	unlock, err := b.Sessions.Lock(ctx, ev.ChatID)
	if err != nil {
		b.logger.WarnContext(ctx, "conversation lock failed",
			slog.String("chat_id", ev.ChatID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	if ev.Kind == domain.EventText {
		if cmd, args, ok := parseCommand(ev.Text); ok {
			b.command(ctx, ev, cmd, args)
			return
		}
	}
	if b.Wizard.Handle(ctx, ev) {
		return
	}
	switch ev.Kind {
	case domain.EventButton:
		b.send(ctx, ev.ChatID, msgStaleButton, nil)
	default:
		b.send(ctx, ev.ChatID, msgHint, nil)
	}
}

func (b *Bot) onTimeout(ctx context.Context, ev domain.Event) {
	b.send(ctx, ev.ChatID, msgTimeout, nil)
}

func (b *Bot) onPanic(ctx context.Context, ev domain.Event, _ any) {
	b.Sessions.Delete(ev.ChatID)
	b.send(ctx, ev.ChatID, msgCrashed, nil)
}

func (b *Bot) send(ctx context.Context, chatID, text string, kb domain.Keyboard) {
	if _, err := b.Messenger.Send(ctx, chatID, text, kb); err != nil {
		b.logger.WarnContext(ctx, "send failed",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

// parseCommand splits "/name@bot args" into its lowercase name and args.
func parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args), true
}
