// Package wizard drives the per-conversation workflows: the six-step market
// creation wizard with its commit sequence, placing a bet on a listed market,
// and withdrawing collateral. Callers must hold the conversation lock from
// session.Store for the whole handling of an event.
package wizard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
)

// Notification event types sent to the operator.
const (
	EventMarketCreated = "market_created"
	EventCommitFailed  = "commit_failed"
	EventBetPlaced     = "bet_placed"
	EventWithdrawal    = "withdrawal"
)

// Notifier forwards operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RefCache resolves listing tokens to market snapshots.
type RefCache interface {
	Get(token string) (domain.MarketRef, bool)
}

// Deps are the collaborators of a Machine. Images and Notifier may be nil.
type Deps struct {
	Messenger  domain.Messenger
	Sessions   *session.Store
	Gate       domain.EpochGate
	Chain      domain.Chain
	Identities domain.IdentityResolver
	Images     domain.ImageHost
	Markets    domain.MarketStore
	Refs       RefCache
	Locks      domain.LockManager
	Notifier   Notifier
}

// Config tunes a Machine.
type Config struct {
	Tags          []string
	CommitLockTTL time.Duration
}

// Machine is the conversation state machine.
type Machine struct {
	Deps
	tags    []string
	lockTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger

	decMu    sync.Mutex
	decimals *uint8
}

// New creates a Machine.
func New(deps Deps, cfg Config, logger *slog.Logger) *Machine {
	if len(cfg.Tags) == 0 {
		cfg.Tags = DefaultTags
	}
	if cfg.CommitLockTTL <= 0 {
		cfg.CommitLockTTL = 3 * time.Minute
	}
	return &Machine{
		Deps:    deps,
		tags:    cfg.Tags,
		lockTTL: cfg.CommitLockTTL,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "wizard")),
	}
}

// Handle routes ev to the active workflow of its conversation. It reports
// false when nothing in the state machine claimed the event.
func (m *Machine) Handle(ctx context.Context, ev domain.Event) bool {
	if ev.Kind == domain.EventButton {
		return m.handleButton(ctx, ev)
	}

	sess, ok := m.Sessions.Get(ev.ChatID)
	if !ok {
		return false
	}
	// Every handled input counts as activity, rejected ones included.
	_ = m.Sessions.Touch(ev.ChatID)
	switch flow := sess.Flow.(type) {
	case *session.CreateMarket:
		m.onCreateInput(ctx, ev, flow)
	case *session.PlaceBet:
		m.onBetAmount(ctx, ev, flow)
	case *session.Withdraw:
		m.onWithdrawInput(ctx, ev, flow)
	default:
		m.Sessions.Delete(ev.ChatID)
		return false
	}
	return true
}

func (m *Machine) handleButton(ctx context.Context, ev domain.Event) bool {
	data := ev.Data
	switch {
	case data == DataCancel:
		m.Cancel(ctx, ev)
		return true
	case strings.HasPrefix(data, DataBetPrefix):
		token, side, ok := parseBetData(data)
		if !ok {
			m.reply(ctx, ev, msgListingExpired, nil)
			return true
		}
		m.StartBet(ctx, ev, token, side)
		return true
	case strings.HasPrefix(data, "wiz:"):
		if err := m.Sessions.Touch(ev.ChatID); errors.Is(err, domain.ErrNoSession) {
			m.reply(ctx, ev, msgExpired, nil)
			return true
		}
		sess, ok := m.Sessions.Get(ev.ChatID)
		if !ok {
			m.reply(ctx, ev, msgExpired, nil)
			return true
		}
		c, ok := sess.Flow.(*session.CreateMarket)
		if !ok {
			m.reply(ctx, ev, msgExpired, nil)
			return true
		}
		m.onCreateButton(ctx, ev, c)
		return true
	}
	return false
}

// parseBetData splits "bet:<token>:<a|b>".
func parseBetData(data string) (string, domain.Side, bool) {
	parts := strings.Split(strings.TrimPrefix(data, DataBetPrefix), ":")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, false
	}
	switch parts[1] {
	case domain.SideA.String():
		return parts[0], domain.SideA, true
	case domain.SideB.String():
		return parts[0], domain.SideB, true
	}
	return "", 0, false
}

// Cancel deletes the conversation's session from any state.
func (m *Machine) Cancel(ctx context.Context, ev domain.Event) {
	if _, ok := m.Sessions.Get(ev.ChatID); !ok {
		m.reply(ctx, ev, msgNothingToCancel, nil)
		return
	}
	m.Sessions.Delete(ev.ChatID)
	m.reply(ctx, ev, msgCancelled, nil)
}

// TokenDecimals returns the collateral token decimals. The first success is
// cached; a failure is retried by the next caller. The lock is not held
// across the chain read, so a slow read never stalls other conversations.
func (m *Machine) TokenDecimals(ctx context.Context) (uint8, error) {
	m.decMu.Lock()
	cached := m.decimals
	m.decMu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	d, err := m.Chain.TokenDecimals(ctx)
	if err != nil {
		return 0, err
	}

	m.decMu.Lock()
	defer m.decMu.Unlock()
	if m.decimals == nil {
		m.decimals = &d
	}
	return *m.decimals, nil
}

// resolve looks up the user's identity and reports a missing wallet.
func (m *Machine) resolve(ctx context.Context, ev domain.Event) (domain.Identity, bool) {
	id, err := m.Identities.Resolve(ctx, ev.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNoWallet) && !errors.Is(err, domain.ErrNotFound) {
			m.logger.ErrorContext(ctx, "resolve identity failed",
				slog.String("user_id", ev.UserID),
				slog.String("error", err.Error()),
			)
		}
		m.reply(ctx, ev, msgNoWallet, nil)
		return domain.Identity{}, false
	}
	return id, true
}

// acquireCommit takes the commit lock for the conversation.
func (m *Machine) acquireCommit(ctx context.Context, ev domain.Event) (func(), bool) {
	if m.Locks == nil {
		return func() {}, true
	}
	unlock, err := m.Locks.Acquire(ctx, "commit:"+ev.ChatID, m.lockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			m.logger.ErrorContext(ctx, "acquire commit lock failed", slog.String("error", err.Error()))
		}
		m.reply(ctx, ev, msgSubmitting, nil)
		return nil, false
	}
	return unlock, true
}

func (m *Machine) notify(ctx context.Context, event, title, message string) {
	if m.Notifier == nil {
		return
	}
	if err := m.Notifier.Notify(ctx, event, title, message); err != nil {
		m.logger.WarnContext(ctx, "operator notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Machine) reply(ctx context.Context, ev domain.Event, text string, kb domain.Keyboard) {
	if _, err := m.Messenger.Send(ctx, ev.ChatID, text, kb); err != nil {
		m.logger.WarnContext(ctx, "send reply failed",
			slog.String("chat_id", ev.ChatID),
			slog.String("error", err.Error()),
		)
	}
}

// replyEdit edits the message that carried a button, falling back to a new
// message.
func (m *Machine) replyEdit(ctx context.Context, ev domain.Event, text string, kb domain.Keyboard) {
	if ev.MessageID != "" {
		if err := m.Messenger.Edit(ctx, ev.ChatID, ev.MessageID, text, kb); err == nil {
			return
		}
	}
	m.reply(ctx, ev, text, kb)
}
