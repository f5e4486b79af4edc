package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
)

// StartWithdraw opens a withdraw session.
func (m *Machine) StartWithdraw(ctx context.Context, ev domain.Event) {
	if _, ok := m.resolve(ctx, ev); !ok {
		return
	}
	m.Sessions.Put(ev.ChatID, &session.Withdraw{Step: session.WithdrawAddress})
	m.reply(ctx, ev, promptWithdrawTo, cancelKeyboard())
}

func (m *Machine) onWithdrawInput(ctx context.Context, ev domain.Event, w *session.Withdraw) {
	if ev.Kind != domain.EventText {
		m.reply(ctx, ev, promptWithdrawTo, cancelKeyboard())
		return
	}
	text := strings.TrimSpace(ev.Text)

	switch w.Step {
	case session.WithdrawAddress:
		if !common.IsHexAddress(text) {
			m.reply(ctx, ev, msgAddressInvalid, cancelKeyboard())
			return
		}
		w.To = common.HexToAddress(text).Hex()
		w.Step = session.WithdrawAmount
		m.Sessions.Touch(ev.ChatID)
		m.reply(ctx, ev, "How much do you want to withdraw to "+w.To+"?", cancelKeyboard())

	case session.WithdrawAmount:
		m.withdraw(ctx, ev, w, text)
	}
}

func (m *Machine) withdraw(ctx context.Context, ev domain.Event, w *session.Withdraw, text string) {
	dec, err := m.TokenDecimals(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "read token decimals failed", slog.String("error", err.Error()))
		m.reply(ctx, ev, (&CommitError{Kind: CommitUnknown}).Message(), cancelKeyboard())
		return
	}
	amount, err := ParseAmount(text, dec)
	if err != nil {
		m.reply(ctx, ev, "Invalid amount: "+err.Error()+".", cancelKeyboard())
		return
	}
	m.Sessions.Touch(ev.ChatID)

	unlock, ok := m.acquireCommit(ctx, ev)
	if !ok {
		return
	}
	defer unlock()

	id, ok := m.resolve(ctx, ev)
	if !ok {
		return
	}
	tx, err := m.transfer(ctx, id, common.HexToAddress(w.To), amount)
	if err != nil {
		ce := commitErrorFrom(err)
		m.logger.WarnContext(ctx, "withdraw failed",
			slog.String("chat_id", ev.ChatID),
			slog.String("kind", ce.Kind.String()),
			slog.String("error", err.Error()),
		)
		m.reply(ctx, ev, ce.Message()+"\nSend another amount or Cancel.", cancelKeyboard())
		return
	}

	m.Sessions.Delete(ev.ChatID)
	m.reply(ctx, ev, fmt.Sprintf("Sent %s to %s.\nTransaction: %s", FormatAmount(amount, dec), w.To, tx.TxHash.Hex()), nil)
	m.notify(ctx, EventWithdrawal, "Withdrawal",
		fmt.Sprintf("user %s withdrew %s to %s", ev.UserID, FormatAmount(amount, dec), w.To))
}

func (m *Machine) transfer(ctx context.Context, id domain.Identity, to common.Address, amount *big.Int) (domain.TxResult, error) {
	bal, err := m.Chain.TokenBalance(ctx, id.Address)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("wizard: balance: %w", err)
	}
	if bal.Cmp(amount) < 0 {
		return domain.TxResult{}, &CommitError{
			Kind: CommitInsufficientFunds,
			Err:  fmt.Errorf("balance %s below withdrawal %s", bal, amount),
		}
	}
	return m.Chain.Transfer(ctx, id, to, amount)
}
