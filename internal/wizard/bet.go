package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
)

// StartBet opens a place-bet session for a listed market.
func (m *Machine) StartBet(ctx context.Context, ev domain.Event, token string, side domain.Side) {
	ref, ok := m.Refs.Get(token)
	if !ok {
		m.reply(ctx, ev, msgListingExpired, nil)
		return
	}
	if !ref.EndTime.After(m.now()) {
		m.reply(ctx, ev, msgMarketClosed, nil)
		return
	}
	if !common.IsHexAddress(ref.ContractAddress) {
		m.reply(ctx, ev, "This market is not open for bets yet.", nil)
		return
	}
	m.Sessions.Put(ev.ChatID, &session.PlaceBet{Token: token, Market: ref, Side: side})
	m.reply(ctx, ev, fmt.Sprintf("%s\nYou picked: %s\nHow much do you want to bet?", ref.Question, ref.Option(side)), cancelKeyboard())
}

func (m *Machine) onBetAmount(ctx context.Context, ev domain.Event, b *session.PlaceBet) {
	if ev.Kind != domain.EventText {
		m.reply(ctx, ev, "Send the amount to bet as a number.", cancelKeyboard())
		return
	}
	dec, err := m.TokenDecimals(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "read token decimals failed", slog.String("error", err.Error()))
		m.reply(ctx, ev, (&CommitError{Kind: CommitUnknown}).Message(), cancelKeyboard())
		return
	}
	amount, err := ParseAmount(ev.Text, dec)
	if err != nil {
		m.reply(ctx, ev, "Invalid amount: "+err.Error()+".", cancelKeyboard())
		return
	}
	m.Sessions.Touch(ev.ChatID)

	if !b.Market.EndTime.After(m.now()) {
		m.Sessions.Delete(ev.ChatID)
		m.reply(ctx, ev, msgMarketClosed, nil)
		return
	}

	unlock, ok := m.acquireCommit(ctx, ev)
	if !ok {
		return
	}
	defer unlock()

	id, ok := m.resolve(ctx, ev)
	if !ok {
		return
	}
	tx, err := m.placeBet(ctx, id, b, amount)
	if err != nil {
		ce := commitErrorFrom(err)
		m.logger.WarnContext(ctx, "place bet failed",
			slog.String("chat_id", ev.ChatID),
			slog.String("kind", ce.Kind.String()),
			slog.String("error", err.Error()),
		)
		m.reply(ctx, ev, ce.Message()+"\nSend another amount or Cancel.", cancelKeyboard())
		return
	}

	m.Sessions.Delete(ev.ChatID)
	m.reply(ctx, ev, fmt.Sprintf("Bet placed: %s on %s.\nTransaction: %s",
		FormatAmount(amount, dec), b.Market.Option(b.Side), tx.TxHash.Hex()), nil)
	m.notify(ctx, EventBetPlaced, "Bet placed",
		fmt.Sprintf("user %s bet %s on %q in %s", ev.UserID, FormatAmount(amount, dec), b.Market.Option(b.Side), b.Market.ContractAddress))
}

// placeBet re-reads the balance and submits the bet.
func (m *Machine) placeBet(ctx context.Context, id domain.Identity, b *session.PlaceBet, amount *big.Int) (domain.TxResult, error) {
	bal, err := m.Chain.TokenBalance(ctx, id.Address)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("wizard: balance: %w", err)
	}
	if bal.Cmp(amount) < 0 {
		return domain.TxResult{}, &CommitError{
			Kind: CommitInsufficientFunds,
			Err:  fmt.Errorf("balance %s below bet %s", bal, amount),
		}
	}
	return m.Chain.PlaceBet(ctx, id, common.HexToAddress(b.Market.ContractAddress), b.Side, amount)
}
