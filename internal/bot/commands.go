package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/wizard"
)

const (
	msgWelcome = "Welcome to Spredd! I'm setting up your wallet now.\n\n" +
		"/create - create a prediction market\n" +
		"/markets - browse active markets\n" +
		"/epoch - current epoch and rewards\n" +
		"/balance - your wallet balance\n" +
		"/help - all commands"
	msgHelp = "Commands:\n" +
		"/create - create a prediction market\n" +
		"/markets - browse active markets and bet\n" +
		"/epoch - current epoch status and pending rewards\n" +
		"/balance - wallet address and balance\n" +
		"/wallet - show your deposit address\n" +
		"/withdraw - send funds to another address\n" +
		"/cancel - cancel the current action"
	msgHint        = "I didn't understand that. Send /help to see what I can do."
	msgUnknown     = "Unknown command. Send /help to see what I can do."
	msgStaleButton = "This action has expired. Start again from the menu."
	msgNoWallet    = "You don't have a wallet yet. Send /start first."
	msgNoMarkets   = "No active markets right now. Create one with /create."
	msgMarketsDown = "I couldn't load markets right now. Please try again later."
	msgBalanceDown = "I couldn't read your balance right now. Please try again later."
	msgEpochDown   = "Epoch status is unavailable right now."
	msgTimeout     = "Something went wrong while handling that. Please try again."
	msgCrashed     = "Something went wrong. Your current action was reset; please start again."
	msgBusy        = "I'm still working on your previous messages. Please wait a moment."
	msgSlowDown    = "Slow down a little."
	msgNoPending   = "Pending rewards: no information."
	timeLayout     = "2006-01-02 15:04 UTC"
)

func (b *Bot) command(ctx context.Context, ev domain.Event, cmd, _ string) {
	switch cmd {
	case "start":
		b.start(ctx, ev)
	case "help":
		b.send(ctx, ev.ChatID, msgHelp, nil)
	case "create":
		b.Wizard.StartCreate(ctx, ev)
	case "markets":
		b.markets(ctx, ev)
	case "epoch":
		b.epoch(ctx, ev)
	case "balance":
		b.balance(ctx, ev)
	case "wallet":
		b.wallet(ctx, ev)
	case "withdraw":
		b.Wizard.StartWithdraw(ctx, ev)
	case "cancel":
		b.Wizard.Cancel(ctx, ev)
	default:
		b.send(ctx, ev.ChatID, msgUnknown, nil)
	}
}

// start greets the user at once and provisions the wallet in a detached
// task. Provisioning errors are logged and dropped.
func (b *Bot) start(ctx context.Context, ev domain.Event) {
	b.send(ctx, ev.ChatID, msgWelcome, nil)

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.ProvisionTimeout)
	b.detached.Add(1)
	go func() {
		defer b.detached.Done()
		defer cancel()
		addr, err := b.Wallets.EnsureUser(detached, ev.UserID, ev.Username)
		if err != nil {
			b.logger.ErrorContext(detached, "user provisioning failed",
				slog.String("user_id", ev.UserID),
				slog.String("error", err.Error()),
			)
			return
		}
		b.logger.DebugContext(detached, "user provisioned",
			slog.String("user_id", ev.UserID),
			slog.String("address", addr.Hex()),
		)
	}()
}

func (b *Bot) markets(ctx context.Context, ev domain.Event) {
	markets, err := b.Markets.ListActive(ctx, b.now().UTC(), b.cfg.ListLimit)
	if err != nil {
		b.logger.ErrorContext(ctx, "list markets failed", slog.String("error", err.Error()))
		b.send(ctx, ev.ChatID, msgMarketsDown, nil)
		return
	}
	if len(markets) == 0 {
		b.send(ctx, ev.ChatID, msgNoMarkets, nil)
		return
	}

	for _, m := range markets {
		ref := domain.RefFromMarket(m)
		token := b.Refs.Put(ref)
		card := wizard.MarketCard(ref)
		kb := wizard.BetKeyboard(token, ref)
		if ref.ImageURL != "" {
			if _, err := b.Messenger.SendPhoto(ctx, ev.ChatID, ref.ImageURL, card, kb); err == nil {
				continue
			}
		}
		b.send(ctx, ev.ChatID, card, kb)
	}
}

func (b *Bot) epoch(ctx context.Context, ev domain.Event) {
	status, err := b.Gate.ReadStatus(ctx)
	pending := b.Gate.ReadPending(ctx)
	dec, decErr := b.Wizard.TokenDecimals(ctx)
	if decErr != nil {
		b.logger.WarnContext(ctx, "token decimals unavailable", slog.String("error", decErr.Error()))
	}

	var s strings.Builder
	if err != nil {
		b.logger.WarnContext(ctx, "epoch status unavailable", slog.String("error", err.Error()))
		s.WriteString(msgEpochDown)
	} else {
		fmt.Fprintf(&s, "Epoch #%s: %s\n", status.EpochID, wizard.FormatPhase(status.Phase))
		fmt.Fprintf(&s, "Window: %s to %s\n", unixUTC(status.WindowStart), unixUTC(status.WindowEnd))
		fmt.Fprintf(&s, "Reward pool: %s", formatUnits(status.RewardPool, dec, decErr))
	}
	s.WriteString("\n\n")
	if len(pending.IDs) == 0 {
		s.WriteString(msgNoPending)
	} else {
		s.WriteString("Pending rewards:")
		for i, id := range pending.IDs {
			fmt.Fprintf(&s, "\nEpoch #%s: %s", id, formatUnits(pending.Rewards[i], dec, decErr))
		}
	}
	b.send(ctx, ev.ChatID, s.String(), nil)
}

func (b *Bot) balance(ctx context.Context, ev domain.Event) {
	addr, ok := b.address(ctx, ev)
	if !ok {
		return
	}
	bal, err := b.Chain.TokenBalance(ctx, addr)
	if err == nil {
		var dec uint8
		if dec, err = b.Wizard.TokenDecimals(ctx); err == nil {
			b.send(ctx, ev.ChatID, fmt.Sprintf("Address: %s\nBalance: %s", addr.Hex(), wizard.FormatAmount(bal, dec)), nil)
			return
		}
	}
	b.logger.WarnContext(ctx, "balance read failed",
		slog.String("user_id", ev.UserID),
		slog.String("error", err.Error()),
	)
	b.send(ctx, ev.ChatID, msgBalanceDown, nil)
}

func (b *Bot) wallet(ctx context.Context, ev domain.Event) {
	addr, ok := b.address(ctx, ev)
	if !ok {
		return
	}
	b.send(ctx, ev.ChatID, "Your deposit address:\n"+addr.Hex(), nil)
}

func (b *Bot) address(ctx context.Context, ev domain.Event) (common.Address, bool) {
	addr, err := b.Wallets.Address(ctx, ev.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNoWallet) {
			b.logger.ErrorContext(ctx, "wallet lookup failed",
				slog.String("user_id", ev.UserID),
				slog.String("error", err.Error()),
			)
		}
		b.send(ctx, ev.ChatID, msgNoWallet, nil)
		return common.Address{}, false
	}
	return addr, true
}

func unixUTC(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(timeLayout)
}

func formatUnits(v *big.Int, dec uint8, decErr error) string {
	if v == nil {
		return "0"
	}
	if decErr != nil {
		return v.String() + " (base units)"
	}
	return wizard.FormatAmount(v, dec)
}
