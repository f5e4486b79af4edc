package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
)

// confirm runs the commit sequence and reports the outcome. The session is
// deleted only after the on-chain write succeeded.
func (m *Machine) confirm(ctx context.Context, ev domain.Event, c *session.CreateMarket) {
	unlock, ok := m.acquireCommit(ctx, ev)
	if !ok {
		return
	}
	defer unlock()

	m.reply(ctx, ev, "Submitting your market...", nil)

	res, err := m.commit(ctx, ev, c)
	if err != nil {
		m.Sessions.Touch(ev.ChatID)
		if errors.Is(err, domain.ErrReaderUnavailable) {
			m.reply(ctx, ev, msgReaderDown, confirmKeyboard())
			return
		}
		if errors.Is(err, domain.ErrNoWallet) || errors.Is(err, domain.ErrNotFound) {
			m.reply(ctx, ev, msgNoWallet, nil)
			return
		}
		ce := commitErrorFrom(err)
		m.logger.WarnContext(ctx, "market commit failed",
			slog.String("chat_id", ev.ChatID),
			slog.String("kind", ce.Kind.String()),
			slog.String("error", err.Error()),
		)
		if ce.Kind != CommitWeekNotActive {
			m.notify(ctx, EventCommitFailed, "Market commit failed",
				fmt.Sprintf("user %s: %s", ev.UserID, ce.Error()))
		}
		m.reply(ctx, ev, ce.Message(), confirmKeyboard())
		return
	}

	m.Sessions.Delete(ev.ChatID)
	m.reply(ctx, ev, created(res), nil)
}

// commit performs the gated on-chain creation. It never mutates the wizard
// fields of c.
func (m *Machine) commit(ctx context.Context, ev domain.Event, c *session.CreateMarket) (domain.CreatedMarket, error) {
	status, err := m.Gate.ReadStatus(ctx)
	if err != nil {
		return domain.CreatedMarket{}, err
	}
	if status.Phase != domain.EpochActive {
		phase := status.Phase
		return domain.CreatedMarket{}, &CommitError{Kind: CommitWeekNotActive, Phase: &phase}
	}

	id, err := m.Identities.Resolve(ctx, ev.UserID)
	if err != nil {
		return domain.CreatedMarket{}, fmt.Errorf("wizard: resolve identity: %w", err)
	}

	fee, err := m.Chain.CreationFee(ctx)
	if err != nil {
		return domain.CreatedMarket{}, fmt.Errorf("wizard: creation fee: %w", err)
	}
	bal, err := m.Chain.TokenBalance(ctx, id.Address)
	if err != nil {
		return domain.CreatedMarket{}, fmt.Errorf("wizard: balance: %w", err)
	}
	if bal.Cmp(fee) < 0 {
		return domain.CreatedMarket{}, &CommitError{
			Kind: CommitInsufficientFunds,
			Err:  fmt.Errorf("balance %s below fee %s", bal, fee),
		}
	}

	if fee.Sign() > 0 {
		if err := m.Chain.EnsureAllowance(ctx, id, m.Chain.FactoryAddress(), fee); err != nil {
			return domain.CreatedMarket{}, err
		}
	}

	res, err := m.Chain.CreateMarket(ctx, id, domain.CreateMarketParams{
		Question: c.Question,
		OptionA:  c.OptionA,
		OptionB:  c.OptionB,
		EndTime:  c.EndTime,
		ImageURL: c.ImageURL,
		Tags:     c.Tags,
	})
	if err != nil {
		return domain.CreatedMarket{}, err
	}

	m.record(ctx, ev, c, res)
	return res, nil
}

// record persists the created market and alerts the operator. Failures here
// are logged only: the chain is the source of truth.
func (m *Machine) record(ctx context.Context, ev domain.Event, c *session.CreateMarket, res domain.CreatedMarket) {
	market := domain.Market{
		Question:  c.Question,
		OptionA:   c.OptionA,
		OptionB:   c.OptionB,
		ImageURL:  c.ImageURL,
		EndTime:   c.EndTimeUTC(),
		Tags:      c.Tags,
		CreatorID: ev.UserID,
		TxHash:    res.TxHash.Hex(),
		Status:    domain.MarketStatusActive,
		CreatedAt: m.now().UTC(),
	}
	if res.Market != nil {
		market.ChainMarketID = res.Market.MarketID.String()
		market.ContractAddress = res.Market.Address.Hex()
	} else {
		m.logger.WarnContext(ctx, "market created without creation event",
			slog.String("tx_hash", res.TxHash.Hex()))
	}

	if m.Markets != nil {
		if err := m.Markets.Insert(ctx, market); err != nil {
			m.logger.ErrorContext(ctx, "persist created market failed",
				slog.String("tx_hash", market.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.InfoContext(ctx, "market created",
		slog.String("user_id", ev.UserID),
		slog.String("address", market.ContractAddress),
		slog.String("tx_hash", market.TxHash),
	)
	m.notify(ctx, EventMarketCreated, "Market created",
		fmt.Sprintf("%s\nAddress: %s\nTx: %s", market.Question, market.ContractAddress, market.TxHash))
}
