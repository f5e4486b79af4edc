package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// EpochReader is the part of the chain reader the gate needs.
type EpochReader interface {
	CurrentEpoch(ctx context.Context) (domain.EpochInfo, error)
	EpochPhase(ctx context.Context, epochID *big.Int) (domain.EpochPhase, error)
	PendingEpochs(ctx context.Context) (domain.PendingEpochs, error)
}

var _ domain.EpochGate = (*EpochGate)(nil)

// EpochGate derives the epoch status on every read. Nothing is cached.
type EpochGate struct {
	reader EpochReader
	logger *slog.Logger
}

// NewEpochGate creates an EpochGate over reader.
func NewEpochGate(reader EpochReader, logger *slog.Logger) *EpochGate {
	return &EpochGate{
		reader: reader,
		logger: logger.With(slog.String("component", "epoch_gate")),
	}
}

// ReadStatus fetches the current epoch and then its phase. Any failure is
// reported as domain.ErrReaderUnavailable.
func (g *EpochGate) ReadStatus(ctx context.Context) (domain.EpochStatus, error) {
	info, err := g.reader.CurrentEpoch(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "read current epoch failed", slog.String("error", err.Error()))
		return domain.EpochStatus{}, fmt.Errorf("%w: current epoch: %v", domain.ErrReaderUnavailable, err)
	}
	if info.ID == nil {
		return domain.EpochStatus{}, fmt.Errorf("%w: current epoch has no id", domain.ErrReaderUnavailable)
	}
	phase, err := g.reader.EpochPhase(ctx, info.ID)
	if err != nil {
		g.logger.WarnContext(ctx, "read epoch phase failed",
			slog.String("epoch", info.ID.String()),
			slog.String("error", err.Error()),
		)
		return domain.EpochStatus{}, fmt.Errorf("%w: epoch phase: %v", domain.ErrReaderUnavailable, err)
	}
	return domain.EpochStatus{
		EpochID:     info.ID,
		Phase:       phase,
		WindowStart: info.WindowStart,
		WindowEnd:   info.WindowEnd,
		RewardPool:  info.RewardPool,
	}, nil
}

// ReadPending returns pending epochs and rewards. On failure both slices are
// empty, which means "no information" rather than "nothing pending".
func (g *EpochGate) ReadPending(ctx context.Context) domain.PendingEpochs {
	p, err := g.reader.PendingEpochs(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "read pending epochs failed", slog.String("error", err.Error()))
		return domain.PendingEpochs{}
	}
	if len(p.IDs) != len(p.Rewards) {
		g.logger.WarnContext(ctx, "pending epochs length mismatch",
			slog.Int("ids", len(p.IDs)),
			slog.Int("rewards", len(p.Rewards)),
		)
		return domain.PendingEpochs{}
	}
	return p
}
