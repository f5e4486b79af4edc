package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/rpc"
)

// Compile-time interface check.
var _ domain.Chain = (*Service)(nil)

// ServiceConfig tunes receipt polling.
type ServiceConfig struct {
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

// Service implements domain.Chain. Every upstream round-trip goes through
// the failover executor, so rate limits rotate the shared client.
type Service struct {
	client         *Client
	exec           *rpc.Executor
	receiptTimeout time.Duration
	receiptPoll    time.Duration
	logger         *slog.Logger
}

// NewService creates a Service.
func NewService(client *Client, exec *rpc.Executor, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	return &Service{
		client:         client,
		exec:           exec,
		receiptTimeout: cfg.ReceiptTimeout,
		receiptPoll:    cfg.ReceiptPoll,
		logger:         logger.With(slog.String("component", "chain_service")),
	}
}

// FactoryAddress returns the market factory address.
func (s *Service) FactoryAddress() common.Address {
	return s.client.factory
}

func (s *Service) CurrentEpoch(ctx context.Context) (domain.EpochInfo, error) {
	return rpc.Call(ctx, s.exec, func(ctx context.Context) (domain.EpochInfo, error) {
		out, err := s.client.call(ctx, factoryABI, s.client.factory, "currentEpoch")
		if err != nil {
			return domain.EpochInfo{}, err
		}
		if len(out) != 4 {
			return domain.EpochInfo{}, fmt.Errorf("chain: currentEpoch: %d outputs", len(out))
		}
		return domain.EpochInfo{
			ID:          bigOut(out[0]),
			WindowStart: bigOut(out[1]).Int64(),
			WindowEnd:   bigOut(out[2]).Int64(),
			RewardPool:  bigOut(out[3]),
		}, nil
	})
}

func (s *Service) EpochPhase(ctx context.Context, epochID *big.Int) (domain.EpochPhase, error) {
	return rpc.Call(ctx, s.exec, func(ctx context.Context) (domain.EpochPhase, error) {
		out, err := s.client.call(ctx, factoryABI, s.client.factory, "epochPhase", epochID)
		if err != nil {
			return 0, err
		}
		phase, ok := out[0].(uint8)
		if !ok {
			return 0, fmt.Errorf("chain: epochPhase: unexpected output %T", out[0])
		}
		return domain.EpochPhase(phase), nil
	})
}

func (s *Service) PendingEpochs(ctx context.Context) (domain.PendingEpochs, error) {
	return rpc.Call(ctx, s.exec, func(ctx context.Context) (domain.PendingEpochs, error) {
		out, err := s.client.call(ctx, factoryABI, s.client.factory, "pendingEpochs")
		if err != nil {
			return domain.PendingEpochs{}, err
		}
		ids, ok1 := out[0].([]*big.Int)
		rewards, ok2 := out[1].([]*big.Int)
		if !ok1 || !ok2 {
			return domain.PendingEpochs{}, errors.New("chain: pendingEpochs: unexpected outputs")
		}
		return domain.PendingEpochs{IDs: ids, Rewards: rewards}, nil
	})
}

func (s *Service) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return rpc.Call(ctx, s.exec, func(ctx context.Context) (*big.Int, error) {
		out, err := s.client.call(ctx, erc20ABI, s.client.token, "balanceOf", owner)
		if err != nil {
			return nil, err
		}
		return bigOut(out[0]), nil
	})
}

func (s *Service) CreationFee(ctx context.Context) (*big.Int, error) {
	return rpc.Call(ctx, s.exec, func(ctx context.Context) (*big.Int, error) {
		out, err := s.client.call(ctx, factoryABI, s.client.factory, "creationFee")
		if err != nil {
			return nil, err
		}
		return bigOut(out[0]), nil
	})
}

func (s *Service) TokenDecimals(ctx context.Context) (uint8, error) {
	return rpc.Call(ctx, s.exec, func(ctx context.Context) (uint8, error) {
		out, err := s.client.call(ctx, erc20ABI, s.client.token, "decimals")
		if err != nil {
			return 0, err
		}
		d, ok := out[0].(uint8)
		if !ok {
			return 0, fmt.Errorf("chain: decimals: unexpected output %T", out[0])
		}
		return d, nil
	})
}

func (s *Service) allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return rpc.Call(ctx, s.exec, func(ctx context.Context) (*big.Int, error) {
		out, err := s.client.call(ctx, erc20ABI, s.client.token, "allowance", owner, spender)
		if err != nil {
			return nil, err
		}
		return bigOut(out[0]), nil
	})
}

// EnsureAllowance approves spender for amount when the current allowance is
// lower.
func (s *Service) EnsureAllowance(ctx context.Context, id domain.Identity, spender common.Address, amount *big.Int) error {
	current, err := s.allowance(ctx, id.Address, spender)
	if err != nil {
		return fmt.Errorf("chain: allowance: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("chain: pack approve: %w", err)
	}
	if _, err := s.send(ctx, id, s.client.token, data); err != nil {
		return fmt.Errorf("chain: approve: %w", err)
	}
	return nil
}

// CreateMarket submits createMarket and parses the MarketCreated event from
// the receipt. A receipt without the event yields a nil Market.
func (s *Service) CreateMarket(ctx context.Context, id domain.Identity, p domain.CreateMarketParams) (domain.CreatedMarket, error) {
	data, err := factoryABI.Pack("createMarket",
		p.Question, p.OptionA, p.OptionB, big.NewInt(p.EndTime), p.ImageURL, p.Tags)
	if err != nil {
		return domain.CreatedMarket{}, fmt.Errorf("chain: pack createMarket: %w", err)
	}
	receipt, err := s.send(ctx, id, s.client.factory, data)
	if err != nil {
		return domain.CreatedMarket{}, fmt.Errorf("chain: createMarket: %w", err)
	}
	res := domain.CreatedMarket{
		TxResult: txResult(receipt),
		Market:   parseMarketCreated(receipt.Logs, s.client.factory),
	}
	if res.Market == nil {
		s.logger.WarnContext(ctx, "market created without a parsable event",
			slog.String("tx_hash", receipt.TxHash.Hex()))
	}
	return res, nil
}

// PlaceBet approves the market contract if needed and places a bet.
func (s *Service) PlaceBet(ctx context.Context, id domain.Identity, market common.Address, option domain.Side, amount *big.Int) (domain.TxResult, error) {
	if err := s.EnsureAllowance(ctx, id, market, amount); err != nil {
		return domain.TxResult{}, err
	}
	data, err := marketABI.Pack("placeBet", uint8(option), amount)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("chain: pack placeBet: %w", err)
	}
	receipt, err := s.send(ctx, id, market, data)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("chain: placeBet: %w", err)
	}
	return txResult(receipt), nil
}

// Transfer moves collateral tokens from the identity to another address.
func (s *Service) Transfer(ctx context.Context, id domain.Identity, to common.Address, amount *big.Int) (domain.TxResult, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("chain: pack transfer: %w", err)
	}
	receipt, err := s.send(ctx, id, s.client.token, data)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("chain: transfer: %w", err)
	}
	return txResult(receipt), nil
}

// send broadcasts a transaction and waits for a successful receipt.
func (s *Service) send(ctx context.Context, id domain.Identity, to common.Address, data []byte) (*types.Receipt, error) {
	if id.Key == nil {
		return nil, domain.ErrNoWallet
	}
	tx, err := rpc.Call(ctx, s.exec, func(ctx context.Context) (*types.Transaction, error) {
		return s.client.transact(ctx, id.Key, to, data)
	})
	if err != nil {
		return nil, err
	}
	receipt, err := s.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &domain.ChainError{
			Kind: domain.ChainReverted,
			Err:  fmt.Errorf("transaction %s reverted", tx.Hash().Hex()),
		}
	}
	return receipt, nil
}

func (s *Service) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.receiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := rpc.Call(ctx, s.exec, func(ctx context.Context) (*types.Receipt, error) {
			return s.client.receipt(ctx, hash)
		})
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// parseMarketCreated returns the first MarketCreated event emitted by factory.
func parseMarketCreated(logs []*types.Log, factory common.Address) *domain.MarketCreatedEvent {
	event := factoryABI.Events["MarketCreated"]
	for _, l := range logs {
		if l == nil || l.Address != factory || len(l.Topics) < 4 || l.Topics[0] != event.ID {
			continue
		}
		return &domain.MarketCreatedEvent{
			MarketID: new(big.Int).SetBytes(l.Topics[1].Bytes()),
			Address:  common.BytesToAddress(l.Topics[2].Bytes()),
			Creator:  common.BytesToAddress(l.Topics[3].Bytes()),
		}
	}
	return nil
}

func txResult(r *types.Receipt) domain.TxResult {
	res := domain.TxResult{TxHash: r.TxHash}
	if r.BlockNumber != nil {
		res.BlockNumber = r.BlockNumber.Uint64()
	}
	return res
}

func bigOut(v any) *big.Int {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b
	}
	return new(big.Int)
}
