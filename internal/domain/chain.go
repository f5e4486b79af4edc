package domain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainErrorKind classifies a failure reported by the chain collaborator. The
// kind is attached where the failure is observed so callers never have to
// inspect error text.
type ChainErrorKind int

const (
	ChainUnknown ChainErrorKind = iota
	ChainRateLimited
	ChainWeekNotActive
	ChainInsufficientFunds
	ChainDeadlineTooFar
	ChainDeadlineTooSoon
	ChainDeadlinePast
	ChainTxRejected
	ChainReverted
)

func (k ChainErrorKind) String() string {
	switch k {
	case ChainRateLimited:
		return "rate_limited"
	case ChainWeekNotActive:
		return "week_not_active"
	case ChainInsufficientFunds:
		return "insufficient_funds"
	case ChainDeadlineTooFar:
		return "deadline_too_far"
	case ChainDeadlineTooSoon:
		return "deadline_too_soon"
	case ChainDeadlinePast:
		return "deadline_past"
	case ChainTxRejected:
		return "tx_rejected"
	case ChainReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// ChainError is a classified chain failure.
type ChainError struct {
	Kind   ChainErrorKind
	Reason string // decoded revert reason, if any
	Err    error
}

func (e *ChainError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("chain %s (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("chain %s: %v", e.Kind, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// Is lets rate-limit classified errors match ErrRateLimited.
func (e *ChainError) Is(target error) bool {
	return target == ErrRateLimited && e.Kind == ChainRateLimited
}

// ChainKindOf returns the classification carried by err, or ChainUnknown.
func ChainKindOf(err error) ChainErrorKind {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ChainUnknown
}

// IsRateLimited reports whether err is a rate-limit-class failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// EpochPhase is the lifecycle phase of a reward epoch.
type EpochPhase uint8

const (
	EpochActive EpochPhase = iota
	EpochPendingFinalize
	EpochFinalized
)

func (p EpochPhase) String() string {
	switch p {
	case EpochActive:
		return "active"
	case EpochPendingFinalize:
		return "pending_finalize"
	case EpochFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// EpochInfo is the raw metadata of the current epoch.
type EpochInfo struct {
	ID          *big.Int
	WindowStart int64
	WindowEnd   int64
	RewardPool  *big.Int
}

// EpochStatus is derived on demand and never cached.
type EpochStatus struct {
	EpochID     *big.Int
	Phase       EpochPhase
	WindowStart int64
	WindowEnd   int64
	RewardPool  *big.Int
}

// PendingEpochs holds parallel slices of pending epoch IDs and their rewards.
type PendingEpochs struct {
	IDs     []*big.Int
	Rewards []*big.Int
}

// Identity is the on-chain execution identity of a user.
type Identity struct {
	UserID  string
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// CreateMarketParams are the wizard fields submitted on-chain.
type CreateMarketParams struct {
	Question string
	OptionA  string
	OptionB  string
	EndTime  int64
	ImageURL string
	Tags     string
}

// TxResult describes a mined transaction.
type TxResult struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// CreatedMarket is the outcome of a create-market transaction. Market is nil
// when no creation event could be parsed from the receipt.
type CreatedMarket struct {
	TxResult
	Market *MarketCreatedEvent
}

// MarketCreatedEvent is the parsed creation event.
type MarketCreatedEvent struct {
	MarketID *big.Int
	Address  common.Address
	Creator  common.Address
}

// ChainReader exposes read-only chain calls.
type ChainReader interface {
	CurrentEpoch(ctx context.Context) (EpochInfo, error)
	EpochPhase(ctx context.Context, epochID *big.Int) (EpochPhase, error)
	PendingEpochs(ctx context.Context) (PendingEpochs, error)
	TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	CreationFee(ctx context.Context) (*big.Int, error)
	TokenDecimals(ctx context.Context) (uint8, error)
}

// ChainWriter exposes state-changing chain calls.
type ChainWriter interface {
	EnsureAllowance(ctx context.Context, id Identity, spender common.Address, amount *big.Int) error
	CreateMarket(ctx context.Context, id Identity, p CreateMarketParams) (CreatedMarket, error)
	PlaceBet(ctx context.Context, id Identity, market common.Address, option Side, amount *big.Int) (TxResult, error)
	Transfer(ctx context.Context, id Identity, to common.Address, amount *big.Int) (TxResult, error)
	FactoryAddress() common.Address
}

// Chain is the full chain collaborator.
type Chain interface {
	ChainReader
	ChainWriter
}

// EpochGate reads the epoch status used to gate market creation.
type EpochGate interface {
	ReadStatus(ctx context.Context) (EpochStatus, error)
	ReadPending(ctx context.Context) PendingEpochs
}

// IdentityResolver resolves a user's custodial on-chain identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID string) (Identity, error)
}
