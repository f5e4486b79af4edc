package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of ethclient.Client the chain layer uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// DialFunc opens a Backend for an endpoint.
type DialFunc func(ctx context.Context, endpoint string) (Backend, error)

// Dial connects to an endpoint with ethclient.
func Dial(ctx context.Context, endpoint string) (Backend, error) {
	c, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ClientConfig holds contract addresses and chain identity.
type ClientConfig struct {
	Endpoint string
	ChainID  int64
	Factory  common.Address
	Token    common.Address
	// GasBufferPercent is added on top of the gas estimate.
	GasBufferPercent uint64
	// CloseDelay keeps a replaced backend open for calls still in flight.
	CloseDelay time.Duration
}

// Client holds the backend bound to the current endpoint and performs raw
// contract calls and transactions. Rebind swaps the backend in place, so
// every handle derived from the client follows the rotation.
type Client struct {
	dial       DialFunc
	chainID    *big.Int
	factory    common.Address
	token      common.Address
	gasBuffer  uint64
	closeDelay time.Duration
	logger     *slog.Logger

	mu       sync.RWMutex
	backend  Backend
	endpoint string
}

// NewClient dials cfg.Endpoint and returns a bound Client.
func NewClient(ctx context.Context, cfg ClientConfig, dial DialFunc, logger *slog.Logger) (*Client, error) {
	if dial == nil {
		dial = Dial
	}
	backend, err := dial(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.Endpoint, err)
	}
	if cfg.GasBufferPercent == 0 {
		cfg.GasBufferPercent = 20
	}
	if cfg.CloseDelay <= 0 {
		cfg.CloseDelay = 30 * time.Second
	}
	return &Client{
		dial:       dial,
		chainID:    big.NewInt(cfg.ChainID),
		factory:    cfg.Factory,
		token:      cfg.Token,
		gasBuffer:  cfg.GasBufferPercent,
		closeDelay: cfg.CloseDelay,
		logger:     logger.With(slog.String("component", "chain_client")),
		backend:    backend,
		endpoint:   cfg.Endpoint,
	}, nil
}

// Rebind dials endpoint and replaces the current backend. The previous
// backend is closed after a delay.
func (c *Client) Rebind(ctx context.Context, endpoint string) error {
	backend, err := c.dial(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("chain: rebind %s: %w", endpoint, err)
	}
	c.mu.Lock()
	old := c.backend
	c.backend = backend
	c.endpoint = endpoint
	c.mu.Unlock()

	if old != nil {
		time.AfterFunc(c.closeDelay, old.Close)
	}
	return nil
}

// Endpoint returns the endpoint the client is bound to.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// Close closes the current backend.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

func (c *Client) current() (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, errors.New("chain: client closed")
	}
	return c.backend, nil
}

// call performs an eth_call of method on to and unpacks the outputs.
func (c *Client) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	backend, err := c.current()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	raw, err := backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, classify(err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return out, nil
}

// transact builds, signs and broadcasts a transaction calling to with data.
// Gas estimation runs first so reverts surface with their revert data before
// anything is broadcast.
func (c *Client) transact(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte) (*types.Transaction, error) {
	backend, err := c.current()
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, classify(err)
	}
	gas += gas * c.gasBuffer / 100

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, classify(err)
	}

	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}

	var txData types.TxData
	if head.BaseFee != nil {
		tip, err := backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, classify(err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		txData = &types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Data:      data,
		}
	} else {
		price, err := backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, classify(err)
		}
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Data:     data,
		}
	}

	signed, err := types.SignTx(types.NewTx(txData), types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("chain: sign tx: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, classify(err)
	}
	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
	)
	return signed, nil
}

// receipt fetches a receipt. ethereum.NotFound is returned unclassified so the
// caller can keep polling.
func (c *Client) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	backend, err := c.current()
	if err != nil {
		return nil, err
	}
	r, err := backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		return nil, classify(err)
	}
	return r, nil
}
