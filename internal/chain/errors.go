package chain

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// JSON-RPC error codes providers use for request throttling.
var rateLimitCodes = map[int]bool{
	-32005: true, // limit exceeded (EIP-1474)
	-32029: true,
	429:    true,
}

// revertKinds maps custom error names and revert strings to kinds.
var revertKinds = map[string]domain.ChainErrorKind{
	"weeknotactive":              domain.ChainWeekNotActive,
	"epochnotactive":             domain.ChainWeekNotActive,
	"insufficientbalance":        domain.ChainInsufficientFunds,
	"erc20insufficientbalance":   domain.ChainInsufficientFunds,
	"erc20insufficientallowance": domain.ChainInsufficientFunds,
	"deadlinetoofar":             domain.ChainDeadlineTooFar,
	"deadlinetoosoon":            domain.ChainDeadlineTooSoon,
	"deadlineinpast":             domain.ChainDeadlinePast,
	"deadlinepast":               domain.ChainDeadlinePast,
}

var revertABIs = []abi.ABI{factoryABI, marketABI, erc20ABI}

// classify attaches a domain.ChainError kind to err. Errors that are already
// classified, and context errors, pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *domain.ChainError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if isRateLimit(err) {
		return &domain.ChainError{Kind: domain.ChainRateLimited, Err: err}
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if name := decodeRevert(data); name != "" {
					return &domain.ChainError{Kind: revertKind(name), Reason: name, Err: err}
				}
			}
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return &domain.ChainError{Kind: domain.ChainInsufficientFunds, Err: err}
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "rejected"):
		return &domain.ChainError{Kind: domain.ChainTxRejected, Err: err}
	case strings.Contains(msg, "execution reverted"):
		reason := ""
		if i := strings.Index(msg, "execution reverted:"); i >= 0 {
			reason = strings.TrimSpace(err.Error()[i+len("execution reverted:"):])
		}
		return &domain.ChainError{Kind: revertKind(reason), Reason: reason, Err: err}
	}
	return &domain.ChainError{Kind: domain.ChainUnknown, Err: err}
}

func isRateLimit(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rateLimitCodes[rpcErr.ErrorCode()] {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "exceeded its compute units")
}

// decodeRevert returns the custom error name or Error(string) reason encoded
// in revert data.
func decodeRevert(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	for _, parsed := range revertABIs {
		for name, e := range parsed.Errors {
			if bytes.Equal(e.ID[:4], data[:4]) {
				return name
			}
		}
	}
	return ""
}

func revertKind(reason string) domain.ChainErrorKind {
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(reason))
	if kind, ok := revertKinds[key]; ok {
		return kind
	}
	for name, kind := range revertKinds {
		if strings.Contains(key, name) {
			return kind
		}
	}
	return domain.ChainReverted
}
