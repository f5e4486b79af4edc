package wizard

import (
	"errors"
	"fmt"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// CommitKind classifies a failed commit for the user.
type CommitKind int

const (
	CommitUnknown CommitKind = iota
	CommitWeekNotActive
	CommitInsufficientFunds
	CommitDeadlineTooFar
	CommitDeadlineTooSoon
	CommitDeadlinePast
	CommitTxRejected
	CommitReverted
)

func (k CommitKind) String() string {
	switch k {
	case CommitWeekNotActive:
		return "week_not_active"
	case CommitInsufficientFunds:
		return "insufficient_funds"
	case CommitDeadlineTooFar:
		return "deadline_too_far"
	case CommitDeadlineTooSoon:
		return "deadline_too_soon"
	case CommitDeadlinePast:
		return "deadline_past"
	case CommitTxRejected:
		return "transaction_rejected"
	case CommitReverted:
		return "contract_reverted"
	default:
		return "unknown"
	}
}

// CommitError is returned when a commit sequence aborts. The session is left
// in place so the user can retry from confirmation.
type CommitError struct {
	Kind   CommitKind
	Reason string
	// Phase is set when the epoch gate was closed.
	Phase *domain.EpochPhase
	Err   error
}

func (e *CommitError) Error() string {
	msg := "wizard: commit " + e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommitError) Unwrap() error { return e.Err }

// Message is the user-facing text for the failure.
func (e *CommitError) Message() string {
	switch e.Kind {
	case CommitWeekNotActive:
		if e.Phase != nil {
			return fmt.Sprintf("Market creation is closed: the current epoch is %s. Press Confirm to try again later, or Cancel.", FormatPhase(*e.Phase))
		}
		return "Market creation is closed for this epoch. Try again once the next epoch starts."
	case CommitInsufficientFunds:
		return "Insufficient balance to cover this transaction. Top up your wallet and try again."
	case CommitDeadlineTooFar:
		return "The end time is too far in the future. Cancel and pick an earlier date."
	case CommitDeadlineTooSoon:
		return "The end time is too soon. Cancel and pick a later date."
	case CommitDeadlinePast:
		return "The end time has already passed. Cancel and pick a future date."
	case CommitTxRejected:
		return "The network rejected the transaction. Please try again in a moment."
	case CommitReverted:
		if e.Reason != "" {
			return "The contract rejected the transaction: " + e.Reason
		}
		return "The contract rejected the transaction."
	default:
		return "Something went wrong while submitting. Please try again."
	}
}

// commitErrorFrom maps a classified chain failure onto a commit kind.
func commitErrorFrom(err error) *CommitError {
	var ce *CommitError
	if errors.As(err, &ce) {
		return ce
	}
	out := &CommitError{Err: err}
	var chainErr *domain.ChainError
	if errors.As(err, &chainErr) {
		out.Reason = chainErr.Reason
	}
	switch domain.ChainKindOf(err) {
	case domain.ChainWeekNotActive:
		out.Kind = CommitWeekNotActive
	case domain.ChainInsufficientFunds:
		out.Kind = CommitInsufficientFunds
	case domain.ChainDeadlineTooFar:
		out.Kind = CommitDeadlineTooFar
	case domain.ChainDeadlineTooSoon:
		out.Kind = CommitDeadlineTooSoon
	case domain.ChainDeadlinePast:
		out.Kind = CommitDeadlinePast
	case domain.ChainTxRejected:
		out.Kind = CommitTxRejected
	case domain.ChainReverted:
		out.Kind = CommitReverted
	default:
		out.Kind = CommitUnknown
	}
	return out
}
