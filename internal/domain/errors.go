package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrNoSession         = errors.New("no active session")
	ErrReaderUnavailable = errors.New("epoch reader unavailable")
	ErrQueueFull         = errors.New("conversation queue full")
	ErrNoWallet          = errors.New("wallet not provisioned")
)
