package domain

import (
	"context"
	"time"
)

// User is a chat user known to the bot.
type User struct {
	ID        string // transport-scoped sender identity
	Handle    string
	CreatedAt time.Time
}

// Wallet is the custodial wallet owned by a user.
type Wallet struct {
	UserID          string
	Address         string
	EncryptedSecret []byte
	CreatedAt       time.Time
}

// UserStore persists users.
type UserStore interface {
	Upsert(ctx context.Context, u User) error
	GetByID(ctx context.Context, id string) (User, error)
}

// WalletStore persists custodial wallets.
type WalletStore interface {
	// Create inserts w unless the user already has a wallet, and returns the
	// wallet that is stored afterwards.
	Create(ctx context.Context, w Wallet) (Wallet, error)
	GetByUser(ctx context.Context, userID string) (Wallet, error)
}

// MarketStore persists markets created through the bot.
type MarketStore interface {
	Insert(ctx context.Context, m Market) error
	GetByAddress(ctx context.Context, address string) (Market, error)
	ListActive(ctx context.Context, now time.Time, limit int) ([]Market, error)
}
