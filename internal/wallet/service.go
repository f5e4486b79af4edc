// Package wallet provisions users and their custodial wallets and resolves
// a user's on-chain identity for the chain collaborator.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/crypto"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

var _ domain.IdentityResolver = (*Service)(nil)

// Service provisions and resolves custodial wallets.
type Service struct {
	users   domain.UserStore
	wallets domain.WalletStore
	vault   *crypto.Vault
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a wallet Service.
func NewService(users domain.UserStore, wallets domain.WalletStore, vault *crypto.Vault, logger *slog.Logger) *Service {
	return &Service{
		users:   users,
		wallets: wallets,
		vault:   vault,
		logger:  logger.With(slog.String("component", "wallet")),
		now:     time.Now,
	}
}

// EnsureUser records the user and provisions a wallet on first contact.
// Repeated calls are idempotent and return the existing address.
func (s *Service) EnsureUser(ctx context.Context, userID, handle string) (common.Address, error) {
	if err := s.users.Upsert(ctx, domain.User{ID: userID, Handle: handle, CreatedAt: s.now().UTC()}); err != nil {
		return common.Address{}, fmt.Errorf("wallet: upsert user: %w", err)
	}

	existing, err := s.wallets.GetByUser(ctx, userID)
	if err == nil {
		return common.HexToAddress(existing.Address), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return common.Address{}, fmt.Errorf("wallet: lookup: %w", err)
	}

	key, addr, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("wallet: %w", err)
	}
	sealed, err := s.vault.Seal(key)
	if err != nil {
		return common.Address{}, fmt.Errorf("wallet: seal key: %w", err)
	}

	stored, err := s.wallets.Create(ctx, domain.Wallet{
		UserID:          userID,
		Address:         addr.Hex(),
		EncryptedSecret: sealed,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("wallet: create: %w", err)
	}
	if stored.Address == addr.Hex() {
		s.logger.InfoContext(ctx, "wallet provisioned",
			slog.String("user_id", userID),
			slog.String("address", stored.Address),
		)
	}
	return common.HexToAddress(stored.Address), nil
}

// Address returns the user's wallet address without opening the secret.
func (s *Service) Address(ctx context.Context, userID string) (common.Address, error) {
	w, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return common.Address{}, domain.ErrNoWallet
		}
		return common.Address{}, fmt.Errorf("wallet: lookup: %w", err)
	}
	return common.HexToAddress(w.Address), nil
}

// Resolve opens the user's sealed key. A user without a wallet gets
// domain.ErrNoWallet.
func (s *Service) Resolve(ctx context.Context, userID string) (domain.Identity, error) {
	w, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, domain.ErrNoWallet
		}
		return domain.Identity{}, fmt.Errorf("wallet: lookup: %w", err)
	}
	key, err := s.vault.Open(w.EncryptedSecret)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("wallet: open key for %s: %w", userID, err)
	}
	return domain.Identity{
		UserID:  userID,
		Address: common.HexToAddress(w.Address),
		Key:     key,
	}, nil
}
