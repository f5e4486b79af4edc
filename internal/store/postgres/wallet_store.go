package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

var _ domain.WalletStore = (*WalletStore)(nil)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

const walletCols = `user_id, address, encrypted_secret, created_at`

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.UserID, &w.Address, &w.EncryptedSecret, &w.CreatedAt); err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

// Create inserts w unless the user already owns a wallet, then returns the
// stored wallet. Concurrent provisioning for one user converges on the first
// insert.
func (s *WalletStore) Create(ctx context.Context, w domain.Wallet) (domain.Wallet, error) {
	const insert = `
		INSERT INTO wallets (user_id, address, encrypted_secret, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, w.UserID, w.Address, w.EncryptedSecret); err != nil {
		return domain.Wallet{}, fmt.Errorf("postgres: create wallet for %s: %w", w.UserID, err)
	}
	return s.GetByUser(ctx, w.UserID)
}

// GetByUser retrieves the wallet owned by userID.
func (s *WalletStore) GetByUser(ctx context.Context, userID string) (domain.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet for %s: %w", userID, err)
	}
	return w, nil
}
