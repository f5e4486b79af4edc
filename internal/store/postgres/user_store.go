package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

var _ domain.UserStore = (*UserStore)(nil)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Upsert inserts a user or refreshes its handle.
func (s *UserStore) Upsert(ctx context.Context, u domain.User) error {
	const query = `
		INSERT INTO users (id, handle, created_at, updated_at)
		VALUES ($1, $2, COALESCE($3, NOW()), NOW())
		ON CONFLICT (id) DO UPDATE SET
			handle     = EXCLUDED.handle,
			updated_at = NOW()`

	var createdAt any
	if !u.CreatedAt.IsZero() {
		createdAt = u.CreatedAt
	}
	if _, err := s.pool.Exec(ctx, query, u.ID, u.Handle, createdAt); err != nil {
		return fmt.Errorf("postgres: upsert user %s: %w", u.ID, err)
	}
	return nil
}

// GetByID retrieves a user by its transport identity.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, handle, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Handle, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}
