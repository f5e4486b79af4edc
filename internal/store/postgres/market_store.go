package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

var _ domain.MarketStore = (*MarketStore)(nil)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, chain_market_id, question, option_a, option_b,
	image_url, end_time, tags, creator_id, COALESCE(contract_address, ''),
	tx_hash, status, created_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.ChainMarketID, &m.Question, &m.OptionA, &m.OptionB,
		&m.ImageURL, &m.EndTime, &m.Tags, &m.CreatorID, &m.ContractAddress,
		&m.TxHash, &status, &m.CreatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Insert records a market created through the bot. A second insert for the
// same transaction reports domain.ErrAlreadyExists.
func (s *MarketStore) Insert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			chain_market_id, question, option_a, option_b, image_url,
			end_time, tags, creator_id, contract_address, tx_hash,
			status, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, COALESCE($12, NOW())
		)
		ON CONFLICT (tx_hash) DO NOTHING`

	status := m.Status
	if status == "" {
		status = domain.MarketStatusActive
	}
	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt
	}
	tag, err := s.pool.Exec(ctx, query,
		m.ChainMarketID, m.Question, m.OptionA, m.OptionB, m.ImageURL,
		m.EndTime, m.Tags, m.CreatorID, nullable(m.ContractAddress), m.TxHash,
		string(status), createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.TxHash, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert market %s: %w", m.TxHash, domain.ErrAlreadyExists)
	}
	return nil
}

// GetByAddress retrieves a market by its contract address, case-insensitively.
func (s *MarketStore) GetByAddress(ctx context.Context, address string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE LOWER(contract_address) = LOWER($1)`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", address, err)
	}
	return m, nil
}

// ListActive returns active markets with a known address that end after now,
// soonest first.
func (s *MarketStore) ListActive(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE status = 'active' AND contract_address IS NOT NULL AND end_time > $1
		ORDER BY end_time ASC`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return markets, nil
}
