package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// JournalStore implements domain.JournalStore on the trade_journal table.
// The bot only appends; Recent exists for the operator API.
type JournalStore struct {
	c *Client
}

// NewJournalStore creates a JournalStore on c.
func NewJournalStore(c *Client) *JournalStore {
	return &JournalStore{c: c}
}

// Append inserts one entry. A zero CreatedAt takes the database clock.
func (s *JournalStore) Append(ctx context.Context, e domain.JournalEntry) error {
	detail, err := encodeDetail(e.Detail)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO trade_journal (event, strategy, position_id, market_id, simulated, pnl, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`
	var createdAt any
	if !e.CreatedAt.IsZero() {
		createdAt = e.CreatedAt
	}
	if _, err := s.c.pool.Exec(ctx, query,
		e.Event, string(e.Strategy), e.PositionID, e.MarketID, e.Simulated, e.PnL, detail, createdAt,
	); err != nil {
		return domain.Transient(fmt.Errorf("postgres: append journal %s: %w", e.Event, err))
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *JournalStore) Recent(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, event, strategy, position_id, market_id, simulated, pnl, detail, created_at
		FROM trade_journal ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := s.c.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e        domain.JournalEntry
			strategy string
			detail   []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &strategy, &e.PositionID, &e.MarketID,
			&e.Simulated, &e.PnL, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal: %w", err)
		}
		e.Strategy = domain.StrategyKey(strategy)
		if e.Detail, err = decodeDetail(detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list journal rows: %w", err)
	}
	return out, nil
}

func encodeDetail(detail map[string]any) ([]byte, error) {
	if len(detail) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, domain.Malformed(fmt.Errorf("postgres: marshal journal detail: %w", err))
	}
	return b, nil
}

func decodeDetail(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, domain.Malformed(fmt.Errorf("postgres: unmarshal journal detail: %w", err))
	}
	return m, nil
}

var _ domain.JournalStore = (*JournalStore)(nil)
