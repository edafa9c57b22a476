package domain

import (
	"context"
	"time"
)

// JournalEntry is one append-only record of a trading event.
type JournalEntry struct {
	ID         int64          `json:"id"`
	Event      string         `json:"event"`
	Strategy   StrategyKey    `json:"strategy,omitempty"`
	PositionID string         `json:"position_id,omitempty"`
	MarketID   string         `json:"market_id,omitempty"`
	Simulated  bool           `json:"simulated"`
	PnL        float64        `json:"pnl"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// JournalStore appends trading events for later audit. Entries are never read
// back to restore runtime state.
type JournalStore interface {
	Append(ctx context.Context, entry JournalEntry) error
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)
}
