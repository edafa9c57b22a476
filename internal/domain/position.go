package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// CloseReason records why a position left the open state.
type CloseReason string

const (
	CloseFilled   CloseReason = "filled"
	CloseTimeout  CloseReason = "timeout"
	CloseStop     CloseReason = "stop"
	CloseShutdown CloseReason = "shutdown"
)

// Position is a strategy-owned exposure in one market.
type Position struct {
	ID       string         `json:"id"`
	Strategy StrategyKey    `json:"strategy"`
	MarketID string         `json:"market_id"`
	Orders   []OrderRef     `json:"orders"`
	Cost     float64        `json:"cost"`
	Expected float64        `json:"expected_profit"`
	Status   PositionStatus `json:"status"`
	Reason   CloseReason    `json:"close_reason,omitempty"`
	PnL      float64        `json:"pnl"`
	OpenedAt time.Time      `json:"opened_at"`
	ClosedAt *time.Time     `json:"closed_at,omitempty"`
	State    map[string]any `json:"state,omitempty"`
}

// Age returns how long the position has been open at now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Close marks the position closed with the given reason and realised PnL.
func (p *Position) Close(reason CloseReason, pnl float64, at time.Time) {
	p.Status = PositionStatusClosed
	p.Reason = reason
	p.PnL = pnl
	p.ClosedAt = &at
}
