package domain

import "time"

// TradeRecord is a completed trade as reported to the state owner.
type TradeRecord struct {
	PositionID string      `json:"position_id"`
	Strategy   StrategyKey `json:"strategy"`
	MarketID   string      `json:"market_id"`
	Reason     CloseReason `json:"reason"`
	PnL        float64     `json:"pnl"`
	Simulated  bool        `json:"simulated"`
	ClosedAt   time.Time   `json:"closed_at"`
}
