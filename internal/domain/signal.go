package domain

import "time"

// StrategyKey is the capital-allocation and priority category of a strategy.
type StrategyKey string

const (
	StrategyLatency     StrategyKey = "latency"
	StrategyProbability StrategyKey = "probability"
	StrategyMaker       StrategyKey = "maker"
	StrategyMLPattern   StrategyKey = "ml_pattern"
)

// DefaultPriority is the execution order of strategy categories, highest
// priority first.
var DefaultPriority = []StrategyKey{
	StrategyLatency,
	StrategyProbability,
	StrategyMaker,
	StrategyMLPattern,
}

// Signal is an opportunity reported by a strategy's scan. Payload is owned by
// the emitting strategy and opaque to everything else.
type Signal struct {
	Strategy  StrategyKey `json:"strategy"`
	Source    string      `json:"source"`
	MarketID  string      `json:"market_id"`
	Size      float64     `json:"size"`
	Expected  float64     `json:"expected_profit"`
	Reason    string      `json:"reason,omitempty"`
	Payload   any         `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
}

// Performance is the trade record of a single strategy.
type Performance struct {
	Name          string      `json:"strategy_name"`
	Key           StrategyKey `json:"strategy_type"`
	Enabled       bool        `json:"enabled"`
	TotalTrades   int         `json:"total_trades"`
	Wins          int         `json:"winning_trades"`
	Losses        int         `json:"losing_trades"`
	WinRate       float64     `json:"win_rate"`
	TotalProfit   float64     `json:"total_profit"`
	OpenPositions int         `json:"open_positions"`
	LastTradeAt   *time.Time  `json:"last_trade_time,omitempty"`
}

// SpikeDirection is the sign of a detected price move.
type SpikeDirection string

const (
	SpikeUp   SpikeDirection = "up"
	SpikeDown SpikeDirection = "down"
)

// SpikeEvent is a sharp move between two samples inside the detector window.
type SpikeEvent struct {
	ID         string         `json:"spike_id"`
	Seq        uint64         `json:"seq"`
	Direction  SpikeDirection `json:"direction"`
	Delta      float64        `json:"delta"`
	PctChange  float64        `json:"pct_change"`
	OldPrice   float64        `json:"old_price"`
	NewPrice   float64        `json:"new_price"`
	OldAt      time.Time      `json:"old_at"`
	NewAt      time.Time      `json:"new_at"`
	Window     time.Duration  `json:"window"`
	DetectedAt time.Time      `json:"detected_at"`
}

// Magnitude returns the absolute size of the move.
func (e SpikeEvent) Magnitude() float64 {
	if e.Delta < 0 {
		return -e.Delta
	}
	return e.Delta
}
