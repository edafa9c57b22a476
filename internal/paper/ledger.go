// Package paper simulates order placement against live books with virtual
// capital, so simulate mode runs the same strategy code as live trading.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// Summary is the ledger's performance report.
type Summary struct {
	StartingCapital  float64 `json:"starting_capital"`
	CurrentCapital   float64 `json:"current_capital"`
	AvailableCapital float64 `json:"available_capital"`
	Reserved         float64 `json:"open_positions_value"`
	TotalProfit      float64 `json:"total_profit"`
	ProfitPct        float64 `json:"profit_percentage"`
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	WinRate          float64 `json:"win_rate"`
	OpenOrders       int     `json:"open_orders"`
}

// Ledger tracks virtual capital. Buy orders reserve their cost until they are
// cancelled or their position settles. Safe for concurrent use.
type Ledger struct {
	logger *slog.Logger

	mu       sync.Mutex
	starting float64
	current  float64
	reserved map[string]float64
	trades   int
	wins     int
	losses   int
	profit   float64
}

// NewLedger creates a ledger holding starting capital.
func NewLedger(starting float64, logger *slog.Logger) *Ledger {
	l := &Ledger{
		logger:   logger.With(slog.String("component", "paper_ledger")),
		starting: starting,
		current:  starting,
		reserved: make(map[string]float64),
	}
	l.logger.Info("paper trading initialized", slog.Float64("starting_capital", starting))
	return l
}

func (l *Ledger) availableLocked() float64 {
	avail := l.current
	for _, c := range l.reserved {
		avail -= c
	}
	return avail
}

// CanPlace reports whether cost fits in the available capital.
func (l *Ledger) CanPlace(cost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked() >= cost
}

// Reserve sets aside cost for an order.
func (l *Ledger) Reserve(orderID string, cost float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if avail := l.availableLocked(); avail < cost {
		return fmt.Errorf("paper: reserve %.2f (available %.2f): %w", cost, avail, domain.ErrNoCapital)
	}
	l.reserved[orderID] = cost
	return nil
}

// Release frees an order's reservation and returns the amount.
func (l *Ledger) Release(orderID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.reserved[orderID]
	delete(l.reserved, orderID)
	return c
}

// Settle books a closed position: its order reservations are released and
// its P&L is added to capital.
func (l *Ledger) Settle(ctx context.Context, p domain.Position) {
	l.mu.Lock()
	for _, o := range p.Orders {
		delete(l.reserved, o.ID)
	}
	l.current += p.PnL
	l.profit += p.PnL
	l.trades++
	if p.PnL > 0 {
		l.wins++
	} else {
		l.losses++
	}
	current, avail := l.current, l.availableLocked()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "paper trade settled",
		slog.String("position_id", p.ID),
		slog.String("reason", string(p.Reason)),
		slog.Float64("pnl", p.PnL),
		slog.Float64("capital", current),
		slog.Float64("available", avail),
	)
}

// Summary returns the current report.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	avail := l.availableLocked()
	s := Summary{
		StartingCapital:  l.starting,
		CurrentCapital:   l.current,
		AvailableCapital: avail,
		Reserved:         l.current - avail,
		TotalProfit:      l.profit,
		TotalTrades:      l.trades,
		WinningTrades:    l.wins,
		LosingTrades:     l.losses,
		OpenOrders:       len(l.reserved),
	}
	if l.starting > 0 {
		s.ProfitPct = l.profit / l.starting * 100
	}
	if l.trades > 0 {
		s.WinRate = float64(l.wins) / float64(l.trades) * 100
	}
	return s
}
