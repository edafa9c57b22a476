package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

const (
	bookTimeout = 5 * time.Second
	minPrice    = 0.01
	maxPrice    = 0.99
)

// base carries what every strategy shares: identity, collaborators and the
// owned position set with its trade record.
type base struct {
	name string
	key  domain.StrategyKey
	deps Deps

	logger *slog.Logger

	mu        sync.Mutex
	open      map[string]*domain.Position
	trades    int
	wins      int
	losses    int
	profit    float64
	lastTrade *time.Time
}

func newBase(name string, key domain.StrategyKey, deps Deps) base {
	deps = deps.withDefaults()
	return base{
		name:   name,
		key:    key,
		deps:   deps,
		logger: deps.Logger.With(slog.String("strategy", string(key))),
		open:   make(map[string]*domain.Position),
	}
}

// Name returns the display name.
func (b *base) Name() string { return b.name }

// Key returns the allocation and priority category.
func (b *base) Key() domain.StrategyKey { return b.key }

// Performance returns the strategy's trade record.
func (b *base) Performance() domain.Performance {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := domain.Performance{
		Name:          b.name,
		Key:           b.key,
		Enabled:       true,
		TotalTrades:   b.trades,
		Wins:          b.wins,
		Losses:        b.losses,
		TotalProfit:   b.profit,
		OpenPositions: len(b.open),
	}
	if b.trades > 0 {
		p.WinRate = float64(b.wins) / float64(b.trades) * 100
	}
	if b.lastTrade != nil {
		t := *b.lastTrade
		p.LastTradeAt = &t
	}
	return p
}

// OpenPositions returns copies of the open positions, oldest first.
func (b *base) OpenPositions() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.open))
	for _, p := range b.open {
		out = append(out, clonePosition(*p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (b *base) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

func (b *base) holds(marketID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.open {
		if p.MarketID == marketID {
			return true
		}
	}
	return false
}

func (b *base) newPosition(marketID string) domain.Position {
	return domain.Position{
		ID:       fmt.Sprintf("%s-%s", b.key, uuid.NewString()[:8]),
		Strategy: b.key,
		MarketID: marketID,
		Status:   domain.PositionStatusOpen,
		OpenedAt: b.deps.Now(),
		State:    map[string]any{},
	}
}

func (b *base) track(ctx context.Context, p domain.Position) {
	b.mu.Lock()
	stored := clonePosition(p)
	b.open[p.ID] = &stored
	b.mu.Unlock()
	b.observe(ctx, p)
}

// setState updates one key of an open position's opaque state.
func (b *base) setState(id, key string, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.open[id]; ok {
		p.State[key] = v
	}
}

// close removes an open position and records the realised trade.
func (b *base) close(ctx context.Context, id string, reason domain.CloseReason, pnl float64) (domain.Position, bool) {
	now := b.deps.Now()
	b.mu.Lock()
	p, ok := b.open[id]
	if !ok {
		b.mu.Unlock()
		return domain.Position{}, false
	}
	delete(b.open, id)
	p.Close(reason, pnl, now)
	b.trades++
	b.profit += pnl
	if pnl > 0 {
		b.wins++
	} else {
		b.losses++
	}
	b.lastTrade = &now
	closed := clonePosition(*p)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", id),
		slog.String("reason", string(reason)),
		slog.Float64("pnl", pnl),
	)
	b.observe(ctx, closed)
	return closed, true
}

func (b *base) observe(ctx context.Context, p domain.Position) {
	if b.deps.OnPosition != nil {
		b.deps.OnPosition(ctx, p)
	}
}

// book fetches an order book with the short order-book timeout.
func (b *base) book(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	ctx, cancel := context.WithTimeout(ctx, bookTimeout)
	defer cancel()
	ob, err := b.deps.Venue.GetOrderBook(ctx, tokenID)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("strategy/%s: order book %s: %w", b.key, tokenID, err)
	}
	return ob, nil
}

// cancelOrders cancels each order and returns the first failure.
func (b *base) cancelOrders(ctx context.Context, orders []domain.OrderRef) error {
	var first error
	for _, o := range orders {
		if err := b.deps.Venue.CancelOrder(ctx, o); err != nil {
			b.logger.WarnContext(ctx, "cancel failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			if first == nil {
				first = fmt.Errorf("strategy/%s: cancel %s: %w", b.key, o.ID, err)
			}
		}
	}
	return first
}

func clonePosition(p domain.Position) domain.Position {
	p.Orders = append([]domain.OrderRef(nil), p.Orders...)
	if p.State != nil {
		st := make(map[string]any, len(p.State))
		for k, v := range p.State {
			st[k] = v
		}
		p.State = st
	}
	return p
}

func clampPrice(p float64) float64 {
	return max(minPrice, min(maxPrice, p))
}
