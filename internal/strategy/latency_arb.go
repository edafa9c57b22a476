package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/platform/binance"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/spike"
)

// LatencyParams configures the spot-feed latency arbitrage strategy.
type LatencyParams struct {
	MarketKeywords      []string
	OrderSize           float64
	MaxPositionSize     float64
	MaxOpenPositions    int
	EntryThresholdUp    float64
	EntryThresholdDown  float64
	ProfitTargetUp      float64
	ProfitTargetDown    float64
	DailyTradeLimit     int
	DailyLossLimit      float64
	MaxHold             time.Duration
	SimulatedExitAfter  time.Duration
	EntrySlippageFactor float64
}

// PriceFeed is the secondary price stream the strategy owns.
// *stream.Connection satisfies it.
type PriceFeed interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe(ctx context.Context, id string) error
	IsHealthy() bool
}

type latencyEntry struct {
	Market  domain.Market
	Spike   domain.SpikeEvent
	TokenID string
	Side    string // YES or NO
	Entry   float64
	Target  float64
}

// LatencyArb trades a market in the direction of a sharp spot move before the
// market's prices catch up.
type LatencyArb struct {
	base
	params   LatencyParams
	detector *spike.Detector

	feed   PriceFeed
	symbol string

	dayMu       sync.Mutex
	day         string
	dailyTrades int
	dailyLoss   float64
	lastPrice   float64
}

// NewLatencyArb creates the strategy around a spike detector. Attach the
// price feed with UseFeed before Start.
func NewLatencyArb(params LatencyParams, deps Deps, detector *spike.Detector) *LatencyArb {
	kw := make([]string, 0, len(params.MarketKeywords))
	for _, k := range params.MarketKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	params.MarketKeywords = kw
	return &LatencyArb{
		base:     newBase("Latency Arbitrage", domain.StrategyLatency, deps),
		params:   params,
		detector: detector,
	}
}

// UseFeed attaches the spot feed and the symbol to subscribe on Start.
func (l *LatencyArb) UseFeed(feed PriceFeed, symbol string) {
	l.feed = feed
	l.symbol = symbol
}

// Start connects the spot feed and subscribes the symbol.
func (l *LatencyArb) Start(ctx context.Context) error {
	if l.feed == nil {
		return errors.New("strategy/latency: no price feed attached")
	}
	if err := l.feed.Start(ctx); err != nil {
		return fmt.Errorf("strategy/latency: start feed: %w", err)
	}
	if err := l.feed.Subscribe(ctx, l.symbol); err != nil {
		l.logger.WarnContext(ctx, "symbol subscribe failed, will resend on reconnect",
			slog.String("symbol", l.symbol),
			slog.String("error", err.Error()),
		)
	}
	l.logger.InfoContext(ctx, "spot feed started", slog.String("symbol", l.symbol))
	return nil
}

// Stop closes the spot feed.
func (l *LatencyArb) Stop(ctx context.Context) error {
	if l.feed != nil {
		l.feed.Stop()
	}
	l.logger.InfoContext(ctx, "spot feed stopped")
	return nil
}

// HandleTrade feeds a spot print into the detector. It is the message
// handler of the owned feed.
func (l *LatencyArb) HandleTrade(ctx context.Context, msg domain.StreamMessage) {
	tr, err := binance.ParseTrade(msg.Payload)
	if err != nil {
		if !errors.Is(err, binance.ErrNotTrade) {
			l.logger.DebugContext(ctx, "spot frame discarded", slog.String("error", err.Error()))
		}
		return
	}
	at := tr.At
	if at.IsZero() {
		at = msg.ReceivedAt
	}
	l.detector.AddSample(tr.Price, at)
	l.dayMu.Lock()
	l.lastPrice = tr.Price
	l.dayMu.Unlock()
}

// rollDay resets the daily counters when the UTC date changes.
func (l *LatencyArb) rollDay() {
	today := l.deps.Now().UTC().Format(time.DateOnly)
	l.dayMu.Lock()
	defer l.dayMu.Unlock()
	if l.day != today {
		if l.day != "" {
			l.logger.Info("new day, daily limits reset")
		}
		l.day = today
		l.dailyTrades = 0
		l.dailyLoss = 0
	}
}

func (l *LatencyArb) limitReached() bool {
	l.dayMu.Lock()
	defer l.dayMu.Unlock()
	return l.dailyTrades >= l.params.DailyTradeLimit || l.dailyLoss >= l.params.DailyLossLimit
}

// targetMarket returns the first registry market whose question matches a
// keyword.
func (l *LatencyArb) targetMarket() (domain.Market, bool) {
	for _, m := range l.deps.Markets.Active() {
		if !m.Sides.Resolved() {
			continue
		}
		q := strings.ToLower(m.Question)
		for _, k := range l.params.MarketKeywords {
			if strings.Contains(q, k) {
				return m, true
			}
		}
	}
	return domain.Market{}, false
}

// ScanForSignal checks limits and the detector, then compares the market's
// prices against the entry thresholds for the spike direction.
func (l *LatencyArb) ScanForSignal(ctx context.Context) (*domain.Signal, error) {
	l.rollDay()
	if l.limitReached() {
		l.logger.DebugContext(ctx, "daily limit reached")
		return nil, nil
	}
	if l.openCount() >= l.params.MaxOpenPositions {
		return nil, nil
	}
	if l.feed != nil && !l.feed.IsHealthy() {
		return nil, nil
	}
	ev := l.detector.Detect()
	if ev == nil {
		return nil, nil
	}
	l.logger.InfoContext(ctx, "spot spike",
		slog.String("spike_id", ev.ID),
		slog.String("direction", string(ev.Direction)),
		slog.Float64("delta", ev.Delta),
		slog.Float64("old_price", ev.OldPrice),
		slog.Float64("new_price", ev.NewPrice),
	)

	mkt, ok := l.targetMarket()
	if !ok {
		l.logger.DebugContext(ctx, "no target market in registry")
		return nil, nil
	}
	yes, err := l.book(ctx, mkt.Sides.Up)
	if err != nil {
		return nil, err
	}
	yesAsk, ok := yes.BestAsk()
	if !ok {
		return nil, nil
	}

	entry := latencyEntry{Market: mkt, Spike: *ev}
	switch {
	case ev.Direction == domain.SpikeUp && yesAsk < l.params.EntryThresholdUp:
		entry.TokenID, entry.Side = mkt.Sides.Up, "YES"
		entry.Entry, entry.Target = yesAsk, l.params.ProfitTargetUp
	case ev.Direction == domain.SpikeDown && yesAsk > l.params.EntryThresholdDown:
		no, err := l.book(ctx, mkt.Sides.Down)
		if err != nil {
			return nil, err
		}
		noAsk, ok := no.BestAsk()
		if !ok {
			return nil, nil
		}
		entry.TokenID, entry.Side = mkt.Sides.Down, "NO"
		entry.Entry, entry.Target = noAsk, l.params.ProfitTargetDown
	default:
		l.logger.DebugContext(ctx, "market already priced the move",
			slog.String("market_id", mkt.ID),
			slog.Float64("yes_ask", yesAsk),
		)
		return nil, nil
	}

	return &domain.Signal{
		Strategy:  l.key,
		Source:    l.name,
		MarketID:  mkt.ID,
		Size:      l.positionUSD(),
		Expected:  entry.Target - entry.Entry,
		Reason:    fmt.Sprintf("spot %s %+.2f, buy %s at %.3f", ev.Direction, ev.Delta, entry.Side, entry.Entry),
		Payload:   entry,
		CreatedAt: l.deps.Now(),
	}, nil
}

func (l *LatencyArb) positionUSD() float64 {
	return min(l.params.MaxPositionSize, l.params.OrderSize*2)
}

// Execute buys the lagging side slightly above the ask.
func (l *LatencyArb) Execute(ctx context.Context, sig domain.Signal, simulate bool) (string, error) {
	e, ok := sig.Payload.(latencyEntry)
	if !ok {
		return "", fmt.Errorf("strategy/latency: execute: unexpected payload %T", sig.Payload)
	}
	l.rollDay()
	if l.limitReached() {
		return "", nil
	}
	usd := l.positionUSD()
	shares := usd / e.Entry
	price := min(e.Entry*l.params.EntrySlippageFactor, maxPrice)

	ref, err := l.deps.Venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: e.TokenID,
		Price:   price,
		Size:    shares,
		Side:    domain.OrderSideBuy,
	})
	if err != nil {
		return "", fmt.Errorf("strategy/latency: buy %s: %w", e.Side, err)
	}

	pos := l.newPosition(e.Market.ID)
	pos.Orders = []domain.OrderRef{ref}
	pos.Cost = shares * price
	pos.Expected = (e.Target - e.Entry) * shares
	pos.State["side"] = e.Side
	pos.State["token_id"] = e.TokenID
	pos.State["entry_price"] = e.Entry
	pos.State["target_price"] = e.Target
	pos.State["shares"] = shares
	pos.State["spike_id"] = e.Spike.ID
	pos.State["simulated"] = simulate
	l.track(ctx, pos)

	l.dayMu.Lock()
	l.dailyTrades++
	l.dayMu.Unlock()

	l.logger.InfoContext(ctx, "latency entry",
		slog.String("position_id", pos.ID),
		slog.String("side", e.Side),
		slog.Float64("price", price),
		slog.Float64("shares", shares),
		slog.Float64("expected_profit", pos.Expected),
		slog.Bool("simulated", simulate),
	)
	return pos.ID, nil
}

// MonitorOpenPositions exits at the profit target or after MaxHold. In
// simulate mode a position closes at its target after SimulatedExitAfter.
func (l *LatencyArb) MonitorOpenPositions(ctx context.Context, simulate bool) ([]string, error) {
	var (
		closed []string
		errs   []error
	)
	now := l.deps.Now()
	for _, pos := range l.OpenPositions() {
		held := pos.Age(now)
		if simulate {
			if held > l.params.SimulatedExitAfter {
				l.settle(ctx, pos, domain.CloseFilled, pos.Expected)
				closed = append(closed, pos.ID)
			}
			continue
		}

		reason, pnl, exit, err := l.evaluateExit(ctx, pos, held)
		if err != nil {
			errs = append(errs, err)
		}
		if !exit {
			continue
		}
		l.settle(ctx, pos, reason, pnl)
		closed = append(closed, pos.ID)
	}
	return closed, errors.Join(errs...)
}

// evaluateExit sells at the best bid once it reaches the target or the hold
// time runs out.
func (l *LatencyArb) evaluateExit(ctx context.Context, pos domain.Position, held time.Duration) (domain.CloseReason, float64, bool, error) {
	token, _ := pos.State["token_id"].(string)
	entry, _ := pos.State["entry_price"].(float64)
	target, _ := pos.State["target_price"].(float64)
	shares, _ := pos.State["shares"].(float64)
	timedOut := held > l.params.MaxHold

	ob, err := l.book(ctx, token)
	if err != nil {
		if timedOut {
			return domain.CloseTimeout, 0, true, err
		}
		return "", 0, false, err
	}
	bid, ok := ob.BestBid()
	hit := ok && bid >= target
	if !hit && !timedOut {
		return "", 0, false, nil
	}
	reason := domain.CloseTimeout
	if hit {
		reason = domain.CloseFilled
	}
	if !ok {
		return reason, 0, true, nil
	}
	if _, err := l.deps.Venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: token,
		Price:   bid,
		Size:    shares,
		Side:    domain.OrderSideSell,
	}); err != nil {
		return reason, 0, true, fmt.Errorf("strategy/latency: exit %s: %w", pos.ID, err)
	}
	return reason, (bid - entry) * shares, true, nil
}

func (l *LatencyArb) settle(ctx context.Context, pos domain.Position, reason domain.CloseReason, pnl float64) {
	if _, ok := l.close(ctx, pos.ID, reason, pnl); !ok {
		return
	}
	if pnl < 0 {
		l.dayMu.Lock()
		l.dailyLoss += -pnl
		l.dayMu.Unlock()
	}
}

// CancelAll closes every open position with reason shutdown. Unfilled entry
// orders are cancelled.
func (l *LatencyArb) CancelAll(ctx context.Context, simulate bool) error {
	var errs []error
	for _, pos := range l.OpenPositions() {
		for _, o := range pos.Orders {
			if !simulate {
				st, err := l.deps.Venue.GetOrderStatus(ctx, o)
				if err == nil && st.Filled() {
					continue
				}
			}
			if err := l.cancelOrders(ctx, []domain.OrderRef{o}); err != nil {
				errs = append(errs, err)
			}
		}
		l.settle(ctx, pos, domain.CloseShutdown, 0)
	}
	return errors.Join(errs...)
}

// LatencyStats is the strategy's live view for the performance API.
type LatencyStats struct {
	FeedHealthy       bool        `json:"feed_healthy"`
	LastSpotPrice     float64     `json:"last_spot_price"`
	DailyTrades       int         `json:"daily_trades"`
	DailyLoss         float64     `json:"daily_loss"`
	DailyLimitReached bool        `json:"daily_limit_reached"`
	Spikes            spike.Stats `json:"spike_detector"`
}

// Stats returns feed, detector and daily-limit state.
func (l *LatencyArb) Stats() LatencyStats {
	l.dayMu.Lock()
	st := LatencyStats{
		LastSpotPrice:     l.lastPrice,
		DailyTrades:       l.dailyTrades,
		DailyLoss:         l.dailyLoss,
		DailyLimitReached: l.dailyTrades >= l.params.DailyTradeLimit || l.dailyLoss >= l.params.DailyLossLimit,
	}
	l.dayMu.Unlock()
	st.FeedHealthy = l.feed != nil && l.feed.IsHealthy()
	st.Spikes = l.detector.Stats()
	return st
}

// Inspect reports Stats in the orchestrator's performance summary.
func (l *LatencyArb) Inspect() any { return l.Stats() }
