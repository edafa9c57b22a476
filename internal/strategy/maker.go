package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// Close P&L estimates when a maker position does not fill on both sides.
const (
	makerSimulatedMissPnL = -0.50
	makerPartialPnL       = -0.25
)

// MakerParams configures the spread-capture strategy.
type MakerParams struct {
	MinSpread        float64
	PriceOffset      float64
	OrderSize        float64
	MaxOpenPositions int
	PositionTimeout  time.Duration
	SimFillRate      float64
}

// makerQuote is the opaque payload of a maker signal.
type makerQuote struct {
	Market domain.Market
	YesAsk float64
	NoAsk  float64
	YesBid float64
	NoBid  float64
	Spread float64
	Profit float64
}

// Maker rests bids on both sides of a market whose asks sum to less than one
// and captures the spread when both bids fill.
type Maker struct {
	base
	params MakerParams
}

// NewMaker creates the maker strategy.
func NewMaker(params MakerParams, deps Deps) *Maker {
	return &Maker{
		base:   newBase("Maker Market Making", domain.StrategyMaker, deps),
		params: params,
	}
}

// analyzeSpread prices bids inside the spread of a market's two books.
func analyzeSpread(yes, no domain.OrderBook, p MakerParams) (makerQuote, bool) {
	yesAsk, ok1 := yes.BestAsk()
	noAsk, ok2 := no.BestAsk()
	if !ok1 || !ok2 {
		return makerQuote{}, false
	}
	spread := 1 - (yesAsk + noAsk)
	if spread < p.MinSpread {
		return makerQuote{}, false
	}
	profit := spread * p.OrderSize
	if profit <= 0 {
		return makerQuote{}, false
	}

	var yesBid, noBid float64
	yb, ok1 := yes.BestBid()
	nb, ok2 := no.BestBid()
	if ok1 && ok2 {
		yesBid = min(yb+p.PriceOffset, yesAsk-0.01)
		noBid = min(nb+p.PriceOffset, noAsk-0.01)
	} else {
		yesBid = yesAsk - p.PriceOffset
		noBid = noAsk - p.PriceOffset
	}
	return makerQuote{
		YesAsk: yesAsk,
		NoAsk:  noAsk,
		YesBid: clampPrice(yesBid),
		NoBid:  clampPrice(noBid),
		Spread: spread,
		Profit: profit,
	}, true
}

// ScanForSignal returns the first registry market with a wide enough spread.
// When every book fetch failed the last error is returned.
func (m *Maker) ScanForSignal(ctx context.Context) (*domain.Signal, error) {
	if m.openCount() >= m.params.MaxOpenPositions {
		return nil, nil
	}
	var (
		lastErr error
		tried   int
		failed  int
	)
	for _, mkt := range m.deps.Markets.Active() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !mkt.Sides.Resolved() || m.holds(mkt.ID) {
			continue
		}
		tried++
		yes, err := m.book(ctx, mkt.Sides.Up)
		if err == nil {
			var no domain.OrderBook
			if no, err = m.book(ctx, mkt.Sides.Down); err == nil {
				if q, ok := analyzeSpread(yes, no, m.params); ok {
					q.Market = mkt
					m.logger.InfoContext(ctx, "spread opportunity",
						slog.String("market_id", mkt.ID),
						slog.Float64("spread", q.Spread),
						slog.Float64("yes_bid", q.YesBid),
						slog.Float64("no_bid", q.NoBid),
					)
					return &domain.Signal{
						Strategy:  m.key,
						Source:    m.name,
						MarketID:  mkt.ID,
						Size:      m.params.OrderSize,
						Expected:  q.Profit,
						Reason:    fmt.Sprintf("spread %.4f", q.Spread),
						Payload:   q,
						CreatedAt: m.deps.Now(),
					}, nil
				}
				continue
			}
		}
		failed++
		lastErr = err
		m.logger.DebugContext(ctx, "book fetch failed",
			slog.String("market_id", mkt.ID),
			slog.String("error", err.Error()),
		)
	}
	if tried > 0 && failed == tried {
		return nil, lastErr
	}
	return nil, nil
}

// Execute places a bid on each side. A failed second leg cancels the first.
func (m *Maker) Execute(ctx context.Context, sig domain.Signal, simulate bool) (string, error) {
	q, ok := sig.Payload.(makerQuote)
	if !ok {
		return "", fmt.Errorf("strategy/maker: execute: unexpected payload %T", sig.Payload)
	}
	if n := m.openCount(); n >= m.params.MaxOpenPositions {
		m.logger.WarnContext(ctx, "max positions reached, skipping",
			slog.Int("open", n),
			slog.Int("max", m.params.MaxOpenPositions),
		)
		return "", nil
	}

	yesRef, err := m.deps.Venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: q.Market.Sides.Up,
		Price:   q.YesBid,
		Size:    m.params.OrderSize / q.YesBid,
		Side:    domain.OrderSideBuy,
	})
	if err != nil {
		return "", fmt.Errorf("strategy/maker: place yes: %w", err)
	}
	noRef, err := m.deps.Venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: q.Market.Sides.Down,
		Price:   q.NoBid,
		Size:    m.params.OrderSize / q.NoBid,
		Side:    domain.OrderSideBuy,
	})
	if err != nil {
		cerr := m.cancelOrders(ctx, []domain.OrderRef{yesRef})
		return "", errors.Join(fmt.Errorf("strategy/maker: place no: %w", err), cerr)
	}

	pos := m.newPosition(q.Market.ID)
	pos.Orders = []domain.OrderRef{yesRef, noRef}
	pos.Cost = 2 * m.params.OrderSize
	pos.Expected = q.Profit
	pos.State["spread"] = q.Spread
	pos.State["simulated"] = simulate
	pos.State["filled_yes"] = false
	pos.State["filled_no"] = false
	m.track(ctx, pos)

	m.logger.InfoContext(ctx, "maker orders placed",
		slog.String("position_id", pos.ID),
		slog.String("market_id", q.Market.ID),
		slog.Float64("yes_bid", q.YesBid),
		slog.Float64("no_bid", q.NoBid),
		slog.Bool("simulated", simulate),
	)
	return pos.ID, nil
}

// MonitorOpenPositions closes timed-out positions and those whose bids both
// filled. In simulate mode fills are drawn at SimFillRate.
func (m *Maker) MonitorOpenPositions(ctx context.Context, simulate bool) ([]string, error) {
	var (
		closed []string
		errs   []error
	)
	now := m.deps.Now()
	for _, pos := range m.OpenPositions() {
		if pos.Age(now) > m.params.PositionTimeout {
			if err := m.closeMaker(ctx, pos, domain.CloseTimeout, simulate); err != nil {
				errs = append(errs, err)
			}
			closed = append(closed, pos.ID)
			continue
		}

		if simulate {
			if m.deps.Rand() < m.params.SimFillRate {
				pos.State["filled_yes"], pos.State["filled_no"] = true, true
				if err := m.closeMaker(ctx, pos, domain.CloseFilled, simulate); err != nil {
					errs = append(errs, err)
				}
				closed = append(closed, pos.ID)
			}
			continue
		}

		yesFilled, noFilled, err := m.fills(ctx, pos)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.setState(pos.ID, "filled_yes", yesFilled)
		m.setState(pos.ID, "filled_no", noFilled)
		if yesFilled && noFilled {
			pos.State["filled_yes"], pos.State["filled_no"] = true, true
			if err := m.closeMaker(ctx, pos, domain.CloseFilled, simulate); err != nil {
				errs = append(errs, err)
			}
			closed = append(closed, pos.ID)
		}
	}
	return closed, errors.Join(errs...)
}

func (m *Maker) fills(ctx context.Context, pos domain.Position) (bool, bool, error) {
	if len(pos.Orders) != 2 {
		return false, false, fmt.Errorf("strategy/maker: position %s has %d orders", pos.ID, len(pos.Orders))
	}
	ys, err := m.deps.Venue.GetOrderStatus(ctx, pos.Orders[0])
	if err != nil {
		return false, false, fmt.Errorf("strategy/maker: status %s: %w", pos.Orders[0].ID, err)
	}
	ns, err := m.deps.Venue.GetOrderStatus(ctx, pos.Orders[1])
	if err != nil {
		return false, false, fmt.Errorf("strategy/maker: status %s: %w", pos.Orders[1].ID, err)
	}
	return ys.Filled(), ns.Filled(), nil
}

// closeMaker cancels what is still resting and books the realised P&L.
func (m *Maker) closeMaker(ctx context.Context, pos domain.Position, reason domain.CloseReason, simulate bool) error {
	yesFilled, _ := pos.State["filled_yes"].(bool)
	noFilled, _ := pos.State["filled_no"].(bool)

	var resting []domain.OrderRef
	for i, o := range pos.Orders {
		if simulate || (i == 0 && !yesFilled) || (i == 1 && !noFilled) {
			resting = append(resting, o)
		}
	}
	err := m.cancelOrders(ctx, resting)

	pnl := makerPartialPnL
	switch {
	case yesFilled && noFilled:
		pnl = pos.Expected
	case simulate:
		pnl = makerSimulatedMissPnL
	}
	m.close(ctx, pos.ID, reason, pnl)
	return err
}

// CancelAll closes every open position with reason shutdown.
func (m *Maker) CancelAll(ctx context.Context, simulate bool) error {
	var errs []error
	for _, pos := range m.OpenPositions() {
		if err := m.closeMaker(ctx, pos, domain.CloseShutdown, simulate); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.InfoContext(ctx, "all maker orders cancelled")
	return errors.Join(errs...)
}
