package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// ProbabilityParams configures probability scalping.
type ProbabilityParams struct {
	PriceSumThreshold float64
	MinProfit         float64
	OrderSize         float64
	MaxPositionSize   float64
	MaxMarketsToScan  int
}

type scalpQuote struct {
	Market   domain.Market
	YesAsk   float64
	NoAsk    float64
	Total    float64
	PerShare float64
}

// Probability buys both sides of a market whose asks sum below one and holds
// the complete set to resolution.
type Probability struct {
	base
	params ProbabilityParams
}

// NewProbability creates the probability scalping strategy.
func NewProbability(params ProbabilityParams, deps Deps) *Probability {
	return &Probability{
		base:   newBase("Probability Scalping", domain.StrategyProbability, deps),
		params: params,
	}
}

func checkPriceSum(yes, no domain.OrderBook, p ProbabilityParams) (scalpQuote, bool) {
	yesAsk, ok1 := yes.BestAsk()
	noAsk, ok2 := no.BestAsk()
	if !ok1 || !ok2 {
		return scalpQuote{}, false
	}
	total := yesAsk + noAsk
	if total >= p.PriceSumThreshold {
		return scalpQuote{}, false
	}
	perShare := 1 - total
	if perShare < p.MinProfit {
		return scalpQuote{}, false
	}
	return scalpQuote{YesAsk: yesAsk, NoAsk: noAsk, Total: total, PerShare: perShare}, true
}

// ScanForSignal walks up to MaxMarketsToScan registry markets.
func (s *Probability) ScanForSignal(ctx context.Context) (*domain.Signal, error) {
	markets := s.deps.Markets.Active()
	if s.params.MaxMarketsToScan > 0 && len(markets) > s.params.MaxMarketsToScan {
		markets = markets[:s.params.MaxMarketsToScan]
	}
	var (
		lastErr       error
		tried, failed int
	)
	for _, mkt := range markets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !mkt.Sides.Resolved() || s.holds(mkt.ID) {
			continue
		}
		tried++
		yes, err := s.book(ctx, mkt.Sides.Up)
		if err != nil {
			failed++
			lastErr = err
			continue
		}
		no, err := s.book(ctx, mkt.Sides.Down)
		if err != nil {
			failed++
			lastErr = err
			continue
		}
		q, ok := checkPriceSum(yes, no, s.params)
		if !ok {
			continue
		}
		q.Market = mkt
		s.logger.InfoContext(ctx, "price sum opportunity",
			slog.String("market_id", mkt.ID),
			slog.Float64("yes_ask", q.YesAsk),
			slog.Float64("no_ask", q.NoAsk),
			slog.Float64("profit_per_share", q.PerShare),
		)
		return &domain.Signal{
			Strategy:  s.key,
			Source:    s.name,
			MarketID:  mkt.ID,
			Size:      min(s.params.MaxPositionSize, s.params.OrderSize),
			Expected:  q.PerShare,
			Reason:    fmt.Sprintf("asks sum %.4f", q.Total),
			Payload:   q,
			CreatedAt: s.deps.Now(),
		}, nil
	}
	if tried > 0 && failed == tried {
		return nil, lastErr
	}
	return nil, nil
}

// Execute buys an equal share count of both sides at the asks.
func (s *Probability) Execute(ctx context.Context, sig domain.Signal, simulate bool) (string, error) {
	q, ok := sig.Payload.(scalpQuote)
	if !ok {
		return "", fmt.Errorf("strategy/probability: execute: unexpected payload %T", sig.Payload)
	}
	usd := min(s.params.MaxPositionSize, s.params.OrderSize)
	shares := min(usd/q.YesAsk, usd/q.NoAsk)

	yesRef, err := s.deps.Venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: q.Market.Sides.Up, Price: q.YesAsk, Size: shares, Side: domain.OrderSideBuy,
	})
	if err != nil {
		return "", fmt.Errorf("strategy/probability: buy yes: %w", err)
	}
	noRef, err := s.deps.Venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: q.Market.Sides.Down, Price: q.NoAsk, Size: shares, Side: domain.OrderSideBuy,
	})
	if err != nil {
		cerr := s.cancelOrders(ctx, []domain.OrderRef{yesRef})
		return "", errors.Join(fmt.Errorf("strategy/probability: buy no: %w", err), cerr)
	}

	pos := s.newPosition(q.Market.ID)
	pos.Orders = []domain.OrderRef{yesRef, noRef}
	pos.Cost = shares * q.Total
	pos.Expected = shares * q.PerShare
	pos.State["shares"] = shares
	pos.State["simulated"] = simulate
	s.track(ctx, pos)

	s.logger.InfoContext(ctx, "complete set bought",
		slog.String("position_id", pos.ID),
		slog.Float64("shares", shares),
		slog.Float64("cost", pos.Cost),
		slog.Float64("expected_profit", pos.Expected),
		slog.Bool("simulated", simulate),
	)
	return pos.ID, nil
}

// MonitorOpenPositions closes positions whose market has left the registry or
// reached its end time. The complete set pays out one per share.
func (s *Probability) MonitorOpenPositions(ctx context.Context, _ bool) ([]string, error) {
	var closed []string
	now := s.deps.Now()
	for _, pos := range s.OpenPositions() {
		mkt, ok := s.deps.Markets.Get(pos.MarketID)
		if ok && !mkt.Expired(now) {
			continue
		}
		if _, done := s.close(ctx, pos.ID, domain.CloseFilled, pos.Expected); done {
			closed = append(closed, pos.ID)
		}
	}
	return closed, nil
}

// CancelAll is a no-op: positions are held to resolution.
func (s *Probability) CancelAll(ctx context.Context, _ bool) error {
	s.logger.InfoContext(ctx, "positions held until resolution", slog.Int("open", s.openCount()))
	return nil
}
