package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

func makerParams() MakerParams {
	return MakerParams{
		MinSpread:        0.05,
		PriceOffset:      0.01,
		OrderSize:        2,
		MaxOpenPositions: 3,
		PositionTimeout:  180 * time.Second,
		SimFillRate:      0.3,
	}
}

type makerFixture struct {
	venue   *fakeVenue
	markets *fakeMarkets
	clock   *testClock
	events  *positionLog
	roll    float64
	maker   *Maker
}

func newMakerFixture(p MakerParams) *makerFixture {
	f := &makerFixture{
		venue:  newFakeVenue(),
		clock:  &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
		events: &positionLog{},
		roll:   0.9,
	}
	f.markets = &fakeMarkets{markets: []domain.Market{market("m1", "BTC up or down", f.clock.Now().Add(time.Hour))}}
	f.venue.setBook("m1-yes", []float64{0.40}, []float64{0.45})
	f.venue.setBook("m1-no", []float64{0.46}, []float64{0.48})
	f.maker = NewMaker(p, Deps{
		Venue:      f.venue,
		Markets:    f.markets,
		Logger:     testLogger(),
		Now:        f.clock.Now,
		Rand:       func() float64 { return f.roll },
		OnPosition: f.events.observe,
	})
	return f
}

func (f *makerFixture) open(t *testing.T, simulate bool) string {
	t.Helper()
	sig, err := f.maker.ScanForSignal(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)
	id, err := f.maker.Execute(context.Background(), *sig, simulate)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestAnalyzeSpreadPricesInsideTheSpread(t *testing.T) {
	yes := domain.OrderBook{Bids: []domain.PriceLevel{{Price: 0.40}}, Asks: []domain.PriceLevel{{Price: 0.45}}}
	no := domain.OrderBook{Bids: []domain.PriceLevel{{Price: 0.46}}, Asks: []domain.PriceLevel{{Price: 0.48}}}

	q, ok := analyzeSpread(yes, no, makerParams())
	require.True(t, ok)
	assert.InDelta(t, 0.07, q.Spread, 1e-9)
	assert.InDelta(t, 0.14, q.Profit, 1e-9)
	assert.InDelta(t, 0.41, q.YesBid, 1e-9)
	// best bid + offset would touch the ask, so it is capped one tick below.
	assert.InDelta(t, 0.47, q.NoBid, 1e-9)
}

func TestAnalyzeSpreadRejectsNarrowSpread(t *testing.T) {
	yes := domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.50}}}
	no := domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.48}}}
	_, ok := analyzeSpread(yes, no, makerParams())
	assert.False(t, ok)

	_, ok = analyzeSpread(domain.OrderBook{}, no, makerParams())
	assert.False(t, ok)
}

func TestAnalyzeSpreadWithoutBidsQuotesBelowAsk(t *testing.T) {
	yes := domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.40}}}
	no := domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.005}}}
	q, ok := analyzeSpread(yes, no, makerParams())
	require.True(t, ok)
	assert.InDelta(t, 0.39, q.YesBid, 1e-9)
	assert.InDelta(t, 0.01, q.NoBid, 1e-9, "clamped to the minimum tick")
}

func TestMakerExecutePlacesBothBids(t *testing.T) {
	f := newMakerFixture(makerParams())
	id := f.open(t, true)

	orders := f.venue.placedOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, "m1-yes", orders[0].TokenID)
	assert.InDelta(t, 0.41, orders[0].Price, 1e-9)
	assert.InDelta(t, 2/0.41, orders[0].Size, 1e-9)
	assert.Equal(t, domain.OrderSideBuy, orders[0].Side)
	assert.Equal(t, "m1-no", orders[1].TokenID)

	open := f.maker.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)
	assert.Equal(t, domain.StrategyMaker, open[0].Strategy)
	require.Len(t, f.events.list(), 1)
	assert.Equal(t, domain.PositionStatusOpen, f.events.list()[0].Status)
}

func TestMakerSkipsHeldMarketsAndRespectsMax(t *testing.T) {
	p := makerParams()
	p.MaxOpenPositions = 1
	f := newMakerFixture(p)
	f.open(t, true)

	sig, err := f.maker.ScanForSignal(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)

	id, err := f.maker.Execute(context.Background(), domain.Signal{Payload: makerQuote{Market: f.markets.markets[0], YesBid: 0.4, NoBid: 0.4}}, true)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMakerSecondLegFailureCancelsFirst(t *testing.T) {
	f := newMakerFixture(makerParams())
	f.venue.failPlace = 2
	sig, err := f.maker.ScanForSignal(context.Background())
	require.NoError(t, err)

	_, err = f.maker.Execute(context.Background(), *sig, false)
	require.Error(t, err)
	assert.Equal(t, []string{"o1"}, f.venue.cancelledIDs())
	assert.Empty(t, f.maker.OpenPositions())
}

func TestMakerScanReportsWhenEveryBookFails(t *testing.T) {
	f := newMakerFixture(makerParams())
	f.venue.bookErr = domain.Transient(assert.AnError)
	_, err := f.maker.ScanForSignal(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.Classify(err))
}

func TestMakerSimulatedFill(t *testing.T) {
	f := newMakerFixture(makerParams())
	id := f.open(t, true)

	closed, err := f.maker.MonitorOpenPositions(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, closed, "roll above the fill rate")

	f.roll = 0.1
	closed, err = f.maker.MonitorOpenPositions(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, closed)

	perf := f.maker.Performance()
	assert.Equal(t, 1, perf.TotalTrades)
	assert.Equal(t, 1, perf.Wins)
	assert.InDelta(t, 0.14, perf.TotalProfit, 1e-9)
	assert.Zero(t, perf.OpenPositions)

	events := f.events.list()
	require.Len(t, events, 2)
	assert.Equal(t, domain.CloseFilled, events[1].Reason)
}

func TestMakerSimulatedTimeout(t *testing.T) {
	f := newMakerFixture(makerParams())
	id := f.open(t, true)

	f.clock.Advance(181 * time.Second)
	closed, err := f.maker.MonitorOpenPositions(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, closed)
	assert.ElementsMatch(t, []string{"o1", "o2"}, f.venue.cancelledIDs())

	perf := f.maker.Performance()
	assert.Equal(t, 1, perf.Losses)
	assert.InDelta(t, -0.50, perf.TotalProfit, 1e-9)
}

func TestMakerLiveFillAndPartialTimeout(t *testing.T) {
	f := newMakerFixture(makerParams())
	id := f.open(t, false)

	f.venue.fill("o1")
	f.venue.fill("o2")
	closed, err := f.maker.MonitorOpenPositions(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, closed)
	assert.Empty(t, f.venue.cancelledIDs())
	assert.InDelta(t, 0.14, f.maker.Performance().TotalProfit, 1e-9)

	// A second market position that only fills on one side.
	f.markets.remove("m1")
	f.markets.markets = append(f.markets.markets, market("m2", "ETH", f.clock.Now().Add(time.Hour)))
	f.venue.setBook("m2-yes", []float64{0.40}, []float64{0.45})
	f.venue.setBook("m2-no", []float64{0.46}, []float64{0.48})
	id2 := f.open(t, false)
	f.venue.fill("o3")

	closed, err = f.maker.MonitorOpenPositions(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, closed)

	f.clock.Advance(181 * time.Second)
	closed, err = f.maker.MonitorOpenPositions(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{id2}, closed)
	assert.Equal(t, []string{"o4"}, f.venue.cancelledIDs())
	assert.InDelta(t, 0.14-0.25, f.maker.Performance().TotalProfit, 1e-9)
}

func TestMakerCancelAllClosesWithShutdown(t *testing.T) {
	f := newMakerFixture(makerParams())
	f.open(t, true)

	require.NoError(t, f.maker.CancelAll(context.Background(), true))
	assert.Empty(t, f.maker.OpenPositions())
	events := f.events.list()
	assert.Equal(t, domain.CloseShutdown, events[len(events)-1].Reason)
}
