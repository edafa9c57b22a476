package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

type staticBooks map[string]domain.OrderBook

func (b staticBooks) GetOrderBook(_ context.Context, token string) (domain.OrderBook, error) {
	ob, ok := b[token]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return ob, nil
}

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func books() staticBooks {
	return staticBooks{
		"yes": {
			TokenID: "yes",
			Bids:    []domain.PriceLevel{{Price: 0.40, Size: 50}},
			Asks:    []domain.PriceLevel{{Price: 0.45, Size: 50}},
		},
	}
}

func TestLedgerReserveAndRelease(t *testing.T) {
	l := NewLedger(10, discard())
	require.NoError(t, l.Reserve("a", 6))
	assert.True(t, l.CanPlace(4))
	assert.False(t, l.CanPlace(4.01))

	err := l.Reserve("b", 5)
	require.ErrorIs(t, err, domain.ErrNoCapital)

	assert.Equal(t, 6.0, l.Release("a"))
	assert.Zero(t, l.Release("a"))
	assert.True(t, l.CanPlace(10))
}

func TestLedgerSettle(t *testing.T) {
	l := NewLedger(100, discard())
	require.NoError(t, l.Reserve("o1", 2))
	require.NoError(t, l.Reserve("o2", 2))
	require.NoError(t, l.Reserve("o3", 5))

	l.Settle(context.Background(), domain.Position{
		ID:     "p1",
		Orders: []domain.OrderRef{{ID: "o1"}, {ID: "o2"}},
		PnL:    0.5,
	})
	l.Settle(context.Background(), domain.Position{ID: "p2", PnL: -0.25})

	s := l.Summary()
	assert.InDelta(t, 100.25, s.CurrentCapital, 1e-9)
	assert.InDelta(t, 95.25, s.AvailableCapital, 1e-9)
	assert.InDelta(t, 5, s.Reserved, 1e-9)
	assert.InDelta(t, 0.25, s.TotalProfit, 1e-9)
	assert.InDelta(t, 0.25, s.ProfitPct, 1e-9)
	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 1, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.Equal(t, 50.0, s.WinRate)
	assert.Equal(t, 1, s.OpenOrders)
}

func TestVenueRestingBuyReservesUntilCancelled(t *testing.T) {
	l := NewLedger(10, discard())
	v := NewVenue(books(), l, discard())
	ctx := context.Background()

	ref, err := v.PlaceOrder(ctx, domain.OrderRequest{TokenID: "yes", Price: 0.41, Size: 10, Side: domain.OrderSideBuy})
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ID)

	st, err := v.GetOrderStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, st)
	assert.InDelta(t, 5.9, l.Summary().AvailableCapital, 1e-9)

	require.NoError(t, v.CancelOrder(ctx, ref))
	st, err = v.GetOrderStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, st)
	assert.InDelta(t, 10, l.Summary().AvailableCapital, 1e-9)
}

func TestVenueMarketableOrdersMatch(t *testing.T) {
	v := NewVenue(books(), NewLedger(10, discard()), discard())
	ctx := context.Background()

	buy, err := v.PlaceOrder(ctx, domain.OrderRequest{TokenID: "yes", Price: 0.46, Size: 1, Side: domain.OrderSideBuy})
	require.NoError(t, err)
	st, _ := v.GetOrderStatus(ctx, buy)
	assert.Equal(t, domain.OrderStatusMatched, st)

	sell, err := v.PlaceOrder(ctx, domain.OrderRequest{TokenID: "yes", Price: 0.40, Size: 1, Side: domain.OrderSideSell})
	require.NoError(t, err)
	st, _ = v.GetOrderStatus(ctx, sell)
	assert.Equal(t, domain.OrderStatusMatched, st)

	// Cancelling a matched order leaves it matched.
	require.NoError(t, v.CancelOrder(ctx, buy))
	st, _ = v.GetOrderStatus(ctx, buy)
	assert.Equal(t, domain.OrderStatusMatched, st)

	assert.Len(t, v.Orders(), 2)
}

func TestVenueRejects(t *testing.T) {
	v := NewVenue(books(), NewLedger(1, discard()), discard())
	ctx := context.Background()

	_, err := v.PlaceOrder(ctx, domain.OrderRequest{TokenID: "yes", Price: 1.2, Size: 1, Side: domain.OrderSideBuy})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = v.PlaceOrder(ctx, domain.OrderRequest{TokenID: "yes", Price: 0.5, Size: 10, Side: domain.OrderSideBuy})
	require.ErrorIs(t, err, domain.ErrNoCapital)

	err = v.CancelOrder(ctx, domain.OrderRef{ID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = v.GetOrderBook(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
