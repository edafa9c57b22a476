package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

type fakeVenue struct {
	mu        sync.Mutex
	books     map[string]domain.OrderBook
	bookErr   error
	placed    []domain.OrderRequest
	failPlace int // 1-based index of the placement to reject
	cancelled []string
	status    map[string]domain.OrderStatus
	seq       int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		books:  make(map[string]domain.OrderBook),
		status: make(map[string]domain.OrderStatus),
	}
}

func (v *fakeVenue) setBook(token string, bids, asks []float64) {
	ob := domain.OrderBook{TokenID: token}
	for _, p := range bids {
		ob.Bids = append(ob.Bids, domain.PriceLevel{Price: p, Size: 100})
	}
	for _, p := range asks {
		ob.Asks = append(ob.Asks, domain.PriceLevel{Price: p, Size: 100})
	}
	v.mu.Lock()
	v.books[token] = ob
	v.mu.Unlock()
}

func (v *fakeVenue) GetOrderBook(_ context.Context, token string) (domain.OrderBook, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bookErr != nil {
		return domain.OrderBook{}, v.bookErr
	}
	ob, ok := v.books[token]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return ob, nil
}

func (v *fakeVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderRef, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	if v.failPlace == v.seq {
		return domain.OrderRef{}, errors.New("order rejected")
	}
	v.placed = append(v.placed, req)
	id := fmt.Sprintf("o%d", v.seq)
	v.status[id] = domain.OrderStatusOpen
	return domain.OrderRef{ID: id, TokenID: req.TokenID, Price: req.Price, Size: req.Size, Side: req.Side}, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, ref domain.OrderRef) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, ref.ID)
	v.status[ref.ID] = domain.OrderStatusCancelled
	return nil
}

func (v *fakeVenue) GetOrderStatus(_ context.Context, ref domain.OrderRef) (domain.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.status[ref.ID]
	if !ok {
		return domain.OrderStatusUnknown, domain.ErrNotFound
	}
	return st, nil
}

func (v *fakeVenue) fill(id string) {
	v.mu.Lock()
	v.status[id] = domain.OrderStatusMatched
	v.mu.Unlock()
}

func (v *fakeVenue) placedOrders() []domain.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.OrderRequest(nil), v.placed...)
}

func (v *fakeVenue) cancelledIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.cancelled...)
}

type fakeMarkets struct {
	mu      sync.Mutex
	markets []domain.Market
}

func (f *fakeMarkets) Active() []domain.Market {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Market(nil), f.markets...)
}

func (f *fakeMarkets) Get(id string) (domain.Market, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.markets {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Market{}, false
}

func (f *fakeMarkets) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.markets {
		if m.ID == id {
			f.markets = append(f.markets[:i], f.markets[i+1:]...)
			return
		}
	}
}

func market(id, question string, end time.Time) domain.Market {
	return domain.Market{
		ID:       id,
		Question: question,
		EndTime:  end,
		Sides:    domain.Sides{Up: id + "-yes", Down: id + "-no"},
	}
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type positionLog struct {
	mu     sync.Mutex
	events []domain.Position
}

func (l *positionLog) observe(_ context.Context, p domain.Position) {
	l.mu.Lock()
	l.events = append(l.events, p)
	l.mu.Unlock()
}

func (l *positionLog) list() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Position(nil), l.events...)
}
