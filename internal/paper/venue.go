package paper

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

// BookSource supplies live order books.
type BookSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)
}

// Venue implements domain.Venue without touching the exchange. Books come
// from the real source; orders are recorded locally and backed by the ledger.
type Venue struct {
	books  BookSource
	ledger *Ledger
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	orders map[string]*order
}

type order struct {
	ref    domain.OrderRef
	status domain.OrderStatus
}

// NewVenue creates a paper venue.
func NewVenue(books BookSource, ledger *Ledger, logger *slog.Logger) *Venue {
	return &Venue{
		books:  books,
		ledger: ledger,
		now:    time.Now,
		logger: logger.With(slog.String("component", "paper_venue")),
		orders: make(map[string]*order),
	}
}

// GetOrderBook reads the live book.
func (v *Venue) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	return v.books.GetOrderBook(ctx, tokenID)
}

// PlaceOrder records a simulated order. Buys reserve price*size of capital.
// An order priced through the opposite side of the current book is matched
// immediately; otherwise it rests.
func (v *Venue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderRef, error) {
	if req.Price <= 0 || req.Price >= 1 || req.Size <= 0 {
		return domain.OrderRef{}, fmt.Errorf("paper: place %s %.4f@%.4f: %w", req.Side, req.Size, req.Price, domain.ErrInvalidOrder)
	}
	ref := domain.OrderRef{
		ID:       "paper-" + uuid.NewString(),
		TokenID:  req.TokenID,
		Price:    req.Price,
		Size:     req.Size,
		Side:     req.Side,
		PlacedAt: v.now(),
	}
	if req.Side == domain.OrderSideBuy {
		if err := v.ledger.Reserve(ref.ID, req.Notional()); err != nil {
			return domain.OrderRef{}, err
		}
	}

	status := domain.OrderStatusOpen
	if v.marketable(ctx, req) {
		status = domain.OrderStatusMatched
	}
	v.mu.Lock()
	v.orders[ref.ID] = &order{ref: ref, status: status}
	v.mu.Unlock()

	v.logger.InfoContext(ctx, "simulated order",
		slog.String("order_id", ref.ID),
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.Float64("price", req.Price),
		slog.Float64("size", req.Size),
		slog.String("status", string(status)),
	)
	return ref, nil
}

func (v *Venue) marketable(ctx context.Context, req domain.OrderRequest) bool {
	ob, err := v.books.GetOrderBook(ctx, req.TokenID)
	if err != nil {
		return false
	}
	if req.Side == domain.OrderSideBuy {
		ask, ok := ob.BestAsk()
		return ok && req.Price >= ask
	}
	bid, ok := ob.BestBid()
	return ok && req.Price <= bid
}

// CancelOrder cancels a resting order and releases its reservation.
func (v *Venue) CancelOrder(ctx context.Context, ref domain.OrderRef) error {
	v.mu.Lock()
	o, ok := v.orders[ref.ID]
	cancelled := ok && o.status != domain.OrderStatusMatched
	if cancelled {
		o.status = domain.OrderStatusCancelled
	}
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", ref.ID, domain.ErrNotFound)
	}
	if cancelled {
		v.ledger.Release(ref.ID)
	}
	v.logger.DebugContext(ctx, "simulated cancel", slog.String("order_id", ref.ID))
	return nil
}

// GetOrderStatus returns the simulated status.
func (v *Venue) GetOrderStatus(_ context.Context, ref domain.OrderRef) (domain.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[ref.ID]
	if !ok {
		return domain.OrderStatusUnknown, fmt.Errorf("paper: status %s: %w", ref.ID, domain.ErrNotFound)
	}
	return o.status, nil
}

// Orders returns every recorded order, oldest first.
func (v *Venue) Orders() []domain.OrderRef {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.OrderRef, 0, len(v.orders))
	for _, o := range v.orders {
		out = append(out, o.ref)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out
}
