package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus tracks the order lifecycle as reported by the venue.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusUnknown   OrderStatus = "unknown"
)

// Filled reports whether the venue considers the order fully matched.
func (s OrderStatus) Filled() bool {
	return s == OrderStatusMatched
}

// OrderRequest is a limit order a strategy asks the venue to place.
type OrderRequest struct {
	TokenID string
	Price   float64
	Size    float64
	Side    OrderSide
}

// Notional returns price times size.
func (r OrderRequest) Notional() float64 {
	return r.Price * r.Size
}

// OrderRef identifies a placed order.
type OrderRef struct {
	ID       string    `json:"id"`
	TokenID  string    `json:"token_id"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	Side     OrderSide `json:"side"`
	PlacedAt time.Time `json:"placed_at"`
}

// Venue is the trading-venue collaborator strategies place orders through.
type Venue interface {
	GetOrderBook(ctx context.Context, tokenID string) (OrderBook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error)
	CancelOrder(ctx context.Context, ref OrderRef) error
	GetOrderStatus(ctx context.Context, ref OrderRef) (OrderStatus, error)
}

// Catalog lists the markets currently open for trading.
type Catalog interface {
	ListActiveMarkets(ctx context.Context, limit int) ([]CatalogEntry, error)
}
