package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a snapshot of bids and asks for one side token.
type OrderBook struct {
	TokenID   string       `json:"token_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid price, or false when there are no bids.
func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	best := b.Bids[0].Price
	for _, l := range b.Bids[1:] {
		if l.Price > best {
			best = l.Price
		}
	}
	return best, true
}

// BestAsk returns the lowest ask price, or false when there are no asks.
func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	best := b.Asks[0].Price
	for _, l := range b.Asks[1:] {
		if l.Price < best {
			best = l.Price
		}
	}
	return best, true
}
