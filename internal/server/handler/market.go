package handler

import (
	"net/http"
	"sort"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/scanner"
)

// MarketSource is the scanner registry.
type MarketSource interface {
	Active() []domain.Market
	Get(id string) (domain.Market, bool)
	Stats() scanner.Stats
}

// MarketHandler serves the tracked markets.
type MarketHandler struct {
	markets MarketSource
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketSource) *MarketHandler {
	return &MarketHandler{markets: markets}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Stats   scanner.Stats   `json:"stats"`
}

// ListMarkets returns tracked markets ordered by end time, soonest first.
// GET /api/markets?limit=100
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.markets.Active()
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].EndTime.Before(markets[j].EndTime)
	})
	if limit := queryLimit(r, 100, 1000); len(markets) > limit {
		markets = markets[:limit]
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Stats: h.markets.Stats()})
}

// GetMarket returns one tracked market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := h.markets.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "market not tracked")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
