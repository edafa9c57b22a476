package handler

import (
	"log/slog"
	"net/http"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// PositionHandler serves open positions and the trade history.
type PositionHandler struct {
	state   StateSource
	journal domain.JournalStore
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler. journal may be nil, in which
// case trade history comes from the in-memory recent list.
func NewPositionHandler(st StateSource, journal domain.JournalStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{state: st, journal: journal, logger: logger.With(slog.String("handler", "positions"))}
}

// ListPositions returns the open positions across strategies.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	open := h.state.Snapshot().OpenPositions
	if open == nil {
		open = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": open})
}

// ListTrades returns the journal when one is configured, otherwise the
// recent closed trades kept in memory.
// GET /api/trades?limit=50
func (h *PositionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)
	if h.journal == nil {
		trades := h.state.Snapshot().RecentTrades
		if len(trades) > limit {
			trades = trades[:limit]
		}
		if trades == nil {
			trades = []domain.TradeRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"source": "memory", "trades": trades})
		return
	}

	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list journal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": "journal", "trades": entries})
}
