package handler

import (
	"net/http"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/strategy"
)

// PerformanceSource is the strategy orchestrator.
type PerformanceSource interface {
	GetPerformanceSummary() strategy.PerformanceSummary
}

// PerformanceHandler serves per-strategy and combined results.
type PerformanceHandler struct {
	orch PerformanceSource
}

// NewPerformanceHandler creates a PerformanceHandler.
func NewPerformanceHandler(orch PerformanceSource) *PerformanceHandler {
	return &PerformanceHandler{orch: orch}
}

// GetPerformance returns the orchestrator summary.
// GET /api/performance
func (h *PerformanceHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.GetPerformanceSummary())
}
