package handler

import (
	"net/http"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/paper"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/state"
)

// StateSource is the bot state owner.
type StateSource interface {
	Snapshot() state.Snapshot
}

// LedgerSource is the paper ledger; nil outside simulate modes.
type LedgerSource interface {
	Summary() paper.Summary
}

// StatusHandler serves the bot state snapshot.
type StatusHandler struct {
	state  StateSource
	ledger LedgerSource
}

// NewStatusHandler creates a StatusHandler. ledger may be nil.
func NewStatusHandler(st StateSource, ledger LedgerSource) *StatusHandler {
	return &StatusHandler{state: st, ledger: ledger}
}

type statusResponse struct {
	state.Snapshot
	Paper *paper.Summary `json:"paper,omitempty"`
}

// GetStatus returns the snapshot plus the paper summary when simulating.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Snapshot: h.state.Snapshot()}
	if h.ledger != nil {
		sum := h.ledger.Summary()
		resp.Paper = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}
