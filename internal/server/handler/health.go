package handler

import (
	"net/http"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/health"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/stream"
)

// HealthSource is the circuit breaker view.
type HealthSource interface {
	Status() health.Status
}

// StreamSource is one live feed.
type StreamSource interface {
	Status() stream.Status
	IsHealthy() bool
}

// HealthHandler reports the circuit breaker and every feed.
type HealthHandler struct {
	monitor HealthSource
	streams []StreamSource
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(monitor HealthSource, streams ...StreamSource) *HealthHandler {
	return &HealthHandler{monitor: monitor, streams: streams, now: time.Now}
}

type streamHealth struct {
	stream.Status
	Healthy bool `json:"healthy"`
}

type healthResponse struct {
	Status    string         `json:"status"`
	Circuit   health.Status  `json:"circuit"`
	Streams   []streamHealth `json:"streams"`
	Timestamp string         `json:"timestamp"`
}

// HealthCheck answers 200 while the circuit allows trading and 503 while it
// is open. "status" is ok, degraded (circuit degraded or a feed unhealthy) or
// unhealthy.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	circuit := h.monitor.Status()
	resp := healthResponse{
		Status:    "ok",
		Circuit:   circuit,
		Streams:   make([]streamHealth, 0, len(h.streams)),
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if circuit.State != domain.CircuitHealthy {
		resp.Status = "degraded"
	}
	for _, s := range h.streams {
		sh := streamHealth{Status: s.Status(), Healthy: s.IsHealthy()}
		if !sh.Healthy {
			resp.Status = "degraded"
		}
		resp.Streams = append(resp.Streams, sh)
	}

	code := http.StatusOK
	if !circuit.CanExecute {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
