// Package metrics exposes Prometheus counters fed from bot state updates and
// the monitoring API.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// Recorder owns a private registry so tests and multiple instances do not
// collide on the global one.
type Recorder struct {
	reg *prometheus.Registry

	positionsOpened *prometheus.CounterVec
	tradesClosed    *prometheus.CounterVec
	realizedPnL     *prometheus.GaugeVec
	opportunities   *prometheus.CounterVec
	errors          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	cycleTrades     prometheus.Counter
	running         prometheus.Gauge

	streamMessages *prometheus.CounterVec
	streamLatency  *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the bot's collectors plus the Go runtime and process ones.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		positionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_positions_opened_total",
			Help: "Positions opened, by strategy.",
		}, []string{"strategy"}),
		tradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_trades_closed_total",
			Help: "Positions closed, by strategy and close reason.",
		}, []string{"strategy", "reason", "simulated"}),
		realizedPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polybot_realized_pnl",
			Help: "Cumulative realized P&L in USDC, by strategy.",
		}, []string{"strategy"}),
		opportunities: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_opportunities_total",
			Help: "Signals produced, by strategy.",
		}, []string{"strategy"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_errors_total",
			Help: "Recorded errors, by source and kind.",
		}, []string{"source", "kind"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "polybot_cycle_duration_seconds",
			Help:    "Orchestrator cycle duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		cycleTrades: f.NewCounter(prometheus.CounterOpts{
			Name: "polybot_cycle_trades_total",
			Help: "Trades executed across orchestrator cycles.",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "polybot_running",
			Help: "1 while the bot status is running.",
		}),
		streamMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_stream_messages_total",
			Help: "Feed messages delivered, by feed and event type.",
		}, []string{"feed", "event"}),
		streamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polybot_stream_latency_seconds",
			Help:    "Origin-to-receipt delay of feed messages that carry a timestamp.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}, []string{"feed"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_http_requests_total",
			Help: "Monitoring API requests.",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polybot_http_request_duration_seconds",
			Help:    "Monitoring API latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// Registry exposes the registry for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveHTTP records one monitoring API request.
func (r *Recorder) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveMessage records one delivered feed message.
func (r *Recorder) ObserveMessage(msg domain.StreamMessage, event string) {
	if event == "" {
		event = "unknown"
	}
	r.streamMessages.WithLabelValues(msg.Feed, event).Inc()
	if d, ok := msg.Latency(); ok && d >= 0 {
		r.streamLatency.WithLabelValues(msg.Feed).Observe(d.Seconds())
	}
}

// PublishState updates counters from a state update. Unknown types are
// ignored.
func (r *Recorder) PublishState(_ context.Context, u domain.StateUpdate) error {
	d := u.Data
	switch u.Type {
	case "status":
		if str(d["status"]) == "running" {
			r.running.Set(1)
		} else {
			r.running.Set(0)
		}
	case "position_opened":
		r.positionsOpened.WithLabelValues(str(d["strategy"])).Inc()
	case "trade_closed":
		strategy := str(d["strategy"])
		simulated, _ := d["simulated"].(bool)
		r.tradesClosed.WithLabelValues(strategy, str(d["reason"]), strconv.FormatBool(simulated)).Inc()
		if pnl, ok := d["pnl"].(float64); ok {
			r.realizedPnL.WithLabelValues(strategy).Add(pnl)
		}
	case "opportunity":
		r.opportunities.WithLabelValues(str(d["strategy"])).Inc()
	case "error":
		r.errors.WithLabelValues(str(d["source"]), str(d["kind"])).Inc()
	case "cycle":
		if ms, ok := d["duration_ms"].(int64); ok {
			r.cycleDuration.Observe(float64(ms) / 1000)
		}
		if n, ok := d["trades"].(int); ok {
			r.cycleTrades.Add(float64(n))
		}
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

var _ domain.StateSink = (*Recorder)(nil)
