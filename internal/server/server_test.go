package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/health"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/scanner"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/server/handler"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/server/ws"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/state"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/stream"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/strategy"
)

type fakeHealth struct{ st health.Status }

func (f fakeHealth) Status() health.Status { return f.st }

type fakeStream struct{ healthy bool }

func (f fakeStream) Status() stream.Status {
	return stream.Status{Feed: "polymarket", Mode: domain.StreamModeStreaming, Connected: f.healthy}
}
func (f fakeStream) IsHealthy() bool { return f.healthy }

type fakeState struct{ snap state.Snapshot }

func (f fakeState) Snapshot() state.Snapshot { return f.snap }

type fakeMarkets struct{ markets []domain.Market }

func (f fakeMarkets) Active() []domain.Market { return append([]domain.Market(nil), f.markets...) }
func (f fakeMarkets) Get(id string) (domain.Market, bool) {
	for _, m := range f.markets {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Market{}, false
}
func (f fakeMarkets) Stats() scanner.Stats { return scanner.Stats{ActiveMarkets: len(f.markets), MaxMarkets: 50} }

type fakePerf struct{}

func (fakePerf) GetPerformanceSummary() strategy.PerformanceSummary {
	return strategy.PerformanceSummary{TotalStrategies: 3, EnabledStrategies: 2, TotalCapital: 1000}
}

type fakeJournal struct{ err error }

func (f fakeJournal) Append(context.Context, domain.JournalEntry) error { return nil }
func (f fakeJournal) Recent(_ context.Context, limit int) ([]domain.JournalEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.JournalEntry{{ID: 1, Event: "position_closed"}}, nil
}

type observed struct {
	mu     sync.Mutex
	routes []string
}

func (o *observed) ObserveHTTP(route, method string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func testHandlers(circuit health.Status, journal domain.JournalStore) Handlers {
	now := time.Now()
	st := fakeState{snap: state.Snapshot{
		Status: state.StatusRunning,
		Mode:   "paper",
		OpenPositions: []domain.Position{
			{ID: "p1", Strategy: domain.StrategyMaker, MarketID: "m1", Status: domain.PositionStatusOpen},
		},
		RecentTrades: []domain.TradeRecord{{PositionID: "p0", PnL: 0.1}},
	}}
	markets := fakeMarkets{markets: []domain.Market{
		{ID: "late", EndTime: now.Add(2 * time.Hour)},
		{ID: "soon", EndTime: now.Add(10 * time.Minute)},
	}}
	return Handlers{
		Health:      handler.NewHealthHandler(fakeHealth{st: circuit}, fakeStream{healthy: true}),
		Status:      handler.NewStatusHandler(st, nil),
		Markets:     handler.NewMarketHandler(markets),
		Performance: handler.NewPerformanceHandler(fakePerf{}),
		Positions:   handler.NewPositionHandler(st, journal, discard()),
	}
}

func healthyCircuit() health.Status {
	return health.Status{State: domain.CircuitHealthy, Healthy: true, CanExecute: true}
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRoutes(t *testing.T) {
	obs := &observed{}
	s := NewServer(Config{}, testHandlers(healthyCircuit(), nil), Extras{
		Observer: obs,
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "polybot_up 1\n") }),
	}, discard())
	h := s.Handler()

	rec := get(t, h, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "healthy", body["circuit"].(map[string]any)["state"])

	rec = get(t, h, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.NotContains(t, body, "paper")

	rec = get(t, h, "/api/markets?limit=1", nil)
	body = decode(t, rec)
	markets := body["markets"].([]any)
	require.Len(t, markets, 1)
	assert.Equal(t, "soon", markets[0].(map[string]any)["id"])

	assert.Equal(t, http.StatusOK, get(t, h, "/api/markets/late", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/markets/nope", nil).Code)

	body = decode(t, get(t, h, "/api/performance", nil))
	assert.Equal(t, 3.0, body["total_strategies"])

	body = decode(t, get(t, h, "/api/positions", nil))
	assert.Len(t, body["positions"].([]any), 1)

	body = decode(t, get(t, h, "/api/trades", nil))
	assert.Equal(t, "memory", body["source"])

	rec = get(t, h, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), "polybot_up 1")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Contains(t, obs.routes, "GET /api/markets/{id}")
}

func TestHealthReportsOpenCircuit(t *testing.T) {
	open := health.Status{State: domain.CircuitOpen, CanExecute: false}
	s := NewServer(Config{}, testHandlers(open, nil), Extras{}, discard())
	rec := get(t, s.Handler(), "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode(t, rec)["status"])
}

func TestTradesFromJournal(t *testing.T) {
	s := NewServer(Config{}, testHandlers(healthyCircuit(), fakeJournal{}), Extras{}, discard())
	body := decode(t, get(t, s.Handler(), "/api/trades?limit=5", nil))
	assert.Equal(t, "journal", body["source"])

	s = NewServer(Config{}, testHandlers(healthyCircuit(), fakeJournal{err: errors.New("db down")}), Extras{}, discard())
	assert.Equal(t, http.StatusInternalServerError, get(t, s.Handler(), "/api/trades", nil).Code)
}

func TestAuthAndCORS(t *testing.T) {
	s := NewServer(Config{APIKey: "secret", CORSOrigins: []string{"https://dash.example"}},
		testHandlers(healthyCircuit(), nil), Extras{}, discard())
	h := s.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/api/health", nil).Code, "health is public")
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/status", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/status", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/status?api_key=secret", nil).Code)

	rec := get(t, h, "/api/health", map[string]string{"Origin": "https://dash.example"})
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	rec = get(t, h, "/api/health", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	pre := httptest.NewRecorder()
	h.ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
}

func TestRateLimit(t *testing.T) {
	s := NewServer(Config{RateLimit: 10, RateWindow: time.Second},
		testHandlers(healthyCircuit(), nil), Extras{Limiter: denyAll{}}, discard())
	rec := get(t, s.Handler(), "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestHubBroadcastsStateUpdates(t *testing.T) {
	hub := ws.NewHub(func() any { return map[string]string{"status": "running"} }, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	s := NewServer(Config{}, testHandlers(healthyCircuit(), nil), Extras{Hub: hub}, discard())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first domain.StateUpdate
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "types": []string{"trade_closed"}}))
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Give the read pump a moment to apply the subscription before
	// publishing, then send one filtered and one wanted update.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, hub.PublishState(ctx, domain.StateUpdate{Type: "cycle"}))
	require.NoError(t, hub.PublishState(ctx, domain.StateUpdate{Type: "trade_closed", Data: map[string]any{"pnl": 0.14}}))

	var next domain.StateUpdate
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "trade_closed", next.Type)
	assert.Equal(t, 0.14, next.Data["pnl"])
}
