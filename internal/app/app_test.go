package app

import (
	"context"
	"encoding/json"
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

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/config"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/paper"
)

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

// fakeVenue serves an empty catalog and empty books.
func fakeVenue(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /markets", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"bids":[],"asks":[]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func paperConfig(t *testing.T) *config.Config {
	venue := fakeVenue(t)
	cfg := config.Defaults()
	cfg.Polymarket.GammaHost = venue.URL
	cfg.Polymarket.ClobHost = venue.URL
	cfg.Polymarket.WsHost = "ws://127.0.0.1:1"
	cfg.Server.Port = 0
	cfg.Orchestrator.CycleInterval.Duration = 20 * time.Millisecond
	return &cfg
}

func TestWirePaperMode(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), paperConfig(t), discard())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Ledger)
	assert.IsType(t, &paper.Venue{}, deps.Venue)
	assert.NotNil(t, deps.Server)
	assert.NotNil(t, deps.Hub)
	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.Journal)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Notifier)
	assert.Nil(t, deps.SpotStream, "latency arbitrage is disabled by default")

	sum := deps.Orchestrator.GetPerformanceSummary()
	assert.Equal(t, 2, sum.TotalStrategies)
	assert.InDelta(t, 400.0, sum.Capital[domain.StrategyMaker], 1e-9)
	assert.InDelta(t, 300.0, sum.Capital[domain.StrategyProbability], 1e-9)

	assert.Equal(t, "paper", deps.State.Snapshot().Mode)
}

func TestWireRelaysCircuitChanges(t *testing.T) {
	cfg := paperConfig(t)
	cfg.Health.ErrorThreshold = 1
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	deps.Health.Register("catalog")
	deps.Health.RecordError("catalog", domain.Transient(assert.AnError))
	assert.Equal(t, deps.Health.State(), deps.State.Snapshot().Circuit)
	assert.NotEqual(t, domain.CircuitHealthy, deps.State.Snapshot().Circuit)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	a := New(paperConfig(t), discard())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMarketEventsFollowRegistry(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), paperConfig(t), discard())
	require.NoError(t, err)
	defer cleanup()
	registerHandlers(deps, discard())

	ctx := context.Background()
	m := domain.Market{ID: "m1", Question: "BTC up?", Sides: domain.Sides{Up: "u1", Down: "d1"}}
	assert.Empty(t, deps.Scheduler.Emit(ctx, EventMarketAdded, m))
	assert.ElementsMatch(t, []string{"u1", "d1"}, deps.MarketStream.Subscriptions())
	require.NotNil(t, deps.State.Snapshot().CurrentMarket)
	assert.Equal(t, "m1", deps.State.Snapshot().CurrentMarket.ID)

	assert.Empty(t, deps.Scheduler.Emit(ctx, EventMarketRemoved, m))
	assert.Empty(t, deps.MarketStream.Subscriptions())

	errs := deps.Scheduler.Emit(ctx, EventMarketAdded, "not a market")
	require.Len(t, errs, 2)
	assert.Equal(t, domain.KindMalformed, domain.Classify(errs[0]))

	assert.Empty(t, deps.Scheduler.Emit(ctx, EventMarketMessage, domain.StreamMessage{
		Feed:    "polymarket_market",
		Payload: []byte(`{"event_type":"book"}`),
	}))
}

func TestEventType(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"event_type":"book","asset_id":"1"}`, "book"},
		{`[{"event_type":"price_change"},{"event_type":"x"}]`, "price_change"},
		{`{"type":"market_update","token_id":"1"}`, "market_update"},
		{`[]`, ""},
		{`not json`, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, eventType([]byte(tc.in)), tc.in)
	}
}

// marketChannel serves the market channel and the REST book for one token.
// Each subscribe frame is answered with a channel book event.
func marketChannel(t *testing.T) *httptest.Server {
	t.Helper()
	const bids = `[{"price":"0.45","size":"10"}]`
	const asks = `[{"price":"0.55","size":"12"}]`
	var upgrader websocket.Upgrader
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/market", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame map[string]string
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame["type"] != "subscribe" {
				continue
			}
			event := `{"event_type":"book","asset_id":"` + frame["market"] + `","market":"0xabc","bids":` + bids + `,"asks":` + asks + `,"timestamp":"1700000000000","hash":"h1"}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"market":"0xabc","asset_id":"`+r.URL.Query().Get("token_id")+`","bids":`+bids+`,"asks":`+asks+`,"hash":"h1"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type seenMessage struct {
	event   string
	assetID string
	bids    string
	asks    string
}

// seenBy wires the market stream against cfg and returns the first message
// the market.message handlers receive for tok-1.
func seenBy(t *testing.T, cfg *config.Config) (seenMessage, string) {
	t.Helper()
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()
	registerHandlers(deps, discard())

	var mu sync.Mutex
	var seen []seenMessage
	deps.Scheduler.RegisterHandler(EventMarketMessage, func(ctx context.Context, payload any) error {
		msg := payload.(domain.StreamMessage)
		var book struct {
			AssetID string          `json:"asset_id"`
			Bids    json.RawMessage `json:"bids"`
			Asks    json.RawMessage `json:"asks"`
		}
		if err := json.Unmarshal(msg.Payload, &book); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, seenMessage{eventType(msg.Payload), book.AssetID, string(book.Bids), string(book.Asks)})
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	require.NoError(t, deps.MarketStream.Start(ctx))
	defer deps.MarketStream.Stop()
	require.NoError(t, deps.MarketStream.Subscribe(ctx, "tok-1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mode := string(deps.MarketStream.Status().Mode)
	rec := httptest.NewRecorder()
	deps.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `polybot_stream_messages_total{event="book",feed="polymarket_market"}`)

	mu.Lock()
	defer mu.Unlock()
	return seen[0], mode
}

func TestPushAndPolledBookEventsLookTheSame(t *testing.T) {
	srv := marketChannel(t)

	pushCfg := config.Defaults()
	pushCfg.Polymarket.WsHost = "ws" + strings.TrimPrefix(srv.URL, "http")
	pushCfg.Polymarket.ClobHost = srv.URL
	pushed, pushMode := seenBy(t, &pushCfg)
	assert.Equal(t, string(domain.StreamModeStreaming), pushMode)

	pollCfg := config.Defaults()
	pollCfg.Polymarket.WsHost = "ws://127.0.0.1:1"
	pollCfg.Polymarket.ClobHost = srv.URL
	polled, pollMode := seenBy(t, &pollCfg)
	assert.Equal(t, string(domain.StreamModePolling), pollMode)

	assert.Equal(t, "book", pushed.event)
	assert.Equal(t, pushed.event, polled.event)
	assert.Equal(t, "tok-1", polled.assetID)
	assert.Equal(t, pushed.assetID, polled.assetID)
	assert.JSONEq(t, pushed.bids, polled.bids)
	assert.JSONEq(t, pushed.asks, polled.asks)
}
