package notify

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

type captureSender struct {
	name string
	err  error
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, title+"|"+message)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func (c *captureSender) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &captureSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{"trade_closed", " "}, 4, discard())

	require.NoError(t, n.Notify(context.Background(), "cycle", "t", "m"))
	require.NoError(t, n.Notify(context.Background(), "trade_closed", "t", "m"))
	assert.Equal(t, []string{"t|m"}, s.messages())

	all := NewNotifier([]Sender{s}, nil, 4, discard())
	assert.True(t, all.Allowed("anything"))
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("down")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 4, discard())

	err := n.Notify(context.Background(), "x", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.messages(), 1)
}

func TestPublishStateQueuesAlerts(t *testing.T) {
	s := &captureSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{"trade_closed"}, 1, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closed := domain.StateUpdate{Type: "trade_closed", Data: map[string]any{
		"strategy": "maker", "market_id": "m1", "reason": "filled", "pnl": 0.14,
	}}
	require.NoError(t, n.PublishState(ctx, domain.StateUpdate{Type: "cycle"}))
	require.NoError(t, n.PublishState(ctx, closed))
	require.NoError(t, n.PublishState(ctx, closed), "a full queue drops instead of blocking")

	go func() { _ = n.Run(ctx) }()
	require.Eventually(t, func() bool { return len(s.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Trade closed|maker on m1 closed filled, P&L +0.1400", s.messages()[0])
}

func TestFormat(t *testing.T) {
	title, msg, ok := Format(domain.StateUpdate{Type: "error", Data: map[string]any{
		"source": "maker", "kind": "transient", "message": "timeout",
	}})
	require.True(t, ok)
	assert.Equal(t, "Bot error", title)
	assert.Equal(t, "[transient] maker: timeout", msg)

	_, msg, ok = Format(domain.StateUpdate{Type: "position_opened", Data: map[string]any{
		"strategy": "probability", "market_id": "m2", "cost": 3.92, "expected": 0.08,
	}})
	require.True(t, ok)
	assert.Equal(t, "probability on m2: cost 3.9200, expected +0.0800", msg)

	_, _, ok = Format(domain.StateUpdate{Type: "market"})
	assert.False(t, ok)
}

func TestDiscordSender(t *testing.T) {
	bodies := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Title", "body"))
	body := <-bodies
	assert.Equal(t, "**Title**\nbody", body["content"])
	assert.Equal(t, "polybot", body["username"])

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer fail.Close()
	err := NewDiscordSender(fail.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NotEqual(t, domain.KindTransient, domain.Classify(err))

	busy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer busy.Close()
	err = NewDiscordSender(busy.URL).Send(context.Background(), "t", "m")
	assert.Equal(t, domain.KindTransient, domain.Classify(err))
}

func TestTelegramSender(t *testing.T) {
	texts := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"polybot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "42", r.FormValue("chat_id"))
			assert.Equal(t, "HTML", r.FormValue("parse_mode"))
			texts <- r.FormValue("text")
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tg, err := newTelegramSenderAt("TOKEN", srv.URL+"/bot%s/%s", 42)
	require.NoError(t, err)
	require.NoError(t, tg.Send(context.Background(), "Trade <closed>", "P&L +1"))
	assert.Equal(t, "<b>Trade &lt;closed&gt;</b>\nP&amp;L +1", <-texts)
}
