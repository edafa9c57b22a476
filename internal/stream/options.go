package stream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// FrameFunc builds the frame sent to subscribe (action "subscribe") or
// unsubscribe (action "unsubscribe") one entity. A nil FrameFunc sends nothing.
type FrameFunc func(action, id string) ([]byte, error)

// SynthesizeFunc turns one polled response body for id into the message a
// push channel would have delivered.
type SynthesizeFunc func(id string, body []byte, now time.Time) ([]byte, error)

// OriginFunc extracts the origin timestamp embedded in a payload.
type OriginFunc func(payload []byte) (time.Time, bool)

// Options configures a Connection. Feed-specific behaviour, such as the frame
// shape or where the origin timestamp lives, is expressed here rather than in
// separate client types.
type Options struct {
	// Name identifies the feed in logs, health reports and messages.
	Name string
	// URL is the push endpoint.
	URL string
	// PollURL returns the pull endpoint for one entity. When nil, polling mode
	// delivers nothing.
	PollURL func(id string) string
	// Frame builds subscribe and unsubscribe frames.
	Frame FrameFunc
	// Origin extracts the embedded origin timestamp, if any.
	Origin OriginFunc
	// Synthesize builds polled messages. Defaults to Envelope("market_update").
	Synthesize SynthesizeFunc

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	PollInterval         time.Duration
	PollTimeout          time.Duration
	PollConcurrency      int
	HandshakeTimeout     time.Duration
	StaleAfter           time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

const (
	maxBackoff     = 60 * time.Second
	latencySamples = 100
)

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "stream"
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.MaxReconnectAttempts < 0 {
		o.MaxReconnectAttempts = 0
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.PollConcurrency <= 0 {
		o.PollConcurrency = 8
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 15 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 60 * time.Second
	}
	if o.Synthesize == nil {
		o.Synthesize = Envelope("market_update")
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		}
	}
	return o
}

// Backoff returns the wait before reconnect attempt n (1-based):
// base * 2^n, capped at 60s.
func Backoff(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 16 {
		return maxBackoff
	}
	d := base << uint(n)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Envelope returns a SynthesizeFunc producing
// {"type":kind,"token_id":id,"data":body,"timestamp":unix seconds}.
func Envelope(kind string) SynthesizeFunc {
	return func(id string, body []byte, now time.Time) ([]byte, error) {
		return json.Marshal(struct {
			Type      string          `json:"type"`
			TokenID   string          `json:"token_id"`
			Data      json.RawMessage `json:"data"`
			Timestamp float64         `json:"timestamp"`
		}{
			Type:      kind,
			TokenID:   id,
			Data:      body,
			Timestamp: float64(now.UnixNano()) / 1e9,
		})
	}
}

// ChannelFrame returns a FrameFunc producing
// {"type":action,"channel":channel,<key>:id}.
func ChannelFrame(channel, key string) FrameFunc {
	return func(action, id string) ([]byte, error) {
		return json.Marshal(map[string]string{
			"type":    action,
			"channel": channel,
			key:       id,
		})
	}
}

// BinanceFrame returns a FrameFunc producing Binance stream method calls for
// the given stream suffix, e.g. "trade".
func BinanceFrame(suffix string) FrameFunc {
	var seq atomic.Int64
	return func(action, id string) ([]byte, error) {
		return json.Marshal(struct {
			Method string   `json:"method"`
			Params []string `json:"params"`
			ID     int64    `json:"id"`
		}{
			Method: strings.ToUpper(action),
			Params: []string{strings.ToLower(id) + "@" + suffix},
			ID:     seq.Add(1),
		})
	}
}

// TimestampField returns an OriginFunc reading a numeric or string field.
// Values above 1e12 are taken as milliseconds, smaller ones as seconds.
func TimestampField(name string) OriginFunc {
	return func(payload []byte) (time.Time, bool) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload, &fields); err != nil {
			return time.Time{}, false
		}
		raw, ok := fields[name]
		if !ok {
			return time.Time{}, false
		}
		s := strings.Trim(string(raw), `"`)
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return time.Time{}, false
		}
		if v > 1e12 {
			return time.UnixMilli(int64(v)), true
		}
		sec := int64(v)
		return time.Unix(sec, int64((v-float64(sec))*1e9)), true
	}
}
