// Package stream implements a live feed client that delivers every inbound
// frame to a handler, reconnects with bounded exponential backoff, and falls
// back to polling a pull endpoint when the push channel is unavailable.
// Callers subscribe and unsubscribe without knowing which mode is active.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

const writeWait = 10 * time.Second

// MessageHandler receives every delivered message. Calls are serialised.
type MessageHandler func(ctx context.Context, msg domain.StreamMessage)

// Reporter receives connection outcomes. *health.Monitor satisfies it.
type Reporter interface {
	RecordSuccess(name string)
	RecordError(name string, err error)
	RecordLatency(name string, d time.Duration)
}

// Connection is one logical feed, delivered by push or by poll.
type Connection struct {
	opts     Options
	handler  MessageHandler
	reporter Reporter
	now      func() time.Time
	logger   *slog.Logger

	handlerMu sync.Mutex
	writeMu   sync.Mutex

	mu          sync.Mutex
	mode        domain.StreamMode
	conn        *websocket.Conn
	subs        map[string]struct{}
	attempts    int
	permanent   bool
	started     bool
	messages    uint64
	latencies   []time.Duration
	lastMessage time.Time
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Option customises a Connection.
type Option func(*Connection)

// WithReporter forwards successes, errors and latencies to r.
func WithReporter(r Reporter) Option {
	return func(c *Connection) { c.reporter = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Connection) { c.now = now }
}

// New creates an idle Connection.
func New(opts Options, handler MessageHandler, logger *slog.Logger, options ...Option) *Connection {
	opts = opts.withDefaults()
	c := &Connection{
		opts:    opts,
		handler: handler,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "stream"), slog.String("feed", opts.Name)),
		mode:    domain.StreamModeIdle,
		subs:    make(map[string]struct{}),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Name returns the feed name.
func (c *Connection) Name() string { return c.opts.Name }

// Start dials the push endpoint. On success the connection streams; on
// failure it polls. Either way Start returns nil unless the connection was
// already started or stopped. The connection lives until Stop or until ctx is
// cancelled.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.mode == domain.StreamModeStopped {
		c.mu.Unlock()
		return fmt.Errorf("stream/%s: already started", c.opts.Name)
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "connecting", slog.String("url", c.opts.URL))
	conn, err := c.dial(runCtx)
	if err != nil {
		c.logger.WarnContext(ctx, "push channel unavailable, falling back to polling",
			slog.String("error", err.Error()),
		)
		c.report(err)
		c.mu.Lock()
		if c.enterPollingLocked() {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.pollLoop(runCtx)
			}()
		}
		c.mu.Unlock()
		return nil
	}

	if !c.attach(conn) {
		return nil
	}
	c.logger.InfoContext(ctx, "streaming")
	c.mu.Lock()
	if c.mode == domain.StreamModeStopped {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go c.supervise(runCtx, conn)
	return nil
}

// enterPollingLocked switches to poll mode unless the connection has been
// stopped. c.mu must be held.
func (c *Connection) enterPollingLocked() bool {
	if c.mode == domain.StreamModeStopped {
		return false
	}
	c.mode = domain.StreamModePolling
	c.connectedAt = c.now()
	return true
}

// Stop closes the push channel, stops polling and waits for the background
// goroutines to exit. It is idempotent.
func (c *Connection) Stop() {
	c.once.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		conn := c.conn
		c.conn = nil
		c.mode = domain.StreamModeStopped
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		c.wg.Wait()
		c.logger.Info("stopped")
	})
}

// Subscribe adds id to the interest set. While streaming a subscribe frame is
// sent; while polling id joins the poll loop. A failed send is returned but
// the id stays subscribed and is re-sent after the next reconnect.
func (c *Connection) Subscribe(ctx context.Context, id string) error {
	return c.changeInterest(ctx, "subscribe", id)
}

// Unsubscribe removes id from the interest set.
func (c *Connection) Unsubscribe(ctx context.Context, id string) error {
	return c.changeInterest(ctx, "unsubscribe", id)
}

func (c *Connection) changeInterest(ctx context.Context, action, id string) error {
	c.mu.Lock()
	_, had := c.subs[id]
	switch {
	case action == "subscribe" && had, action == "unsubscribe" && !had:
		c.mu.Unlock()
		return nil
	case action == "subscribe":
		c.subs[id] = struct{}{}
	default:
		delete(c.subs, id)
	}
	conn := c.conn
	streaming := c.mode == domain.StreamModeStreaming
	c.mu.Unlock()

	if !streaming || conn == nil {
		return nil
	}
	if err := c.sendFrame(conn, action, id); err != nil {
		c.logger.WarnContext(ctx, "frame send failed",
			slog.String("action", action),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return domain.Transient(fmt.Errorf("stream/%s: %s %s: %w", c.opts.Name, action, id, err))
	}
	c.logger.DebugContext(ctx, action, slog.String("id", id))
	return nil
}

// Subscriptions returns the interest set, sorted.
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subsLocked()
}

func (c *Connection) subsLocked() []string {
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Push mode
// ---------------------------------------------------------------------------

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("stream/%s: dial: %w", c.opts.Name, err)
	}
	pongWait := 2 * c.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

// attach makes conn the active push connection and replays the interest set.
// It returns false, closing conn, when the connection has been stopped.
func (c *Connection) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.mode == domain.StreamModeStopped {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.mode = domain.StreamModeStreaming
	c.attempts = 0
	c.connectedAt = c.now()
	ids := c.subsLocked()
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.sendFrame(conn, "subscribe", id); err != nil {
			c.logger.Warn("resubscribe failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

func (c *Connection) sendFrame(conn *websocket.Conn, action, id string) error {
	if c.opts.Frame == nil {
		return nil
	}
	frame, err := c.opts.Frame(action, id)
	if err != nil {
		return fmt.Errorf("build frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// supervise reads from conn until it fails, then reconnects. When the
// reconnect budget is exhausted the connection switches to polling for good.
func (c *Connection) supervise(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.WarnContext(ctx, "push channel lost", slog.String("error", err.Error()))
		c.report(domain.Transient(fmt.Errorf("stream/%s: %w: %w", c.opts.Name, domain.ErrWSDisconnect, err)))

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		conn = c.reconnect(ctx)
		if conn == nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.permanent = true
			polling := c.enterPollingLocked()
			c.mu.Unlock()
			if !polling {
				return
			}
			c.logger.ErrorContext(ctx, "max reconnection attempts reached, polling permanently",
				slog.Int("max_attempts", c.opts.MaxReconnectAttempts),
			)
			c.pollLoop(ctx)
			return
		}
		if !c.attach(conn) {
			return
		}
		c.logger.InfoContext(ctx, "reconnected")
	}
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(ctx, conn, pingDone)

	pongWait := 2 * c.opts.PingInterval
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if typ != websocket.TextMessage {
			continue
		}
		c.deliver(ctx, data)
	}
}

// pingLoop keeps conn alive and closes it when ctx ends so a blocked read
// returns.
func (c *Connection) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// reconnect dials with backoff until it succeeds, the budget runs out (nil),
// or ctx ends (nil).
func (c *Connection) reconnect(ctx context.Context) *websocket.Conn {
	for {
		c.mu.Lock()
		if c.attempts >= c.opts.MaxReconnectAttempts {
			c.mu.Unlock()
			return nil
		}
		c.attempts++
		n := c.attempts
		c.mu.Unlock()

		wait := Backoff(c.opts.ReconnectDelay, n)
		c.logger.InfoContext(ctx, "reconnecting",
			slog.Int("attempt", n),
			slog.Int("max_attempts", c.opts.MaxReconnectAttempts),
			slog.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := c.dial(ctx)
		if err == nil {
			if ctx.Err() != nil {
				_ = conn.Close()
				return nil
			}
			return conn
		}
		c.report(domain.Transient(err))
	}
}

// ---------------------------------------------------------------------------
// Poll mode
// ---------------------------------------------------------------------------

// pollLoop polls every subscribed id each interval. The caller sets the mode.
func (c *Connection) pollLoop(ctx context.Context) {
	if c.opts.PollURL == nil {
		c.logger.WarnContext(ctx, "no poll endpoint configured, feed is silent")
		<-ctx.Done()
		return
	}
	c.logger.InfoContext(ctx, "polling", slog.Duration("interval", c.opts.PollInterval))

	sem := semaphore.NewWeighted(int64(c.opts.PollConcurrency))
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		for _, id := range c.Subscriptions() {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func() {
				defer sem.Release(1)
				c.pollOne(ctx, id)
			}()
		}
		// Wait for this round before the next tick.
		if err := sem.Acquire(ctx, int64(c.opts.PollConcurrency)); err != nil {
			return
		}
		sem.Release(int64(c.opts.PollConcurrency))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Connection) pollOne(ctx context.Context, id string) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.PollTimeout)
	defer cancel()

	body, err := c.fetch(reqCtx, c.opts.PollURL(id))
	if err != nil {
		if ctx.Err() == nil {
			c.logger.DebugContext(ctx, "poll failed", slog.String("id", id), slog.String("error", err.Error()))
			c.report(err)
		}
		return
	}

	c.mu.Lock()
	_, still := c.subs[id]
	c.mu.Unlock()
	if !still {
		return
	}

	payload, err := c.opts.Synthesize(id, body, c.now())
	if err != nil {
		c.report(domain.Malformed(err))
		return
	}
	c.deliver(ctx, payload)
}

func (c *Connection) fetch(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream/%s: build request: %w", c.opts.Name, err)
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("stream/%s: poll: %w", c.opts.Name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("stream/%s: read body: %w", c.opts.Name, err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Transient(fmt.Errorf("stream/%s: poll: HTTP %d", c.opts.Name, resp.StatusCode))
	}
	if !json.Valid(body) {
		return nil, domain.Malformed(errors.New("stream: poll: invalid JSON body"))
	}
	return body, nil
}

// ---------------------------------------------------------------------------
// Delivery and reporting
// ---------------------------------------------------------------------------

func (c *Connection) deliver(ctx context.Context, payload []byte) {
	msg := domain.StreamMessage{
		Feed:       c.opts.Name,
		Payload:    payload,
		ReceivedAt: c.now(),
	}
	if c.opts.Origin != nil {
		if at, ok := c.opts.Origin(payload); ok {
			msg.OriginAt = at
		}
	}
	lat, hasLat := msg.Latency()

	c.mu.Lock()
	c.messages++
	c.lastMessage = msg.ReceivedAt
	if hasLat {
		c.latencies = append(c.latencies, lat)
		if len(c.latencies) > latencySamples {
			c.latencies = c.latencies[len(c.latencies)-latencySamples:]
		}
	}
	c.mu.Unlock()

	if c.reporter != nil {
		if hasLat {
			c.reporter.RecordLatency(c.opts.Name, lat)
		}
		c.reporter.RecordSuccess(c.opts.Name)
	}

	if c.handler == nil {
		return
	}
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler(ctx, msg)
}

func (c *Connection) report(err error) {
	if c.reporter != nil {
		c.reporter.RecordError(c.opts.Name, err)
	}
}

// Status is a point-in-time view of the connection.
type Status struct {
	Feed              string            `json:"feed"`
	Mode              domain.StreamMode `json:"mode"`
	Connected         bool              `json:"connected"`
	PermanentPolling  bool              `json:"permanent_polling"`
	Subscriptions     int               `json:"subscribed_markets"`
	MessageCount      uint64            `json:"message_count"`
	AvgLatencyMs      float64           `json:"average_latency_ms"`
	LastMessageAgeSec *float64          `json:"last_message_age_seconds"`
	ConnectionAgeSec  *float64          `json:"connection_age_seconds"`
	ReconnectAttempts int               `json:"reconnect_attempts"`
}

// Status returns mode, counters and ages.
func (c *Connection) Status() Status {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Feed:              c.opts.Name,
		Mode:              c.mode,
		PermanentPolling:  c.permanent,
		Subscriptions:     len(c.subs),
		MessageCount:      c.messages,
		ReconnectAttempts: c.attempts,
	}
	switch c.mode {
	case domain.StreamModeStreaming:
		st.Connected = c.conn != nil
	case domain.StreamModePolling:
		st.Connected = true
	}
	if n := len(c.latencies); n > 0 {
		var sum time.Duration
		for _, l := range c.latencies {
			sum += l
		}
		st.AvgLatencyMs = float64(sum) / float64(n) / float64(time.Millisecond)
	}
	if !c.lastMessage.IsZero() {
		age := now.Sub(c.lastMessage).Seconds()
		st.LastMessageAgeSec = &age
	}
	if !c.connectedAt.IsZero() && c.mode != domain.StreamModeStopped {
		age := now.Sub(c.connectedAt).Seconds()
		st.ConnectionAgeSec = &age
	}
	return st
}

// IsHealthy reports whether the connection is running and has delivered a
// message within StaleAfter. A running connection that has not yet received
// anything counts as healthy.
func (c *Connection) IsHealthy() bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == domain.StreamModeIdle || c.mode == domain.StreamModeStopped {
		return false
	}
	if c.lastMessage.IsZero() {
		return true
	}
	return now.Sub(c.lastMessage) < c.opts.StaleAfter
}
