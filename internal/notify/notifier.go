// Package notify sends operator alerts to Telegram and Discord. The Notifier
// doubles as a state sink so position and error updates become alerts
// without the trading path waiting on chat APIs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type alert struct {
	event, title, message string
}

// Notifier fans alerts out to its senders. Only events in the allowed set are
// forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan alert
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Alerts raised through PublishState wait in
// a queue of queueSize until Run delivers them; a full queue drops the alert.
func NewNotifier(senders []Sender, events []string, queueSize int, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan alert, max(queueSize, 1)),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Allowed reports whether event passes the filter.
func (n *Notifier) Allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers synchronously if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allowed(event) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// PublishState turns selected state updates into queued alerts.
func (n *Notifier) PublishState(ctx context.Context, u domain.StateUpdate) error {
	title, message, ok := Format(u)
	if !ok || !n.Allowed(u.Type) {
		return nil
	}
	select {
	case n.queue <- alert{event: u.Type, title: title, message: message}:
	default:
		n.logger.WarnContext(ctx, "alert queue full, dropping", slog.String("event", u.Type))
	}
	return nil
}

// Run delivers queued alerts until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-n.queue:
			_ = n.dispatch(ctx, a.title, a.message)
		}
	}
}

// dispatch tries every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// Format renders the update types operators care about. Other types return
// ok=false.
func Format(u domain.StateUpdate) (title, message string, ok bool) {
	d := u.Data
	switch u.Type {
	case "position_opened":
		return "Position opened", fmt.Sprintf("%v on %v: cost %.4f, expected %+.4f",
			d["strategy"], d["market_id"], num(d["cost"]), num(d["expected"])), true
	case "trade_closed":
		return "Trade closed", fmt.Sprintf("%v on %v closed %v, P&L %+.4f",
			d["strategy"], d["market_id"], d["reason"], num(d["pnl"])), true
	case "error":
		return "Bot error", fmt.Sprintf("[%v] %v: %v", d["kind"], d["source"], d["message"]), true
	case "circuit":
		return "Circuit breaker", fmt.Sprintf("%v -> %v", d["from"], d["to"]), true
	case "status":
		return "Bot status", fmt.Sprintf("%v", d["status"]), true
	default:
		return "", "", false
	}
}

func num(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

var _ domain.StateSink = (*Notifier)(nil)
