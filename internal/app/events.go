package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// Scheduler event types.
const (
	EventMarketAdded   = "market.added"
	EventMarketRemoved = "market.removed"
	EventMarketMessage = "market.message"
)

// registerHandlers routes registry changes to the market stream and the state
// store, and market data to the metrics recorder.
func registerHandlers(deps *Dependencies, logger *slog.Logger) {
	s := deps.Scheduler

	s.RegisterHandler(EventMarketAdded, func(ctx context.Context, payload any) error {
		m, err := marketPayload(EventMarketAdded, payload)
		if err != nil {
			return err
		}
		var errs []error
		for _, id := range []string{m.Sides.Up, m.Sides.Down} {
			if err := deps.MarketStream.Subscribe(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	s.RegisterHandler(EventMarketAdded, func(ctx context.Context, payload any) error {
		m, err := marketPayload(EventMarketAdded, payload)
		if err != nil {
			return err
		}
		if deps.State.Snapshot().CurrentMarket == nil {
			deps.State.SetMarket(ctx, m)
		}
		return nil
	})

	s.RegisterHandler(EventMarketRemoved, func(ctx context.Context, payload any) error {
		m, err := marketPayload(EventMarketRemoved, payload)
		if err != nil {
			return err
		}
		var errs []error
		for _, id := range []string{m.Sides.Up, m.Sides.Down} {
			if err := deps.MarketStream.Unsubscribe(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	s.RegisterHandler(EventMarketRemoved, func(ctx context.Context, payload any) error {
		m, err := marketPayload(EventMarketRemoved, payload)
		if err != nil {
			return err
		}
		cur := deps.State.Snapshot().CurrentMarket
		if cur == nil || cur.ID != m.ID {
			return nil
		}
		for _, next := range deps.Scanner.Active() {
			if next.ID != m.ID {
				deps.State.SetMarket(ctx, next)
				break
			}
		}
		return nil
	})

	s.RegisterHandler(EventMarketMessage, func(ctx context.Context, payload any) error {
		msg, ok := payload.(domain.StreamMessage)
		if !ok {
			return domain.Malformed(fmt.Errorf("app: %s: unexpected payload %T", EventMarketMessage, payload))
		}
		event := eventType(msg.Payload)
		deps.Metrics.ObserveMessage(msg, event)
		logger.DebugContext(ctx, "market message",
			slog.String("feed", msg.Feed),
			slog.String("event", event),
			slog.Int("bytes", len(msg.Payload)),
		)
		return nil
	})
}

func marketPayload(event string, payload any) (domain.Market, error) {
	m, ok := payload.(domain.Market)
	if !ok {
		return domain.Market{}, domain.Malformed(fmt.Errorf("app: %s: unexpected payload %T", event, payload))
	}
	return m, nil
}

// eventType reads the event kind of a market channel frame. Push frames carry
// event_type, either on one object or on the first of a batch; polled frames
// carry type.
func eventType(payload []byte) string {
	type frame struct {
		EventType string `json:"event_type"`
		Type      string `json:"type"`
	}
	pick := func(f frame) string {
		if f.EventType != "" {
			return f.EventType
		}
		return f.Type
	}

	var one frame
	if err := json.Unmarshal(payload, &one); err == nil {
		return pick(one)
	}
	var batch []frame
	if err := json.Unmarshal(payload, &batch); err == nil && len(batch) > 0 {
		return pick(batch[0])
	}
	return ""
}
