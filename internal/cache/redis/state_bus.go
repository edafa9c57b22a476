package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// BusConfig names where state updates go.
type BusConfig struct {
	Channel      string // pub/sub channel for live dashboards
	Stream       string // capped stream for late joiners; empty disables it
	StreamMaxLen int64
}

// StateBus implements domain.SignalBus on Redis pub/sub and streams, and
// domain.StateSink on top of it.
type StateBus struct {
	rdb *redis.Client
	cfg BusConfig
}

// NewStateBus creates a StateBus on c. A zero StreamMaxLen means 10000.
func NewStateBus(c *Client, cfg BusConfig) *StateBus {
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = 10000
	}
	return &StateBus{rdb: c.rdb, cfg: cfg}
}

// PublishState encodes the update as JSON, publishes it on the state channel
// and appends it to the state stream.
func (b *StateBus) PublishState(ctx context.Context, update domain.StateUpdate) error {
	payload, err := encodeUpdate(update)
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, b.cfg.Channel, payload); err != nil {
		return err
	}
	if b.cfg.Stream == "" {
		return nil
	}
	return b.StreamAppend(ctx, b.cfg.Stream, payload)
}

func encodeUpdate(update domain.StateUpdate) ([]byte, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return nil, domain.Malformed(fmt.Errorf("redis: encode state %s: %w", update.Type, err))
	}
	return payload, nil
}

// Publish sends payload on a pub/sub channel.
func (b *StateBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return domain.Transient(fmt.Errorf("redis: publish %s: %w", channel, err))
	}
	return nil
}

// Subscribe returns a channel of payloads that closes when ctx is done.
// Glob patterns use PSUBSCRIBE.
func (b *StateBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend adds payload to stream, trimming it to roughly StreamMaxLen.
func (b *StateBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return domain.Transient(fmt.Errorf("redis: stream append %s: %w", stream, err))
	}
	return nil
}

// History reads up to count of the most recent stream entries, oldest first.
func (b *StateBus) History(ctx context.Context, count int64) ([]domain.StateUpdate, error) {
	if b.cfg.Stream == "" {
		return nil, nil
	}
	msgs, err := b.rdb.XRevRangeN(ctx, b.cfg.Stream, "+", "-", count).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: history %s: %w", b.cfg.Stream, err)
	}
	out := make([]domain.StateUpdate, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		u, ok := decodeEntry(msgs[i].Values)
		if !ok {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeEntry(values map[string]any) (domain.StateUpdate, bool) {
	var data []byte
	switch v := values["payload"].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return domain.StateUpdate{}, false
	}
	var u domain.StateUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return domain.StateUpdate{}, false
	}
	return u, true
}

var (
	_ domain.SignalBus = (*StateBus)(nil)
	_ domain.StateSink = (*StateBus)(nil)
)
