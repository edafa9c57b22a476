// Package binance decodes Binance spot trade frames and the REST ticker
// envelopes synthesized while the stream is polling.
package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Trade is one decoded price print.
type Trade struct {
	Symbol string
	Price  float64
	At     time.Time
}

// tradeFrame is the push payload of a <symbol>@trade stream.
type tradeFrame struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// tickerEnvelope wraps GET /api/v3/ticker/price responses delivered in
// polling mode.
type tickerEnvelope struct {
	Type      string  `json:"type"`
	TokenID   string  `json:"token_id"`
	Timestamp float64 `json:"timestamp"`
	Data      struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	} `json:"data"`
}

// ErrNotTrade is returned for frames that carry no price, such as
// subscription acknowledgements.
var ErrNotTrade = errors.New("binance: not a trade frame")

// ParseTrade decodes either a trade frame or a polled ticker envelope.
func ParseTrade(payload []byte) (Trade, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Trade{}, fmt.Errorf("binance: decode: %w", err)
	}

	if _, ok := fields["data"]; ok {
		var env tickerEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return Trade{}, fmt.Errorf("binance: decode ticker: %w", err)
		}
		price, err := parsePrice(env.Data.Price)
		if err != nil {
			return Trade{}, err
		}
		sec := int64(env.Timestamp)
		return Trade{
			Symbol: env.Data.Symbol,
			Price:  price,
			At:     time.Unix(sec, int64((env.Timestamp-float64(sec))*1e9)),
		}, nil
	}

	var f tradeFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Trade{}, fmt.Errorf("binance: decode trade: %w", err)
	}
	if f.Event != "trade" || f.Price == "" {
		return Trade{}, ErrNotTrade
	}
	price, err := parsePrice(f.Price)
	if err != nil {
		return Trade{}, err
	}
	ts := f.TradeTime
	if ts == 0 {
		ts = f.EventTime
	}
	return Trade{Symbol: f.Symbol, Price: price, At: time.UnixMilli(ts)}, nil
}

func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, ErrNotTrade
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: price %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("binance: price %q: not positive", s)
	}
	return v, nil
}
