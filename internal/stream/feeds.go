package stream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PolymarketMarketFeed returns Options for the CLOB market channel. Polling
// falls back to GET {restHost}/book?token_id=<id> and delivers each response
// as a channel book event.
func PolymarketMarketFeed(wsURL, restHost string) Options {
	restHost = strings.TrimRight(restHost, "/")
	return Options{
		Name:  "polymarket_market",
		URL:   wsURL,
		Frame: ChannelFrame("market", "market"),
		PollURL: func(id string) string {
			return restHost + "/book?token_id=" + url.QueryEscape(id)
		},
		Origin:     TimestampField("timestamp"),
		Synthesize: BookEvent,
	}
}

// BookEvent reshapes a REST order book into the market channel's book event:
// the body's fields plus event_type "book", with asset_id and a millisecond
// timestamp filled in when the body lacks them.
func BookEvent(id string, body []byte, now time.Time) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("book event: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("book event: body is not an object")
	}
	fields["event_type"] = json.RawMessage(`"book"`)
	if _, ok := fields["asset_id"]; !ok {
		raw, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		fields["asset_id"] = raw
	}
	if _, ok := fields["timestamp"]; !ok {
		fields["timestamp"] = json.RawMessage(strconv.Quote(strconv.FormatInt(now.UnixMilli(), 10)))
	}
	return json.Marshal(fields)
}

// BinanceTradeFeed returns Options for a Binance spot trade stream. The
// symbol is subscribed by the caller through Subscribe; polling falls back to
// the REST ticker price.
func BinanceTradeFeed(wsHost, restHost string) Options {
	wsHost = strings.TrimRight(wsHost, "/")
	restHost = strings.TrimRight(restHost, "/")
	return Options{
		Name:  "binance_trade",
		URL:   wsHost + "/ws",
		Frame: BinanceFrame("trade"),
		PollURL: func(symbol string) string {
			return restHost + "/api/v3/ticker/price?symbol=" + url.QueryEscape(strings.ToUpper(symbol))
		},
		Origin: TimestampField("E"),
	}
}
