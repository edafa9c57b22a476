package binance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTradeFrame(t *testing.T) {
	tr, err := ParseTrade([]byte(`{"e":"trade","E":1700000000123,"s":"BTCUSDT","t":1,"p":"43000.50","q":"0.1","T":1700000000120}`))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, 43000.50, tr.Price)
	assert.Equal(t, time.UnixMilli(1700000000120), tr.At)
}

func TestParseTickerEnvelope(t *testing.T) {
	tr, err := ParseTrade([]byte(`{"type":"market_update","token_id":"btcusdt","data":{"symbol":"BTCUSDT","price":"42999.99"},"timestamp":1700000000.25}`))
	require.NoError(t, err)
	assert.Equal(t, 42999.99, tr.Price)
	assert.Equal(t, time.Unix(1700000000, 250_000_000), tr.At)
}

func TestParseSubscriptionAck(t *testing.T) {
	_, err := ParseTrade([]byte(`{"result":null,"id":1}`))
	assert.True(t, errors.Is(err, ErrNotTrade))
}

func TestParseRejectsBadPrice(t *testing.T) {
	_, err := ParseTrade([]byte(`{"e":"trade","E":1,"p":"abc"}`))
	require.Error(t, err)
	_, err = ParseTrade([]byte(`not json`))
	require.Error(t, err)
}
