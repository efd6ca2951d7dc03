package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"ai-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFutures serves the handful of /fapi endpoints the live exchange calls.
type fakeFutures struct {
	sync.Mutex
	orders []map[string]string
}

func (f *fakeFutures) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v2/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		// a single symbol is answered with an object, not a list
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"50000.10","time":1700000000000}`))
	})
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"}]}]}`))
	})
	mux.HandleFunc("/fapi/v1/leverage", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"leverage":10,"maxNotionalValue":"1000000","symbol":"BTCUSDT"}`))
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.Lock()
		f.orders = append(f.orders, map[string]string{
			"side":         r.Form.Get("side"),
			"type":         r.Form.Get("type"),
			"quantity":     r.Form.Get("quantity"),
			"reduceOnly":   r.Form.Get("reduceOnly"),
			"positionSide": r.Form.Get("positionSide"),
		})
		f.Unlock()
		w.Write([]byte(`{"orderId":42,"symbol":"BTCUSDT","status":"FILLED","avgPrice":"50001.5","executedQty":"0.019","side":"BUY","type":"MARKET"}`))
	})
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"100","101","99","100.5","12.5",1700000059999,"1250",10,"6","600","0"],` +
			`[1700000060000,"100.5","102","100","101.5","20",1700000119999,"2000",12,"9","900","0"]]`))
	})
	return mux
}

func newTestLive(t *testing.T, hedge bool) (*LiveExchange, *fakeFutures) {
	fake := &fakeFutures{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client := futures.NewClient("key", "secret")
	client.BaseURL = srv.URL
	return NewLiveExchangeWithClient(client, hedge, zap.NewNop()), fake
}

func TestLiveExchange_GetTicker(t *testing.T) {
	ex, _ := newTestLive(t, false)
	price, err := ex.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 50000.10, price, 1e-9)
}

func TestLiveExchange_OpenAndCloseOneWay(t *testing.T) {
	ex, fake := newTestLive(t, false)
	ctx := context.Background()

	fill, err := ex.OpenPosition(ctx, models.OpenRequest{Symbol: "BTCUSDT", Side: models.Long, SizeUSD: 100, Leverage: 10, Price: 50000})
	require.NoError(t, err)
	assert.Equal(t, "42", fill.OrderID)
	assert.InDelta(t, 50001.5, fill.Price, 1e-9)
	assert.InDelta(t, 0.019, fill.Quantity, 1e-9)

	_, err = ex.ClosePosition(ctx, models.CloseRequest{Symbol: "BTCUSDT", Side: models.Long, Quantity: 0.0199})
	require.NoError(t, err)

	fake.Lock()
	defer fake.Unlock()
	require.Len(t, fake.orders, 2)
	assert.Equal(t, "BUY", fake.orders[0]["side"])
	assert.Equal(t, "MARKET", fake.orders[0]["type"])
	assert.Equal(t, "0.02", fake.orders[0]["quantity"])
	assert.Equal(t, "SELL", fake.orders[1]["side"])
	assert.Equal(t, "0.019", fake.orders[1]["quantity"])
	assert.Equal(t, "true", fake.orders[1]["reduceOnly"])
}

func TestLiveExchange_HedgeModeUsesPositionSide(t *testing.T) {
	ex, fake := newTestLive(t, true)
	ctx := context.Background()

	_, err := ex.OpenPosition(ctx, models.OpenRequest{Symbol: "BTCUSDT", Side: models.Short, SizeUSD: 100, Leverage: 10, Price: 50000})
	require.NoError(t, err)
	_, err = ex.ClosePosition(ctx, models.CloseRequest{Symbol: "BTCUSDT", Side: models.Short, Quantity: 0.02})
	require.NoError(t, err)

	fake.Lock()
	defer fake.Unlock()
	require.Len(t, fake.orders, 2)
	assert.Equal(t, "SELL", fake.orders[0]["side"])
	assert.Equal(t, "SHORT", fake.orders[0]["positionSide"])
	assert.Equal(t, "BUY", fake.orders[1]["side"])
	assert.Equal(t, "SHORT", fake.orders[1]["positionSide"])
	assert.Empty(t, fake.orders[1]["reduceOnly"])
}

func TestLiveExchange_QuantityBelowStep(t *testing.T) {
	ex, _ := newTestLive(t, false)
	_, err := ex.OpenPosition(context.Background(), models.OpenRequest{Symbol: "BTCUSDT", Side: models.Long, SizeUSD: 1, Leverage: 1, Price: 50000})
	assert.Error(t, err)
}

func TestLiveExchange_SetLeverageAndCandles(t *testing.T) {
	ex, _ := newTestLive(t, false)
	ctx := context.Background()
	require.NoError(t, ex.SetLeverage(ctx, "BTCUSDT", 10))

	candles, err := ex.GetCandles(ctx, "BTCUSDT", "1m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.5, candles[1].Close)
	assert.Equal(t, 20.0, candles[1].Volume)
}
