package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-grid-bot-go/internal/models"
	"ai-grid-bot-go/internal/signals"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCalculator() *signals.Calculator {
	return signals.NewCalculator(models.SignalConfig{
		SARStep:               0.02,
		SARMax:                0.2,
		ATRPeriod:             3,
		VolumePeriod:          3,
		VolumeSpikeMultiplier: 2,
		ROCPeriod:             2,
		PanicThreshold:        3,
	})
}

func klineMessage(openTime int64, close float64) []byte {
	return []byte(fmt.Sprintf(`{"e":"kline","E":%d,"s":"BTCUSDT","k":{"t":%d,"T":%d,"s":"BTCUSDT","i":"1m","o":"%.2f","c":"%.2f","h":"%.2f","l":"%.2f","v":"10.5","x":false}}`,
		openTime+1, openTime, openTime+59999, close, close, close+1, close-1))
}

type stubSource struct {
	candles []models.Candle
}

func (s *stubSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return s.candles, nil
}

func TestStreamURL(t *testing.T) {
	s := NewKlineStream(Options{BaseURL: "wss://fstream.binance.com/", Symbol: "BTCUSDT", Interval: "5m"},
		testCalculator(), nil, nil, zap.NewNop())
	assert.Equal(t, "wss://fstream.binance.com/ws/btcusdt@kline_5m", s.StreamURL())
}

func TestIngest(t *testing.T) {
	s := NewKlineStream(Options{Symbol: "BTCUSDT", Interval: "1m"}, testCalculator(), nil, nil, zap.NewNop())

	_, _, _, err := s.Ingest([]byte("not json"))
	assert.Error(t, err)

	_, _, ok, err := s.Ingest([]byte(`{"e":"aggTrade","p":"1"}`))
	require.NoError(t, err)
	assert.False(t, ok, "other events are ignored")

	_, _, _, err = s.Ingest([]byte(`{"e":"kline","k":{"t":1,"o":"x","c":"1","h":"1","l":"1","v":"1"}}`))
	assert.Error(t, err)

	// MinCandles is 4; the malformed message above never reached the window
	base := int64(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		_, _, ok, err := s.Ingest(klineMessage(base+int64(i)*60000, 100+float64(i)))
		require.NoError(t, err)
		assert.False(t, ok, "window still warming up at %d", i)
	}

	price, sig, ok, err := s.Ingest(klineMessage(base+3*60000, 103))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 103.0, price)
	require.NotNil(t, sig)
	assert.True(t, sig.Trend.IsUptrend)

	// an update to the forming candle replaces it instead of growing the window
	price, _, ok, err = s.Ingest(klineMessage(base+3*60000, 103.5))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 103.5, price)
	assert.Equal(t, 4, s.window.Len())
}

// a frame as sent by fstream.binance.com, including the upper-case E/T/L/V/Q/B keys
const futuresKlineFrame = `{"e":"kline","E":1700000065123,"s":"BTCUSDT","k":{"t":1700000040000,"T":1700000099999,"s":"BTCUSDT","i":"1m","f":4123000001,"L":4123000420,"o":"37010.10","c":"37022.40","h":"37030.00","l":"37005.50","v":"152.318","n":419,"x":false,"q":"5638912.77","V":"80.100","Q":"2965360.12","B":"0"}}`

func TestIngest_FuturesFrame(t *testing.T) {
	s := NewKlineStream(Options{Symbol: "BTCUSDT", Interval: "1m"}, testCalculator(), nil, nil, zap.NewNop())

	_, _, ok, err := s.Ingest([]byte(futuresKlineFrame))
	require.NoError(t, err)
	assert.False(t, ok, "one candle is not enough history")

	require.Equal(t, 1, s.window.Len())
	c := s.window.Candles()[0]
	assert.Equal(t, time.UnixMilli(1700000040000), c.OpenTime, "open time comes from t, not T")
	assert.Equal(t, 37022.40, c.Close)
	assert.Equal(t, 37005.50, c.Low)
	assert.Equal(t, 152.318, c.Volume)
}

func TestWarmup(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &stubSource{}
	for i := 0; i < 10; i++ {
		src.candles = append(src.candles, models.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     100, High: 101, Low: 99, Close: 100, Volume: 5,
		})
	}
	s := NewKlineStream(Options{Symbol: "BTCUSDT", Interval: "1m", History: 6}, testCalculator(), src, nil, zap.NewNop())
	require.NoError(t, s.Warmup(context.Background()))
	assert.Equal(t, 6, s.window.Len())

	_, _, ok, err := s.Ingest(klineMessage(start.Add(10*time.Minute).UnixMilli(), 100.5))
	require.NoError(t, err)
	assert.True(t, ok, "warmed window yields signals on the first message")
}

func TestRun_DeliversTicksAndStops(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var (
		pathMu sync.Mutex
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pathMu.Lock()
		path = r.URL.Path
		pathMu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		base := int64(1_700_000_000_000)
		for i := 0; i < 8; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, klineMessage(base+int64(i)*60000, 100+float64(i))); err != nil {
				return
			}
		}
		// keep the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var (
		mu     sync.Mutex
		prices []float64
	)
	handler := func(ctx context.Context, price float64, sig *models.GridSignals) error {
		mu.Lock()
		defer mu.Unlock()
		prices = append(prices, price)
		return nil
	}

	s := NewKlineStream(Options{
		BaseURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbol:         "BTCUSDT",
		Interval:       "1m",
		ReconnectDelay: 50 * time.Millisecond,
	}, testCalculator(), nil, handler, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(prices) > 0 && prices[len(prices)-1] == 107
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	pathMu.Lock()
	assert.Equal(t, "/ws/btcusdt@kline_1m", path)
	pathMu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(prices); i++ {
		assert.Greater(t, prices[i], prices[i-1], "ticks arrive in order")
	}
	assert.LessOrEqual(t, int64(len(prices))+s.Superseded(), int64(5))
}
