package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"ai-grid-bot-go/internal/bot"
	"ai-grid-bot-go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBot struct {
	sync.Mutex
	symbol   string
	running  bool
	stopErr  error
	startErr error
	decision *models.AIDecision
}

func (b *fakeBot) Symbol() string { return b.symbol }

func (b *fakeBot) IsRunning() bool {
	b.Lock()
	defer b.Unlock()
	return b.running
}

func (b *fakeBot) GetState() *models.GridState {
	b.Lock()
	defer b.Unlock()
	return &models.GridState{
		Config:       models.GridConfig{Symbol: b.symbol},
		Running:      b.running,
		CurrentPrice: 50000,
		CenterPrice:  49900,
		Positions:    []*models.GridPosition{{ID: "pos_1", Side: models.Long}},
		Performance:  models.Performance{RealizedPnL: 12.5},
	}
}

func (b *fakeBot) GetPositions() []models.GridPosition {
	return []models.GridPosition{{ID: "pos_1", Side: models.Long, EntryPrice: 49500}}
}

func (b *fakeBot) GetPerformance() models.Performance {
	return models.Performance{TotalTrades: 4, WinningTrades: 3, WinRate: 75}
}

func (b *fakeBot) GetLastDecision() *models.AIDecision {
	return b.decision
}

func (b *fakeBot) Start(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.running = true
	return nil
}

func (b *fakeBot) Stop(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	b.running = false
	return b.stopErr
}

type fakeHistory struct{}

func (fakeHistory) RecentTrades(symbol string, limit int) ([]models.TradeRecord, error) {
	return []models.TradeRecord{{PositionID: "pos_9", Symbol: symbol, PnL: 1.5}}, nil
}

func (fakeHistory) DecisionCounts(symbol string) (int, int, error) {
	return 2, 5, nil
}

func newTestServer(bots ...Bot) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(":0", bots, fakeHistory{}, zap.NewNop())
}

func do(t *testing.T, s *Server, method, path string) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Handler().ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

func TestListBots(t *testing.T) {
	s := newTestServer(&fakeBot{symbol: "ETHUSDT"}, &fakeBot{symbol: "BTCUSDT", running: true})

	code, body := do(t, s, http.MethodGet, "/api/bots")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	bots := body["bots"].([]interface{})
	require.Len(t, bots, 2)
	first := bots[0].(map[string]interface{})
	assert.Equal(t, "BTCUSDT", first["symbol"])
	assert.Equal(t, true, first["running"])
	assert.Equal(t, 1.0, first["positions"])
	assert.Equal(t, 12.5, first["realized_pnl"])
}

func TestBotReadEndpoints(t *testing.T) {
	s := newTestServer(&fakeBot{symbol: "BTCUSDT", decision: &models.AIDecision{ID: "d1", Action: models.ActionCutLong, Confidence: 70}})

	tests := []struct {
		path string
		key  string
	}{
		{"/api/bots/BTCUSDT/state", "state"},
		{"/api/bots/btcusdt/positions", "positions"},
		{"/api/bots/BTCUSDT/performance", "performance"},
		{"/api/bots/BTCUSDT/decision", "decision"},
		{"/api/bots/BTCUSDT/trades?limit=10", "trades"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			code, body := do(t, s, http.MethodGet, tt.path)
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, true, body["success"])
			assert.Contains(t, body, tt.key)
		})
	}

	_, body := do(t, s, http.MethodGet, "/api/bots/BTCUSDT/decision")
	assert.Equal(t, "CUT_LONG", body["decision"].(map[string]interface{})["action"])

	_, body = do(t, s, http.MethodGet, "/api/bots/BTCUSDT/trades")
	assert.Equal(t, 5.0, body["decisions_discarded"])
}

func TestErrors(t *testing.T) {
	s := newTestServer(&fakeBot{symbol: "BTCUSDT"})

	code, body := do(t, s, http.MethodGet, "/api/bots/DOGEUSDT/state")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])

	code, _ = do(t, s, http.MethodGet, "/api/bots/BTCUSDT/decision")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, s, http.MethodGet, "/api/bots/BTCUSDT/trades?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPost, "/api/bots/BTCUSDT/stop")
	assert.Equal(t, http.StatusConflict, code, "stopping a stopped bot")
}

func TestStartStop(t *testing.T) {
	b := &fakeBot{symbol: "BTCUSDT"}
	s := newTestServer(b)

	code, body := do(t, s, http.MethodPost, "/api/bots/BTCUSDT/start")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["running"])
	assert.True(t, b.IsRunning())

	code, body = do(t, s, http.MethodPost, "/api/bots/BTCUSDT/stop")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.False(t, b.IsRunning())

	b.startErr = bot.ErrNotInitialized
	code, _ = do(t, s, http.MethodPost, "/api/bots/BTCUSDT/start")
	assert.Equal(t, http.StatusConflict, code)

	b.startErr = nil
	b.stopErr = errors.New("exchange down")
	do(t, s, http.MethodPost, "/api/bots/BTCUSDT/start")
	code, body = do(t, s, http.MethodPost, "/api/bots/BTCUSDT/stop")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, false, body["running"])
}

func TestHealth(t *testing.T) {
	code, body := do(t, newTestServer(), http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}
