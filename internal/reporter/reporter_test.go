package reporter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"ai-grid-bot-go/internal/exchange"
	"ai-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name  string
		curve []float64
		want  float64
	}{
		{"empty", nil, 0},
		{"single", []float64{100}, 0},
		{"monotonic", []float64{100, 110, 120}, 0},
		{"one dip", []float64{100, 120, 90, 130}, 0.25},
		{"deepest wins", []float64{100, 80, 100, 200, 100}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MaxDrawdown(tt.curve), 1e-9)
		})
	}
}

func TestCalculateMetrics(t *testing.T) {
	pe := exchange.NewPaperExchange("BTCUSDT", models.ReplayConfig{InitialBalance: 1000})
	pe.SetPrice(100, time.Unix(0, 0))
	_, err := pe.OpenPosition(context.Background(), models.OpenRequest{Symbol: "BTCUSDT", Side: models.Long, SizeUSD: 100, Leverage: 10, Price: 100})
	require.NoError(t, err)
	pe.SetPrice(90, time.Unix(60, 0))
	pe.SetPrice(110, time.Unix(120, 0))

	trades := []models.TradeRecord{{PnL: 30}, {PnL: 10}, {PnL: -10}}
	m := CalculateMetrics(pe, models.Performance{TotalTrades: 3}, trades)

	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.InDelta(t, 1100.0, m.FinalEquity, 1e-6)
	assert.InDelta(t, 100.0, m.TotalProfit, 1e-6)
	assert.InDelta(t, 10.0, m.ProfitPercentage, 1e-6)
	assert.InDelta(t, 10.0, m.MaxDrawdown, 1e-6)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 66.666, m.WinRate, 1e-2)
	assert.InDelta(t, 2.0, m.AvgProfitLoss, 1e-9)
	assert.Equal(t, 1, m.Fills)
}

func TestWriters(t *testing.T) {
	var buf bytes.Buffer
	WritePerformance(&buf, "BTCUSDT", models.Performance{
		RealizedPnL:    12.34,
		DroppedTicks:   2,
		RejectedLevels: map[string]int{"trend_filter": 3, "capacity_exceeded": 1},
	})
	out := buf.String()
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "12.34 USDT")
	assert.Contains(t, out, "trend_filter")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("capacity_exceeded")), bytes.Index(buf.Bytes(), []byte("trend_filter")))

	buf.Reset()
	WritePositions(&buf, []models.GridPosition{
		{ID: "pos_a", Side: models.Long, EntryPrice: 99, UnrealizedPnL: 1.5},
		{ID: "pos_b", Side: models.Short, EntryPrice: 101, UnrealizedPnL: -0.5},
	})
	out = buf.String()
	assert.Contains(t, out, "pos_a")
	assert.Contains(t, out, "SHORT")
	assert.Contains(t, out, "1.00 USDT")

	buf.Reset()
	WriteReplayReport(&buf, Metrics{Symbol: "ETHUSDT", DataPath: "data/eth.csv", MaxDrawdown: 4.2})
	out = buf.String()
	assert.Contains(t, out, "data/eth.csv")
	assert.Contains(t, out, "4.20%")
}
