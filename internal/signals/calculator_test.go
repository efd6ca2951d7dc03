package signals

import (
	"testing"
	"time"

	"ai-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSignalConfig() models.SignalConfig {
	return models.SignalConfig{
		SARStep:               0.02,
		SARMax:                0.2,
		ATRPeriod:             5,
		VolumePeriod:          5,
		VolumeSpikeMultiplier: 2,
		ROCPeriod:             3,
		PanicThreshold:        3,
	}
}

func series(closes []float64, volume float64) []models.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c * 1.002,
			Low:      c * 0.998,
			Close:    c,
			Volume:   volume,
		}
	}
	return out
}

func TestCalculate_InsufficientData(t *testing.T) {
	c := NewCalculator(testSignalConfig())
	_, err := c.Calculate(series([]float64{1, 2, 3}, 10))
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, 6, c.MinCandles())
}

func TestCalculate_Uptrend(t *testing.T) {
	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, 100+float64(i)*0.3)
	}
	sig, err := NewCalculator(testSignalConfig()).Calculate(series(closes, 10))
	require.NoError(t, err)

	assert.True(t, sig.Trend.IsUptrend)
	assert.Less(t, sig.Trend.Value, closes[len(closes)-1])
	assert.Greater(t, sig.Volatility.Value, 0.0)
	assert.Greater(t, sig.Volatility.Multiplier, 0.0)
	assert.False(t, sig.ROC.IsPanic)
	assert.InDelta(t, 1.0, sig.Volume.Multiplier, 1e-9)
	assert.False(t, sig.Volume.IsSpike)
}

func TestCalculate_DowntrendPanicAndSpike(t *testing.T) {
	var closes []float64
	for i := 0; i < 20; i++ {
		closes = append(closes, 100-float64(i)*0.1)
	}
	closes = append(closes, 97, 94, 90)
	candles := series(closes, 10)
	candles[len(candles)-1].Volume = 50

	sig, err := NewCalculator(testSignalConfig()).Calculate(candles)
	require.NoError(t, err)

	assert.False(t, sig.Trend.IsUptrend)
	assert.Greater(t, sig.Trend.Value, closes[len(closes)-1])
	assert.True(t, sig.ROC.IsPanic)
	assert.Less(t, sig.ROC.Value, -3.0)
	assert.True(t, sig.Volume.IsSpike)
	assert.InDelta(t, 5.0, sig.Volume.Multiplier, 1e-9)
	assert.Equal(t, candles[len(candles)-1].OpenTime, sig.Timestamp)
}

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	cs := series([]float64{1, 2, 3, 4}, 1)
	for _, c := range cs {
		w.Push(c)
	}
	require.Equal(t, 3, w.Len())
	assert.Equal(t, 2.0, w.Candles()[0].Close)

	updated := cs[3]
	updated.Close = 4.5
	w.Push(updated)
	require.Equal(t, 3, w.Len())
	assert.Equal(t, 4.5, w.Candles()[2].Close)
}

func TestCalculate_FlatSeries(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-1] = 104
	sig, err := NewCalculator(testSignalConfig()).Calculate(series(closes, 10))
	require.NoError(t, err)

	// Wilder smoothing: (4*0.4 + 4.208) / 5
	assert.InDelta(t, 1.1616, sig.Volatility.Value, 1e-6)
	assert.InDelta(t, 4.0, sig.ROC.Value, 1e-9)
	assert.True(t, sig.ROC.IsPanic)
	assert.True(t, sig.Trend.IsUptrend)
}
