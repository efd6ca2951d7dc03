// Package signals turns a candle window into the GridSignals snapshot the bot consumes.
package signals

import (
	"errors"
	"fmt"
	"math"

	"ai-grid-bot-go/internal/models"

	"github.com/markcheno/go-talib"
)

var ErrInsufficientData = errors.New("insufficient candle history")

// Calculator computes Parabolic SAR trend, ATR volatility, volume spike and
// rate-of-change panic from closed candles.
type Calculator struct {
	cfg models.SignalConfig
}

func NewCalculator(cfg models.SignalConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// MinCandles is the shortest window Calculate accepts.
func (c *Calculator) MinCandles() int {
	n := 2
	for _, p := range []int{c.cfg.ATRPeriod + 1, c.cfg.VolumePeriod + 1, c.cfg.ROCPeriod + 1} {
		if p > n {
			n = p
		}
	}
	return n
}

// Calculate returns the signal snapshot for the last candle of the window.
func (c *Calculator) Calculate(candles []models.Candle) (*models.GridSignals, error) {
	if len(candles) < c.MinCandles() {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(candles), c.MinCandles())
	}
	last := candles[len(candles)-1]
	if last.Close <= 0 {
		return nil, fmt.Errorf("invalid close price %.8f", last.Close)
	}

	high, low, closes, volumes := columns(candles)
	sar, up := c.parabolicSAR(high, low, last.Close)
	atr := averageTrueRange(high, low, closes, c.cfg.ATRPeriod)
	vol := c.volume(volumes)
	roc := rateOfChange(closes, c.cfg.ROCPeriod)

	return &models.GridSignals{
		Trend: models.TrendSignal{Value: sar, IsUptrend: up},
		Volatility: models.VolatilitySignal{
			Value:      atr,
			Multiplier: atr / last.Close * 100,
		},
		Volume: vol,
		ROC: models.ROCSignal{
			Value:   roc,
			IsPanic: c.cfg.PanicThreshold > 0 && math.Abs(roc) >= c.cfg.PanicThreshold,
		},
		Timestamp: last.OpenTime,
	}, nil
}

func columns(candles []models.Candle) (high, low, closes, volumes []float64) {
	n := len(candles)
	high, low = make([]float64, n), make([]float64, n)
	closes, volumes = make([]float64, n), make([]float64, n)
	for i, c := range candles {
		high[i], low[i], closes[i], volumes[i] = c.High, c.Low, c.Close, c.Volume
	}
	return high, low, closes, volumes
}

// parabolicSAR returns the latest SAR value; the trend is up while SAR sits below price.
func (c *Calculator) parabolicSAR(high, low []float64, lastClose float64) (float64, bool) {
	sar := talib.Sar(high, low, c.cfg.SARStep, c.cfg.SARMax)
	v := sar[len(sar)-1]
	return v, v < lastClose
}

// averageTrueRange is Wilder's ATR over period candles.
func averageTrueRange(high, low, closes []float64, period int) float64 {
	if period <= 0 {
		return 0
	}
	atr := talib.Atr(high, low, closes, period)
	return atr[len(atr)-1]
}

// volume compares the last candle's volume with the mean of the preceding period.
func (c *Calculator) volume(volumes []float64) models.VolumeSignal {
	n := len(volumes)
	out := models.VolumeSignal{Current: volumes[n-1]}
	if c.cfg.VolumePeriod <= 0 {
		return out
	}

	avg := talib.Sma(volumes[:n-1], c.cfg.VolumePeriod)
	out.Average = avg[len(avg)-1]
	if out.Average > 0 {
		out.Multiplier = out.Current / out.Average
	}
	out.IsSpike = c.cfg.VolumeSpikeMultiplier > 0 && out.Multiplier >= c.cfg.VolumeSpikeMultiplier
	return out
}

// rateOfChange is the percent change of the last close against the close period candles back.
func rateOfChange(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period || closes[len(closes)-1-period] <= 0 {
		return 0
	}
	roc := talib.Roc(closes, period)
	return roc[len(roc)-1]
}
