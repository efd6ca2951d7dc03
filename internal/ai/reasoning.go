package ai

import (
	"fmt"
	"math"
	"strings"
)

// Volatility buckets over ATR as a percent of price.
const (
	lowVolatility  = 0.2
	highVolatility = 1.0
)

// Reasoning lists the conditions that fired, separated by "; ".
func Reasoning(in Input) string {
	sig := in.Signals
	var parts []string

	if sig.ROC.IsPanic {
		parts = append(parts, fmt.Sprintf("panic ROC %.2f%%", sig.ROC.Value))
	}
	if sig.Volume.IsSpike {
		parts = append(parts, fmt.Sprintf("volume spike %.2fx", sig.Volume.Multiplier))
	}
	if sig.Trend.Value != 0 {
		if sig.Trend.IsUptrend {
			parts = append(parts, "trend bullish")
		} else {
			parts = append(parts, "trend bearish")
		}
	}
	if d, ok := outerDistance(in); ok && d > 3*in.Config.GridSpacing {
		parts = append(parts, fmt.Sprintf("outer position %.2f%% from price exceeds 3x spacing (%.2f%%)", d, 3*in.Config.GridSpacing))
	}
	if in.CrossedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d levels crossed", in.CrossedCount))
	}
	parts = append(parts, "volatility "+volatilityBucket(sig.Volatility.Multiplier))

	return strings.Join(parts, "; ")
}

// outerDistance is the largest distance, in percent, between the current price and
// the entry of any open position.
func outerDistance(in Input) (float64, bool) {
	if in.CurrentPrice <= 0 || len(in.Positions) == 0 {
		return 0, false
	}
	var farthest float64
	for _, p := range in.Positions {
		if p.EntryPrice <= 0 {
			continue
		}
		d := math.Abs(in.CurrentPrice-p.EntryPrice) / p.EntryPrice * 100
		if d > farthest {
			farthest = d
		}
	}
	return farthest, true
}

func volatilityBucket(m float64) string {
	switch {
	case m >= highVolatility:
		return "high"
	case m < lowVolatility:
		return "low"
	default:
		return "normal"
	}
}
