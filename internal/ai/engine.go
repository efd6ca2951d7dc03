// Package ai picks a single risk action per tick from an ordered rule list.
// The first matching rule wins; there is no voting between rules.
package ai

import (
	"math"
	"time"

	"ai-grid-bot-go/internal/models"

	"github.com/google/uuid"
)

const (
	emergencyBiasThreshold = 50.0
	cutBiasThreshold       = 30.0
	cutVolatilityThreshold = 0.1
)

var expectedOutcomes = map[models.GridAction]string{
	models.ActionHold:               "Grid keeps running; admission handles new entries.",
	models.ActionCutLong:            "Long exposure is closed to stop losses against the bearish trend.",
	models.ActionCutShort:           "Short exposure is closed to stop losses against the bullish trend.",
	models.ActionEmergencyRebalance: "All positions are closed and the grid is rebuilt around the current price.",
	models.ActionCloseAll:           "All positions are closed until the market calms down.",
}

// Input is the read-only view the engine evaluates.
type Input struct {
	Config       models.GridConfig
	Positions    []*models.GridPosition
	CurrentPrice float64
	Signals      models.GridSignals
	CrossedCount int
	Now          time.Time
}

// Engine evaluates risk decisions. It holds no state.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate returns a fresh decision for the given input.
func (e *Engine) Evaluate(in Input) models.AIDecision {
	action := selectAction(in)
	return models.AIDecision{
		ID:              uuid.NewString(),
		Action:          action,
		Confidence:      Confidence(action, in.Signals, in.Config.AIAggressiveness),
		Reasoning:       Reasoning(in),
		Signals:         in.Signals,
		Timestamp:       in.Now,
		ExpectedOutcome: ExpectedOutcome(action),
	}
}

func selectAction(in Input) models.GridAction {
	bias := positionBias(in.Positions)
	sig := in.Signals

	if sig.ROC.IsPanic {
		if bias > emergencyBiasThreshold {
			return models.ActionEmergencyRebalance
		}
		return models.ActionCloseAll
	}

	stressed := sig.Volatility.Multiplier > cutVolatilityThreshold || bias > cutBiasThreshold
	if stressed {
		if !sig.Trend.IsUptrend && hasSide(in.Positions, models.Long) {
			return models.ActionCutLong
		}
		if sig.Trend.IsUptrend && hasSide(in.Positions, models.Short) {
			return models.ActionCutShort
		}
	}

	return models.ActionHold
}

// Confidence scores a decision on [0, 100] after aggressiveness scaling.
func Confidence(action models.GridAction, sig models.GridSignals, aggr models.Aggressiveness) float64 {
	score := 50.0
	if sig.ROC.IsPanic {
		score += 30
	}
	if sig.Volume.IsSpike {
		score += 20
	}

	var strength float64
	if sig.Trend.Value != 0 {
		strength += 0.25
	}
	if sig.Volume.IsSpike {
		strength += 0.30
	}
	if sig.ROC.IsPanic {
		strength += 0.45
	}
	score += math.Min(strength, 1.0) * 20

	if (action == models.ActionCutLong && !sig.Trend.IsUptrend) || (action == models.ActionCutShort && sig.Trend.IsUptrend) {
		score += 15
	}

	return clamp(score*aggr.Factor(), 0, 100)
}

// ExpectedOutcome returns the fixed description for an action.
func ExpectedOutcome(action models.GridAction) string {
	if s, ok := expectedOutcomes[action]; ok {
		return s
	}
	return "Unknown action."
}

func positionBias(positions []*models.GridPosition) float64 {
	var long, short float64
	for _, p := range positions {
		if p.Side == models.Long {
			long += p.SizeUSD
		} else {
			short += p.SizeUSD
		}
	}
	return models.Bias(long, short)
}

func hasSide(positions []*models.GridPosition, side models.Side) bool {
	for _, p := range positions {
		if p.Side == side {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
