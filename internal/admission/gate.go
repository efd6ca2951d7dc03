// Package admission decides which crossed virtual levels become real positions.
package admission

import (
	"ai-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// Reject reasons, also used as keys of Performance.RejectedLevels.
const (
	ReasonVolume   = "volume_filter"
	ReasonTrend    = "trend_filter"
	ReasonReactive = "reactive_filter"
	ReasonCapacity = "capacity_exceeded"
	ReasonBias     = "position_bias"
	ReasonCapital  = "capital_utilization"
)

// Proposal is the gate's verdict for one crossed level. Levels with Admit == false
// stay pending.
type Proposal struct {
	Level  *models.VirtualLevel
	Admit  bool
	Reason string
}

// Input is everything the gate looks at for one tick.
type Input struct {
	Config    models.GridConfig
	Positions []*models.GridPosition
	Crossed   []*models.VirtualLevel
	Signals   *models.GridSignals
	Reactive  Bias
}

// Gate applies the admission filters. It never mutates levels or positions.
type Gate struct {
	logger *zap.Logger
}

func NewGate(logger *zap.Logger) *Gate {
	return &Gate{logger: logger}
}

// Evaluate returns one proposal per crossed level, in the order given. Capacity and
// exposure limits account for levels admitted earlier in the same call.
func (g *Gate) Evaluate(in Input) []Proposal {
	cfg := in.Config
	proposals := make([]Proposal, 0, len(in.Crossed))

	open := len(in.Positions)
	var longMargin, shortMargin float64
	for _, p := range in.Positions {
		if p.Side == models.Long {
			longMargin += p.SizeUSD
		} else {
			shortMargin += p.SizeUSD
		}
	}
	slot := cfg.SlotMargin()
	capitalCap := cfg.TotalInvestment * cfg.MaxCapitalUtilization / 100

	for _, level := range in.Crossed {
		reason := g.filter(cfg, level, in.Signals, in.Reactive)

		if reason == "" && open >= cfg.MaxActivePositions {
			reason = ReasonCapacity
			g.logger.Warn("capacity exceeded, level stays pending",
				zap.String("symbol", cfg.Symbol),
				zap.String("level_id", level.ID),
				zap.Int("open", open),
				zap.Int("max_active", cfg.MaxActivePositions))
		}

		if reason == "" && cfg.MaxPositionBias < 100 && open > 0 && open >= cfg.MinPositions {
			l, s := longMargin, shortMargin
			if level.Side == models.Long {
				l += slot
			} else {
				s += slot
			}
			if models.Bias(l, s) > cfg.MaxPositionBias && sideIncreasesBias(level.Side, longMargin, shortMargin) {
				reason = ReasonBias
			}
		}

		if reason == "" && longMargin+shortMargin+slot > capitalCap+1e-9 {
			reason = ReasonCapital
		}

		if reason != "" {
			g.logger.Debug("level rejected",
				zap.String("symbol", cfg.Symbol),
				zap.String("level_id", level.ID),
				zap.String("side", string(level.Side)),
				zap.Float64("price", level.Price),
				zap.String("reason", reason))
			proposals = append(proposals, Proposal{Level: level, Reason: reason})
			continue
		}

		open++
		if level.Side == models.Long {
			longMargin += slot
		} else {
			shortMargin += slot
		}
		proposals = append(proposals, Proposal{Level: level, Admit: true})
	}
	return proposals
}

// filter runs the signal-based filters in order and returns the first reject reason.
func (g *Gate) filter(cfg models.GridConfig, level *models.VirtualLevel, sig *models.GridSignals, reactive Bias) string {
	if sig != nil && cfg.UseVolumeFilter && cfg.MinVolumeMultiplier > 1.0 && sig.Volume.Multiplier < cfg.MinVolumeMultiplier {
		return ReasonVolume
	}

	if cfg.ReactiveMode {
		if !reactive.Matches(level.Side) {
			return ReasonReactive
		}
	} else if cfg.UseTrendFilter && sig != nil {
		uptrend := sig.Trend.IsUptrend
		if (level.Side == models.Long && !uptrend) || (level.Side == models.Short && uptrend) {
			return ReasonTrend
		}
	}

	if cfg.UseReversalConfirmation {
		// Reversal confirmation needs candle history the gate does not receive; it
		// never rejects.
		g.logger.Debug("reversal confirmation not implemented, accepting",
			zap.String("level_id", level.ID))
	}

	return ""
}

func sideIncreasesBias(side models.Side, long, short float64) bool {
	if side == models.Long {
		return long >= short
	}
	return short >= long
}
