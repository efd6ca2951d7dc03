package lifecycle

import "ai-grid-bot-go/internal/models"

// Exit reasons.
const (
	ExitStopLoss    = "stop_loss"
	ExitTakeProfit  = "take_profit"
	ExitLiquidation = "liquidation_risk"
	ExitCutLong     = "ai_cut_long"
	ExitCutShort    = "ai_cut_short"
	ExitCloseAll    = "ai_close_all"
	ExitEmergency   = "ai_emergency_rebalance"
	ExitManualStop  = "bot_stopped"
)

// liquidationBuffer is the margin loss, in percent, at which a position is closed
// ahead of the exchange's own liquidation.
const liquidationBuffer = 90.0

// InitialStops returns the stop-loss and take-profit for a new position. ATR multiples
// are used when dynamic stops are enabled and atr is known, fixed percentages otherwise.
// A zero result means that exit is disabled.
func InitialStops(cfg models.GridConfig, side models.Side, entry, atr float64) (stopLoss, takeProfit float64) {
	var slDist, tpDist float64
	if cfg.UseDynamicStops && atr > 0 {
		slDist = atr * cfg.ATRStopMultiplier
		tpDist = atr * cfg.ATRTakeProfitMultiplier
	} else {
		slDist = entry * cfg.StopLossPercent / 100
		tpDist = entry * cfg.TakeProfitPercent / 100
	}

	if side == models.Long {
		if slDist > 0 && slDist < entry {
			stopLoss = entry - slDist
		}
		if tpDist > 0 {
			takeProfit = entry + tpDist
		}
		return stopLoss, takeProfit
	}

	if slDist > 0 {
		stopLoss = entry + slDist
	}
	if tpDist > 0 && tpDist < entry {
		takeProfit = entry - tpDist
	}
	return stopLoss, takeProfit
}

// MarkToMarket refreshes price-dependent fields and ratchets the trailing stop.
// The stop only ever moves toward price.
func MarkToMarket(pos *models.GridPosition, price float64, cfg models.GridConfig) {
	if price <= 0 {
		return
	}
	pos.CurrentPrice = price
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}
	if pos.LowestPrice == 0 || price < pos.LowestPrice {
		pos.LowestPrice = price
	}

	pos.UnrealizedPnL, pos.PnLPercent = pnl(pos, price)

	if !cfg.UseTrailingStop || cfg.TrailingStopPercent <= 0 {
		return
	}
	trail := cfg.TrailingStopPercent / 100
	if pos.Side == models.Long {
		if candidate := pos.HighestPrice * (1 - trail); candidate > pos.StopLoss {
			pos.StopLoss = candidate
		}
		return
	}
	if candidate := pos.LowestPrice * (1 + trail); pos.StopLoss == 0 || candidate < pos.StopLoss {
		pos.StopLoss = candidate
	}
}

// ExitReason evaluates stop-loss, take-profit and the local liquidation heuristic in
// that order and returns the first that matches, or "".
func ExitReason(pos *models.GridPosition) string {
	price := pos.CurrentPrice
	if pos.Side == models.Long {
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return ExitStopLoss
		}
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return ExitTakeProfit
		}
	} else {
		if pos.StopLoss > 0 && price >= pos.StopLoss {
			return ExitStopLoss
		}
		if pos.TakeProfit > 0 && price <= pos.TakeProfit {
			return ExitTakeProfit
		}
	}

	if pos.Leverage > 0 && pos.PnLPercent <= -liquidationBuffer/float64(pos.Leverage) {
		return ExitLiquidation
	}
	return ""
}

func pnl(pos *models.GridPosition, price float64) (usd, pct float64) {
	if pos.EntryPrice <= 0 {
		return 0, 0
	}
	diff := price - pos.EntryPrice
	if pos.Side == models.Short {
		diff = -diff
	}
	return diff * pos.Size, diff / pos.EntryPrice * 100
}
