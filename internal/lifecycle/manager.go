// Package lifecycle opens, marks, and closes real grid positions and keeps the
// originating virtual levels in step with them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-grid-bot-go/internal/exchange"
	"ai-grid-bot-go/internal/grid"
	"ai-grid-bot-go/internal/ids"
	"ai-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

var ErrPositionNotFound = errors.New("position not found")

// Manager executes position changes against the exchange and applies confirmed results
// to the GridState it is handed. Callers must hold the bot's tick lock.
type Manager struct {
	ex     exchange.Exchange
	logger *zap.Logger
}

func NewManager(ex exchange.Exchange, logger *zap.Logger) *Manager {
	return &Manager{ex: ex, logger: logger}
}

// Open converts an admitted level into a real position. On any exchange failure the
// level is left untouched.
func (m *Manager) Open(ctx context.Context, st *models.GridState, level *models.VirtualLevel, sig *models.GridSignals, now time.Time) (*models.GridPosition, error) {
	cfg := st.Config
	margin := cfg.SlotMargin()

	fill, err := m.ex.OpenPosition(ctx, models.OpenRequest{
		Symbol:   cfg.Symbol,
		Side:     level.Side,
		SizeUSD:  margin,
		Leverage: cfg.Leverage,
		Price:    level.Price,
	})
	if err != nil {
		st.Performance.OpenFailures++
		m.logger.Error("open position failed, level stays pending",
			zap.String("symbol", cfg.Symbol),
			zap.String("level_id", level.ID),
			zap.String("side", string(level.Side)),
			zap.Float64("price", level.Price),
			zap.Error(err))
		return nil, fmt.Errorf("open %s at level %s: %w", level.Side, level.ID, err)
	}

	entry := level.Price
	if fill != nil && fill.Price > 0 {
		entry = fill.Price
	}
	size := margin * float64(cfg.Leverage) / entry
	if fill != nil && fill.Quantity > 0 {
		size = fill.Quantity
	}

	var atr float64
	if sig != nil {
		atr = sig.Volatility.Value
	}
	sl, tp := InitialStops(cfg, level.Side, entry, atr)

	pos := &models.GridPosition{
		ID:           ids.New("pos"),
		Symbol:       cfg.Symbol,
		Side:         level.Side,
		Size:         size,
		SizeUSD:      margin,
		EntryPrice:   entry,
		CurrentPrice: entry,
		StopLoss:     sl,
		TakeProfit:   tp,
		Leverage:     cfg.Leverage,
		HighestPrice: entry,
		LowestPrice:  entry,
		LevelID:      level.ID,
		OpenedAt:     now,
	}
	st.Positions = append(st.Positions, pos)
	level.Status = models.LevelFilled
	st.Performance.PositionsOpened++

	m.logger.Info("position opened",
		zap.String("symbol", cfg.Symbol),
		zap.String("position_id", pos.ID),
		zap.String("level_id", level.ID),
		zap.String("side", string(pos.Side)),
		zap.Float64("entry", entry),
		zap.Float64("size", size),
		zap.Float64("stop_loss", sl),
		zap.Float64("take_profit", tp))
	return pos, nil
}

// UpdatePositions marks every open position to price and closes those that hit an exit.
// A failed close leaves the position open; the remaining positions are still processed.
func (m *Manager) UpdatePositions(ctx context.Context, st *models.GridState, price float64, now time.Time) ([]models.TradeRecord, error) {
	var (
		records []models.TradeRecord
		errs    []error
	)

	for _, pos := range append([]*models.GridPosition(nil), st.Positions...) {
		MarkToMarket(pos, price, st.Config)
		reason := ExitReason(pos)
		if reason == "" {
			continue
		}
		rec, err := m.Close(ctx, st, pos.ID, reason, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, *rec)
	}

	st.Performance.UnrealizedPnL = unrealized(st.Positions)
	return records, errors.Join(errs...)
}

// Close closes one position on the exchange and, once confirmed, removes it and puts
// its level into cooldown.
func (m *Manager) Close(ctx context.Context, st *models.GridState, positionID, reason string, now time.Time) (*models.TradeRecord, error) {
	idx := -1
	for i, p := range st.Positions {
		if p.ID == positionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	pos := st.Positions[idx]

	fill, err := m.ex.ClosePosition(ctx, models.CloseRequest{
		Symbol:   pos.Symbol,
		Side:     pos.Side,
		Quantity: pos.Size,
	})
	if err != nil {
		st.Performance.CloseFailures++
		m.logger.Error("close position failed, position kept open",
			zap.String("symbol", pos.Symbol),
			zap.String("position_id", pos.ID),
			zap.String("level_id", pos.LevelID),
			zap.String("reason", reason),
			zap.Error(err))
		return nil, fmt.Errorf("close %s: %w", pos.ID, err)
	}

	exit := pos.CurrentPrice
	if fill != nil && fill.Price > 0 {
		exit = fill.Price
	}
	if exit <= 0 {
		exit = st.CurrentPrice
	}
	realized, pct := pnl(pos, exit)

	st.Positions = append(st.Positions[:idx], st.Positions[idx+1:]...)

	perf := &st.Performance
	perf.TotalTrades++
	perf.RealizedPnL += realized
	if realized > 0 {
		perf.WinningTrades++
	} else {
		perf.LosingTrades++
	}
	perf.UnrealizedPnL = unrealized(st.Positions)

	if level := st.FindLevel(pos.LevelID); level != nil {
		closedAt := now
		level.Status = models.LevelCooldown
		level.LastClosedAt = &closedAt
	}

	m.logger.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("position_id", pos.ID),
		zap.String("level_id", pos.LevelID),
		zap.String("reason", reason),
		zap.Float64("exit", exit),
		zap.Float64("pnl", realized))

	return &models.TradeRecord{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		LevelID:    pos.LevelID,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		Size:       pos.Size,
		SizeUSD:    pos.SizeUSD,
		Leverage:   pos.Leverage,
		PnL:        realized,
		PnLPercent: pct,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
	}, nil
}

// CloseSide closes every position on one side.
func (m *Manager) CloseSide(ctx context.Context, st *models.GridState, side models.Side, reason string, now time.Time) ([]models.TradeRecord, error) {
	return m.closeWhere(ctx, st, reason, now, func(p *models.GridPosition) bool { return p.Side == side })
}

// CloseAll closes every open position. Failures are collected and returned together.
func (m *Manager) CloseAll(ctx context.Context, st *models.GridState, reason string, now time.Time) ([]models.TradeRecord, error) {
	return m.closeWhere(ctx, st, reason, now, func(*models.GridPosition) bool { return true })
}

// EmergencyRebalance closes everything and, only if every close succeeded, rebuilds the
// ladder around the current price. With a failed close the old ladder is kept so no
// open position loses its level.
func (m *Manager) EmergencyRebalance(ctx context.Context, st *models.GridState, now time.Time) ([]models.TradeRecord, error) {
	records, err := m.CloseAll(ctx, st, ExitEmergency, now)
	if err != nil {
		return records, fmt.Errorf("emergency rebalance: %w", err)
	}
	Regenerate(st, st.CurrentPrice, now)
	st.Performance.EmergencyRebalances++
	m.logger.Warn("grid regenerated after emergency rebalance",
		zap.String("symbol", st.Config.Symbol),
		zap.Float64("center", st.CenterPrice),
		zap.Int("levels", len(st.Levels)))
	return records, nil
}

// Regenerate replaces the ladder around center. Callers must have closed all positions.
func Regenerate(st *models.GridState, center float64, now time.Time) {
	cfg := st.Config
	st.Levels = grid.Generate(center, cfg.SpacingFraction(), cfg.LevelsPerSide, now)
	st.CenterPrice = center
	st.LastRebalance = now
}

func (m *Manager) closeWhere(ctx context.Context, st *models.GridState, reason string, now time.Time, match func(*models.GridPosition) bool) ([]models.TradeRecord, error) {
	var targets []string
	for _, p := range st.Positions {
		if match(p) {
			targets = append(targets, p.ID)
		}
	}

	var (
		records []models.TradeRecord
		errs    []error
	)
	for _, id := range targets {
		rec, err := m.Close(ctx, st, id, reason, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, *rec)
	}
	return records, errors.Join(errs...)
}

func unrealized(positions []*models.GridPosition) float64 {
	var sum float64
	for _, p := range positions {
		sum += p.UnrealizedPnL
	}
	return sum
}
