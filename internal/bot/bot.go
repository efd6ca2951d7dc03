// Package bot runs one virtual grid per symbol: it owns the GridState and drives the
// grid, admission, AI and lifecycle components once per price tick.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"ai-grid-bot-go/internal/admission"
	"ai-grid-bot-go/internal/ai"
	"ai-grid-bot-go/internal/config"
	"ai-grid-bot-go/internal/exchange"
	"ai-grid-bot-go/internal/grid"
	"ai-grid-bot-go/internal/lifecycle"
	"ai-grid-bot-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized    = errors.New("grid not initialized")
	ErrAlreadyRunning    = errors.New("bot is running")
	ErrNotRunning        = errors.New("bot is not running")
	ErrTickInProgress    = errors.New("previous tick still in progress")
	ErrSignalUnavailable = errors.New("price or signals unavailable")
)

// Recorder receives published snapshots, closed trades and AI decisions.
// Implementations must not block.
type Recorder interface {
	RecordSnapshot(state *models.GridState)
	RecordTrade(rec models.TradeRecord)
	RecordDecision(symbol string, d models.AIDecision, executed bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordSnapshot(*models.GridState)               {}
func (nopRecorder) RecordTrade(models.TradeRecord)                 {}
func (nopRecorder) RecordDecision(string, models.AIDecision, bool) {}

// Option configures a GridBot.
type Option func(*GridBot)

// WithRecorder sends snapshots, trades and decisions to r.
func WithRecorder(r Recorder) Option {
	return func(b *GridBot) {
		if r != nil {
			b.recorder = r
		}
	}
}

// WithClock overrides time.Now, mainly for replay and tests.
func WithClock(now func() time.Time) Option {
	return func(b *GridBot) {
		if now != nil {
			b.now = now
		}
	}
}

// GridBot is the orchestrator for one symbol.
//
// All writes to the state happen under tickMu. Readers only see immutable snapshots
// published through an atomic pointer, so GetState never waits for a tick.
type GridBot struct {
	ex        exchange.Exchange
	gate      *admission.Gate
	engine    *ai.Engine
	lifecycle *lifecycle.Manager
	reactive  *admission.ReactiveTracker
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	tickMu      sync.Mutex
	state       *models.GridState
	leverageSet bool // guarded by tickMu
	running     atomic.Bool
	dropped     atomic.Int64

	snapshot     atomic.Pointer[models.GridState]
	lastDecision atomic.Pointer[models.AIDecision]
}

// NewGridBot validates cfg and creates a stopped bot with an empty ladder.
func NewGridBot(cfg models.GridConfig, ex exchange.Exchange, logger *zap.Logger, opts ...Option) (*GridBot, error) {
	if err := config.ValidateGridConfig(cfg); err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, errors.New("exchange is required")
	}

	logger = logger.With(zap.String("symbol", cfg.Symbol))
	b := &GridBot{
		ex:        ex,
		gate:      admission.NewGate(logger),
		engine:    ai.NewEngine(),
		lifecycle: lifecycle.NewManager(ex, logger),
		reactive:  admission.NewReactiveTracker(cfg.ReactionThreshold),
		recorder:  nopRecorder{},
		logger:    logger,
		now:       time.Now,
		state: &models.GridState{
			BotID:       uuid.NewString(),
			Config:      cfg,
			Performance: models.Performance{RejectedLevels: make(map[string]int)},
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.publish()
	return b, nil
}

// Symbol returns the traded symbol.
func (b *GridBot) Symbol() string {
	return b.snapshot.Load().Config.Symbol
}

// IsRunning reports whether ticks are being processed.
func (b *GridBot) IsRunning() bool {
	return b.running.Load()
}

// Initialize builds a fresh ladder around currentPrice and clears the position set.
// It must be called before Start and is refused while running.
func (b *GridBot) Initialize(currentPrice float64) error {
	if currentPrice <= 0 || math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) {
		return fmt.Errorf("%w: invalid price %v", ErrSignalUnavailable, currentPrice)
	}

	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	if b.running.Load() {
		return ErrAlreadyRunning
	}

	st := b.state
	if len(st.Positions) > 0 {
		b.logger.Error("initialize discards tracked positions, check the exchange for leftovers",
			zap.Int("positions", len(st.Positions)))
	}
	st.Positions = nil
	lifecycle.Regenerate(st, currentPrice, b.now())
	st.CurrentPrice = currentPrice
	st.Stale = false
	st.LastError = ""
	b.reactive.Reset()

	b.logger.Info("grid initialized",
		zap.Float64("center", currentPrice),
		zap.Int("levels", len(st.Levels)),
		zap.Float64("spacing_pct", st.Config.GridSpacing))
	b.publish()
	return nil
}

// Restore replaces the state with one loaded from storage. Open positions and the
// ladder they belong to are kept; the bot stays stopped.
func (b *GridBot) Restore(saved *models.GridState) error {
	if saved == nil {
		return errors.New("nothing to restore")
	}
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	if b.running.Load() {
		return ErrAlreadyRunning
	}
	if saved.Config.Symbol != b.state.Config.Symbol {
		return fmt.Errorf("saved state is for %s, bot trades %s", saved.Config.Symbol, b.state.Config.Symbol)
	}

	st := saved.Clone()
	st.Config = b.state.Config
	st.Running = false
	if st.BotID == "" {
		st.BotID = b.state.BotID
	}
	if st.Performance.RejectedLevels == nil {
		st.Performance.RejectedLevels = make(map[string]int)
	}
	for _, p := range st.Positions {
		if p.LevelID != "" && st.FindLevel(p.LevelID) == nil {
			b.logger.Warn("restored position references an unknown level",
				zap.String("position_id", p.ID), zap.String("level_id", p.LevelID))
		}
	}
	b.state = st
	b.reactive.Reset()

	counts := grid.Counts(st.Levels)
	b.logger.Info("state restored",
		zap.Int("positions", len(st.Positions)),
		zap.Int("levels", len(st.Levels)),
		zap.Int("filled", counts[models.LevelFilled]),
		zap.Int("cooldown", counts[models.LevelCooldown]),
		zap.Float64("center", st.CenterPrice))
	b.publish()
	return nil
}

// Reconfigure swaps the config of a stopped bot. The ladder is dropped when the
// grid geometry changes, so Initialize must run again before Start.
func (b *GridBot) Reconfigure(cfg models.GridConfig) error {
	if err := config.ValidateGridConfig(cfg); err != nil {
		return err
	}
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	if b.running.Load() {
		return ErrAlreadyRunning
	}
	if cfg.Symbol != b.state.Config.Symbol {
		return fmt.Errorf("cannot change symbol from %s to %s", b.state.Config.Symbol, cfg.Symbol)
	}

	old := b.state.Config
	b.state.Config = cfg
	if old.GridSpacing != cfg.GridSpacing || old.LevelsPerSide != cfg.LevelsPerSide {
		if len(b.state.Positions) > 0 {
			b.state.Config = old
			return errors.New("grid geometry cannot change while positions are open")
		}
		b.state.Levels = nil
	}
	b.reactive = admission.NewReactiveTracker(cfg.ReactionThreshold)
	b.publish()
	return nil
}

// Start begins processing ticks. Starting a running bot is a no-op.
func (b *GridBot) Start(ctx context.Context) error {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	if b.running.Load() {
		return nil
	}
	st := b.state
	if len(st.Levels) == 0 {
		return ErrNotInitialized
	}

	b.leverageSet = false
	if err := b.ex.SetLeverage(ctx, st.Config.Symbol, st.Config.Leverage); err != nil {
		b.logger.Warn("set leverage failed, retrying on the next tick", zap.Error(err))
		st.Stale = true
		st.LastError = err.Error()
	} else {
		b.leverageSet = true
	}

	st.Running = true
	b.running.Store(true)
	b.logger.Info("bot started",
		zap.Int("positions", len(st.Positions)),
		zap.Float64("center", st.CenterPrice))
	b.publish()
	return nil
}

// Stop halts tick processing, waits for an in-flight tick and closes every position.
// The bot is stopped even when some closes fail; those errors are returned.
func (b *GridBot) Stop(ctx context.Context) error {
	b.running.Store(false)

	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	// a Start queued behind the in-flight tick may have flipped it back
	b.running.Store(false)

	st := b.state
	st.Running = false
	now := b.now()
	records, err := b.lifecycle.CloseAll(ctx, st, lifecycle.ExitManualStop, now)
	b.recordTrades(records)
	if err != nil {
		st.Stale = true
		st.LastError = err.Error()
		b.logger.Error("bot stopped with open positions", zap.Int("positions", len(st.Positions)), zap.Error(err))
	} else {
		b.logger.Info("bot stopped", zap.Int("closed", len(records)))
	}
	st.LastUpdate = now
	b.publish()

	if err != nil {
		return fmt.Errorf("stop %s: %w", st.Config.Symbol, err)
	}
	return nil
}

// OnPriceUpdate runs one tick. Ticks never overlap: a tick that arrives while the
// previous one is still running is dropped and counted.
func (b *GridBot) OnPriceUpdate(ctx context.Context, price float64, sig *models.GridSignals) error {
	if sig == nil || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		b.logger.Debug("tick skipped", zap.Float64("price", price), zap.Bool("signals", sig != nil))
		return ErrSignalUnavailable
	}
	if !b.running.Load() {
		return ErrNotRunning
	}
	if !b.tickMu.TryLock() {
		n := b.dropped.Add(1)
		b.logger.Warn("tick dropped, previous tick still running",
			zap.Float64("price", price), zap.Int64("dropped_total", n))
		return ErrTickInProgress
	}
	defer b.tickMu.Unlock()

	// Stop may have won the race for the lock.
	if !b.running.Load() {
		return ErrNotRunning
	}

	b.tick(ctx, price, sig)
	return nil
}

func (b *GridBot) tick(ctx context.Context, price float64, sig *models.GridSignals) {
	st := b.state
	cfg := st.Config
	now := b.now()
	prev := st.CurrentPrice
	st.CurrentPrice = price

	var (
		exchErrs []error
		exchOK   int // exchange calls that succeeded this tick
	)
	if !b.leverageSet {
		if err := b.ex.SetLeverage(ctx, cfg.Symbol, cfg.Leverage); err != nil {
			exchErrs = append(exchErrs, fmt.Errorf("set leverage: %w", err))
		} else {
			b.leverageSet = true
			exchOK++
			b.logger.Info("leverage set", zap.Int("leverage", cfg.Leverage))
		}
	}

	if n := grid.ExpireCooldowns(st.Levels, cfg.LevelCooldown(), now); n > 0 {
		b.logger.Debug("levels back to pending", zap.Int("count", n))
	}
	bias := b.reactive.Update(price)

	records, err := b.lifecycle.UpdatePositions(ctx, st, price, now)
	b.recordTrades(records)
	exchOK += len(records)
	if err != nil {
		exchErrs = append(exchErrs, err)
	}

	crossed := grid.Crossed(st.Levels, prev, price)
	if len(crossed) > 0 {
		proposals := b.gate.Evaluate(admission.Input{
			Config:    cfg,
			Positions: st.Positions,
			Crossed:   crossed,
			Signals:   sig,
			Reactive:  bias,
		})
		for _, p := range proposals {
			if !p.Admit {
				st.Performance.RejectedLevels[p.Reason]++
				continue
			}
			if _, err := b.lifecycle.Open(ctx, st, p.Level, sig, now); err != nil {
				exchErrs = append(exchErrs, err)
			} else {
				exchOK++
			}
		}
	}

	decision := b.engine.Evaluate(ai.Input{
		Config:       cfg,
		Positions:    st.Positions,
		CurrentPrice: price,
		Signals:      *sig,
		CrossedCount: len(crossed),
		Now:          now,
	})
	b.lastDecision.Store(&decision)
	if decision.Action != models.ActionHold {
		n, err := b.applyDecision(ctx, decision, now)
		exchOK += n
		if err != nil {
			exchErrs = append(exchErrs, err)
		}
	}

	if len(st.Positions) == 0 && b.shouldRecenter(price) {
		old := st.CenterPrice
		lifecycle.Regenerate(st, price, now)
		st.Performance.Recenters++
		b.logger.Info("grid recentered", zap.Float64("from", old), zap.Float64("to", price))
	}

	// a quiet tick proves nothing about the exchange; check it before clearing
	if len(exchErrs) == 0 && exchOK == 0 && st.Stale {
		if _, err := b.ex.GetTicker(ctx, cfg.Symbol); err != nil {
			exchErrs = append(exchErrs, fmt.Errorf("exchange check: %w", err))
		} else {
			exchOK++
		}
	}
	if len(exchErrs) > 0 {
		st.Stale = true
		st.LastError = errors.Join(exchErrs...).Error()
	} else if exchOK > 0 {
		st.Stale = false
		st.LastError = ""
	}
	st.LastUpdate = now
	b.publish()
}

// applyDecision discards low-confidence decisions and executes the rest. It returns
// the number of confirmed closes.
func (b *GridBot) applyDecision(ctx context.Context, d models.AIDecision, now time.Time) (int, error) {
	st := b.state
	if d.Confidence < st.Config.AIConfidenceThreshold {
		st.Performance.DecisionsDiscarded++
		b.recorder.RecordDecision(st.Config.Symbol, d, false)
		b.logger.Info("ai decision below confidence threshold, discarded",
			zap.String("action", string(d.Action)),
			zap.Float64("confidence", d.Confidence),
			zap.Float64("threshold", st.Config.AIConfidenceThreshold),
			zap.String("reasoning", d.Reasoning))
		return 0, nil
	}

	b.logger.Warn("executing ai decision",
		zap.String("decision_id", d.ID),
		zap.String("action", string(d.Action)),
		zap.Float64("confidence", d.Confidence),
		zap.String("reasoning", d.Reasoning))

	var (
		records []models.TradeRecord
		err     error
	)
	switch d.Action {
	case models.ActionCutLong:
		records, err = b.lifecycle.CloseSide(ctx, st, models.Long, lifecycle.ExitCutLong, now)
	case models.ActionCutShort:
		records, err = b.lifecycle.CloseSide(ctx, st, models.Short, lifecycle.ExitCutShort, now)
	case models.ActionCloseAll:
		records, err = b.lifecycle.CloseAll(ctx, st, lifecycle.ExitCloseAll, now)
	case models.ActionEmergencyRebalance:
		records, err = b.lifecycle.EmergencyRebalance(ctx, st, now)
		if err == nil {
			b.reactive.Reset()
		}
	case models.ActionHold:
	default:
		return 0, fmt.Errorf("unhandled ai action %q", d.Action)
	}
	b.recordTrades(records)

	if err != nil {
		st.Performance.DecisionsFailed++
		b.recorder.RecordDecision(st.Config.Symbol, d, false)
		return len(records), err
	}
	st.Performance.DecisionsExecuted++
	b.recorder.RecordDecision(st.Config.Symbol, d, true)
	return len(records), nil
}

func (b *GridBot) shouldRecenter(price float64) bool {
	st := b.state
	threshold := st.Config.RebalanceThreshold
	if threshold <= 0 || st.CenterPrice <= 0 {
		return false
	}
	return math.Abs(price-st.CenterPrice)/st.CenterPrice*100 >= threshold
}

func (b *GridBot) recordTrades(records []models.TradeRecord) {
	for _, rec := range records {
		b.recorder.RecordTrade(rec)
	}
}

// publish stores a deep copy of the state for readers. Callers hold tickMu or are
// the constructor.
func (b *GridBot) publish() {
	snap := b.state.Clone()
	snap.Performance.DroppedTicks = b.dropped.Load()
	snap.Performance.WinRate = winRate(snap.Performance)
	b.snapshot.Store(snap)
	b.recorder.RecordSnapshot(snap)
}

func winRate(p models.Performance) float64 {
	if p.TotalTrades == 0 {
		return 0
	}
	return float64(p.WinningTrades) / float64(p.TotalTrades) * 100
}

// GetState returns a deep copy of the last published state.
func (b *GridBot) GetState() *models.GridState {
	st := b.snapshot.Load().Clone()
	st.Performance.DroppedTicks = b.dropped.Load()
	return st
}

// GetPositions returns copies of the open positions.
func (b *GridBot) GetPositions() []models.GridPosition {
	snap := b.snapshot.Load()
	out := make([]models.GridPosition, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		out = append(out, *p)
	}
	return out
}

// GetPerformance returns the current statistics.
func (b *GridBot) GetPerformance() models.Performance {
	return b.GetState().Performance
}

// GetLastDecision returns the most recent AI decision, executed or not.
func (b *GridBot) GetLastDecision() *models.AIDecision {
	d := b.lastDecision.Load()
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}
