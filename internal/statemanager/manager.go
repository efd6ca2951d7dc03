package statemanager

import (
	"sync"
	"sync/atomic"
	"time"

	"ai-grid-bot-go/internal/models"
	"ai-grid-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	SnapshotEvent EventType = iota
	TradeClosedEvent
	DecisionEvent
)

func (t EventType) String() string {
	switch t {
	case SnapshotEvent:
		return "snapshot"
	case TradeClosedEvent:
		return "trade_closed"
	case DecisionEvent:
		return "decision"
	default:
		return "unknown"
	}
}

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// DecisionEventData carries an AI decision and whether the bot acted on it.
type DecisionEventData struct {
	Symbol   string
	Decision models.AIDecision
	Executed bool
}

// Journal is the append-only history store.
type Journal interface {
	RecordTrade(rec models.TradeRecord) error
	RecordDecision(symbol string, d models.AIDecision, executed bool) error
}

// StateManager takes bot events off the hot path and persists them in the background.
// Events are processed serially; snapshots are written by a separate persistence loop.
type StateManager struct {
	repo            persistence.StateRepository
	journal         Journal
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.GridState
	stopChan        chan struct{}
	stopped         atomic.Bool
	dropped         atomic.Int64
	wg              sync.WaitGroup
	logger          *zap.Logger

	mu     sync.RWMutex
	latest map[string]*models.GridState
}

// NewStateManager creates a new StateManager. repo and journal may be nil.
func NewStateManager(repo persistence.StateRepository, journal Journal, logger *zap.Logger) *StateManager {
	return &StateManager{
		repo:            repo,
		journal:         journal,
		eventChannel:    make(chan NormalizedEvent, 1024),  // Buffered channel
		persistenceChan: make(chan *models.GridState, 128), // Buffered channel for state snapshots to be persisted
		stopChan:        make(chan struct{}),
		logger:          logger,
		latest:          make(map[string]*models.GridState),
	}
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop flushes queued events and waits for both loops to exit.
func (sm *StateManager) Stop() {
	if !sm.stopped.CompareAndSwap(false, true) {
		return
	}
	close(sm.stopChan)
	sm.wg.Wait()
	sm.logger.Sugar().Infof("StateManager stopped. Dropped events: %d", sm.dropped.Load())
}

// DispatchEvent queues an event without blocking. When the queue is full the event is
// dropped and counted.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	if sm.stopped.Load() {
		return
	}
	select {
	case sm.eventChannel <- event:
	default:
		sm.dropped.Add(1)
		sm.logger.Warn("event queue full, dropping event", zap.Stringer("type", event.Type))
	}
}

// RecordSnapshot queues a state snapshot. The caller must not modify it afterwards.
func (sm *StateManager) RecordSnapshot(state *models.GridState) {
	sm.DispatchEvent(NormalizedEvent{Type: SnapshotEvent, Timestamp: time.Now(), Data: state})
}

// RecordTrade queues a closed trade for the journal.
func (sm *StateManager) RecordTrade(rec models.TradeRecord) {
	sm.DispatchEvent(NormalizedEvent{Type: TradeClosedEvent, Timestamp: time.Now(), Data: rec})
}

// RecordDecision queues an AI decision for the journal.
func (sm *StateManager) RecordDecision(symbol string, d models.AIDecision, executed bool) {
	sm.DispatchEvent(NormalizedEvent{Type: DecisionEvent, Timestamp: time.Now(), Data: DecisionEventData{Symbol: symbol, Decision: d, Executed: executed}})
}

// GetStateSnapshot returns a deep copy of the latest snapshot recorded for symbol.
func (sm *StateManager) GetStateSnapshot(symbol string) *models.GridState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.latest[symbol].Clone()
}

// DroppedEvents returns how many events were discarded because the queue was full.
func (sm *StateManager) DroppedEvents() int64 {
	return sm.dropped.Load()
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	defer close(sm.persistenceChan)

	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			for {
				select {
				case event := <-sm.eventChannel:
					sm.processEvent(event)
				default:
					return
				}
			}
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots until the event
// loop closes the channel.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for stateToSave := range sm.persistenceChan {
		if sm.repo == nil {
			continue
		}
		if err := sm.repo.SaveState(stateToSave); err != nil {
			sm.logger.Error("failed to save state",
				zap.String("symbol", stateToSave.Config.Symbol),
				zap.Error(err))
		}
	}
}

// processEvent routes an event to the repository or journal.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	switch event.Type {
	case SnapshotEvent:
		state, ok := event.Data.(*models.GridState)
		if !ok || state == nil {
			sm.logger.Sugar().Warnf("Received SnapshotEvent with unexpected data type: %T", event.Data)
			return
		}
		sm.mu.Lock()
		sm.latest[state.Config.Symbol] = state
		sm.mu.Unlock()
		sm.persistenceChan <- state

	case TradeClosedEvent:
		rec, ok := event.Data.(models.TradeRecord)
		if !ok {
			sm.logger.Sugar().Warnf("Received TradeClosedEvent with unexpected data type: %T", event.Data)
			return
		}
		if sm.journal != nil {
			if err := sm.journal.RecordTrade(rec); err != nil {
				sm.logger.Error("failed to journal trade", zap.String("position_id", rec.PositionID), zap.Error(err))
			}
		}

	case DecisionEvent:
		data, ok := event.Data.(DecisionEventData)
		if !ok {
			sm.logger.Sugar().Warnf("Received DecisionEvent with unexpected data type: %T", event.Data)
			return
		}
		if sm.journal != nil {
			if err := sm.journal.RecordDecision(data.Symbol, data.Decision, data.Executed); err != nil {
				sm.logger.Error("failed to journal decision", zap.String("decision_id", data.Decision.ID), zap.Error(err))
			}
		}
	}
}
