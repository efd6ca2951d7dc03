package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"ai-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const stateKeyPrefix = "grid_state/"

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logger is noisy; errors still come back from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dbPath, err)
	}
	return &badgerRepository{db: db}, nil
}

func stateKey(symbol string) []byte {
	return []byte(stateKeyPrefix + symbol)
}

// SaveState marshals the state into JSON and stores it under the bot's symbol.
func (r *badgerRepository) SaveState(state *models.GridState) error {
	if state == nil || state.Config.Symbol == "" {
		return errors.New("cannot save state without a symbol")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.Config.Symbol), data)
	})
}

// LoadState loads the snapshot for symbol.
// If the key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState(symbol string) (*models.GridState, error) {
	var state models.GridState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(symbol))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// DeleteState removes the snapshot for symbol. Deleting a missing key is not an error.
func (r *badgerRepository) DeleteState(symbol string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stateKey(symbol))
	})
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
