package persistence

import "ai-grid-bot-go/internal/models"

// StateRepository defines the interface for grid state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the full state snapshot of one bot, keyed by symbol.
	SaveState(state *models.GridState) error

	// LoadState loads the snapshot for symbol.
	// If no state is found, it should return (nil, nil).
	LoadState(symbol string) (*models.GridState, error)

	// DeleteState removes the snapshot for symbol.
	DeleteState(symbol string) error

	// Close gracefully closes the connection to the database.
	Close() error
}
