package storage

import (
	"database/sql"
	"fmt"
	"time"

	"ai-grid-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// Every closed grid position, used for reporting and post-mortems.
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		position_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		level_id TEXT,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		size REAL NOT NULL,
		size_usd REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		reason TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	// AI decisions, both executed and discarded below the confidence threshold.
	createDecisionsTableSQL := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		confidence REAL NOT NULL,
		executed BOOLEAN NOT NULL,
		reasoning TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createDecisionsTableSQL); err != nil {
		return err
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_symbol_closed ON trades (symbol, closed_at);`)
	return err
}

// Journal writes the trade and decision history.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the sqlite journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// RecordTrade inserts a closed trade. Re-recording the same position is ignored.
func (j *Journal) RecordTrade(rec models.TradeRecord) error {
	query := `
	INSERT OR IGNORE INTO trades (position_id, symbol, side, level_id, entry_price, exit_price, size, size_usd, leverage, pnl, pnl_percent, reason, opened_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query,
		rec.PositionID, rec.Symbol, string(rec.Side), rec.LevelID, rec.EntryPrice, rec.ExitPrice,
		rec.Size, rec.SizeUSD, rec.Leverage, rec.PnL, rec.PnLPercent, rec.Reason,
		rec.OpenedAt.UnixMilli(), rec.ClosedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record trade %s: %w", rec.PositionID, err)
	}
	return nil
}

// RecordDecision stores an AI decision and whether it was executed.
func (j *Journal) RecordDecision(symbol string, d models.AIDecision, executed bool) error {
	query := `
	INSERT OR IGNORE INTO decisions (id, symbol, action, confidence, executed, reasoning, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query, d.ID, symbol, string(d.Action), d.Confidence, executed, d.Reasoning, d.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record decision %s: %w", d.ID, err)
	}
	return nil
}

// RecentTrades returns up to limit trades for symbol, newest first.
func (j *Journal) RecentTrades(symbol string, limit int) ([]models.TradeRecord, error) {
	query := `
	SELECT position_id, symbol, side, level_id, entry_price, exit_price, size, size_usd, leverage, pnl, pnl_percent, reason, opened_at, closed_at
	FROM trades
	WHERE symbol = ?
	ORDER BY closed_at DESC
	LIMIT ?`

	rows, err := j.db.Query(query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			rec              models.TradeRecord
			side             string
			openedMs, closed int64
		)
		if err := rows.Scan(&rec.PositionID, &rec.Symbol, &side, &rec.LevelID, &rec.EntryPrice, &rec.ExitPrice,
			&rec.Size, &rec.SizeUSD, &rec.Leverage, &rec.PnL, &rec.PnLPercent, &rec.Reason, &openedMs, &closed); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		rec.Side = models.Side(side)
		rec.OpenedAt = time.UnixMilli(openedMs)
		rec.ClosedAt = time.UnixMilli(closed)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DecisionCounts returns executed and discarded decision counts for symbol.
func (j *Journal) DecisionCounts(symbol string) (executed, discarded int, err error) {
	row := j.db.QueryRow(`
	SELECT
		COALESCE(SUM(CASE WHEN executed THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN executed THEN 0 ELSE 1 END), 0)
	FROM decisions WHERE symbol = ?`, symbol)
	if err := row.Scan(&executed, &discarded); err != nil {
		return 0, 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	return executed, discarded, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
