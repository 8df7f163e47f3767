package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome values stored in the history table.
const (
	OutcomeDone       = "done"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
	OutcomeTerminated = "terminated"
)

// Entry is one control request as stored in the history.
type Entry struct {
	ID          int64
	ActionID    string
	Kind        string
	Outcome     string
	Error       string
	RequestedAt time.Time
	FinishedAt  time.Time
}

// History is the sqlite-backed action log.
type History struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenHistory opens (or creates) the history database. Use ":memory:" in tests.
func OpenHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	h := &History{db: db}
	if err := h.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return h, nil
}

func (h *History) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		requested_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_requested_at ON actions(requested_at);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record appends an entry.
func (h *History) Record(ctx context.Context, e Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.db.ExecContext(ctx,
		"INSERT INTO actions (action_id, kind, outcome, error, requested_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.ActionID, e.Kind, e.Outcome, e.Error, e.RequestedAt.UnixMilli(), e.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rows, err := h.db.QueryContext(ctx,
		"SELECT id, action_id, kind, outcome, COALESCE(error, ''), requested_at, finished_at FROM actions ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var requested, finished int64
		if err := rows.Scan(&e.ID, &e.ActionID, &e.Kind, &e.Outcome, &e.Error, &requested, &finished); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		e.RequestedAt = time.UnixMilli(requested)
		e.FinishedAt = time.UnixMilli(finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Trim deletes entries requested before cutoff and returns how many went.
func (h *History) Trim(ctx context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.db.ExecContext(ctx, "DELETE FROM actions WHERE requested_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("trim actions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
