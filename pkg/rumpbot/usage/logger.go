// Package usage is the append-only sink for per-call invocation records:
// cost, token counts, durations, and outcome of every assistant CLI call.
// The core only writes; the aggregate readers exist for the usage command
// and whatever dashboard sits on top of the database.
package usage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one assistant invocation.
type Record struct {
	Timestamp     time.Time
	ChatID        string
	Tier          invoker.Tier
	DurationMS    int64
	DurationAPIMS int64
	CostUSD       float64
	NumTurns      int
	StopReason    string
	IsError       bool
	ModelUsage    map[string]invoker.ModelTokens
}

// Totals is the all-time rollup.
type Totals struct {
	Calls   int64
	CostUSD float64
	Turns   int64
	Errors  int64
	WallMS  int64
	APIMS   int64
}

// DayTotals is one day's rollup.
type DayTotals struct {
	Day     string // YYYY-MM-DD
	Calls   int64
	CostUSD float64
}

// Logger persists invocation records to SQLite. Writes are serialized.
type Logger struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Open creates or opens the invocation log at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS invocations (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			ts              TEXT NOT NULL,
			chat_id         TEXT NOT NULL,
			tier            TEXT NOT NULL,
			duration_ms     INTEGER NOT NULL DEFAULT 0,
			duration_api_ms INTEGER NOT NULL DEFAULT 0,
			cost_usd        REAL NOT NULL DEFAULT 0,
			num_turns       INTEGER NOT NULL DEFAULT 0,
			stop_reason     TEXT NOT NULL DEFAULT '',
			is_error        INTEGER NOT NULL DEFAULT 0,
			model_usage     TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_invocations_ts ON invocations(ts);
		CREATE INDEX IF NOT EXISTS idx_invocations_chat ON invocations(chat_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}

	return &Logger{db: db, logger: logger.With("component", "usage")}, nil
}

// Close releases the database handle.
func (l *Logger) Close() error { return l.db.Close() }

// Record appends one invocation. A zero Timestamp is stamped with now.
func (l *Logger) Record(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	usageJSON, err := json.Marshal(rec.ModelUsage)
	if err != nil {
		usageJSON = []byte("{}")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.Exec(`
		INSERT INTO invocations
			(ts, chat_id, tier, duration_ms, duration_api_ms, cost_usd, num_turns, stop_reason, is_error, model_usage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.ChatID, string(rec.Tier),
		rec.DurationMS, rec.DurationAPIMS, rec.CostUSD, rec.NumTurns,
		rec.StopReason, boolToInt(rec.IsError), string(usageJSON),
	)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// AllTime returns the all-time totals.
func (l *Logger) AllTime() (Totals, error) {
	var t Totals
	err := l.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(num_turns), 0),
		       COALESCE(SUM(is_error), 0),
		       COALESCE(SUM(duration_ms), 0),
		       COALESCE(SUM(duration_api_ms), 0)
		FROM invocations`,
	).Scan(&t.Calls, &t.CostUSD, &t.Turns, &t.Errors, &t.WallMS, &t.APIMS)
	if err != nil {
		return Totals{}, fmt.Errorf("usage totals: %w", err)
	}
	return t, nil
}

// Daily returns per-day rollups for the last N days, newest first.
func (l *Logger) Daily(days int) ([]DayTotals, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	rows, err := l.db.Query(`
		SELECT substr(ts, 1, 10) AS day,
		       COUNT(*),
		       COALESCE(SUM(cost_usd), 0)
		FROM invocations
		WHERE ts > ?
		GROUP BY day
		ORDER BY day DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("usage daily: %w", err)
	}
	defer rows.Close()

	var out []DayTotals
	for rows.Next() {
		var d DayTotals
		if err := rows.Scan(&d.Day, &d.Calls, &d.CostUSD); err != nil {
			return nil, fmt.Errorf("scan daily row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
