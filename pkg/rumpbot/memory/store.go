// Package memory stores durable per-chat notes and renders them into the
// context prefix the chat tier sees on every call. Notes come from two
// sources: the assistant's own <TIFFBOT_MEMORY> blocks (auto) and explicit
// "remember" commands (manual).
package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Source says where a note came from.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// Note is one durable per-chat fact.
type Note struct {
	ID        string
	ChatID    string
	Text      string
	Source    Source
	CreatedAt time.Time
}

// Store persists notes in SQLite, insertion-ordered per chat.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the note store at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS memory_notes (
			rowid_ord  INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT UNIQUE NOT NULL,
			chat_id    TEXT NOT NULL,
			note       TEXT NOT NULL,
			source     TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memory_notes_chat ON memory_notes(chat_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "memory")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Add stores a trimmed note. Empty text after trimming is rejected.
func (s *Store) Add(chatID, text string, source Source) (*Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("memory: empty note")
	}

	note := &Note{
		ID:        uuid.New().String()[:8],
		ChatID:    chatID,
		Text:      text,
		Source:    source,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO memory_notes (id, chat_id, note, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		note.ID, note.ChatID, note.Text, string(note.Source),
		note.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("save note: %w", err)
	}
	return note, nil
}

// List returns a chat's notes in insertion order.
func (s *Store) List(chatID string) ([]Note, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, note, source, created_at
		FROM memory_notes
		WHERE chat_id = ?
		ORDER BY rowid_ord ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var source, createdAt string
		if err := rows.Scan(&n.ID, &n.ChatID, &n.Text, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.Source = Source(source)
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Remove deletes one note by id. Returns false when the id is unknown.
func (s *Store) Remove(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM memory_notes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove note: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Clear deletes all notes for a chat and returns how many were removed.
func (s *Store) Clear(chatID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM memory_notes WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("clear notes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ContextBlock renders the chat's notes as a bracketed section suitable for
// prepending to a prompt. Returns "" when the chat has no notes.
func (s *Store) ContextBlock(chatID string) string {
	notes, err := s.List(chatID)
	if err != nil {
		s.logger.Warn("failed to load notes for context", "chat_id", chatID, "error", err)
		return ""
	}
	if len(notes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("[MEMORY CONTEXT]\n")
	for _, n := range notes {
		b.WriteString("- ")
		b.WriteString(n.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
