// Package session maps (chat, tier) pairs to the opaque session handles the
// assistant CLI issues, so each tier of a chat can resume its own
// conversation. The mapping is kept in memory and mirrored to a JSON file.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
)

// Data holds what is needed to resume an assistant session.
type Data struct {
	SessionID  string    `json:"session_id"`
	ProjectDir string    `json:"project_dir,omitempty"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Store is a durable (chatID, tier) → Data mapping. Reads are concurrent,
// writes serialized.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]Data
}

// New creates a Store persisted at path. Call Load to pick up prior state.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:     path,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]Data),
	}
}

func key(chatID string, tier invoker.Tier) string {
	if tier == "" {
		tier = invoker.TierChat
	}
	return chatID + "|" + string(tier)
}

// Get returns the session data for (chatID, tier).
func (s *Store) Get(chatID string, tier invoker.Tier) (Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sessions[key(chatID, tier)]
	return d, ok
}

// SessionID returns just the resume handle, or "" when none is stored.
func (s *Store) SessionID(chatID string, tier invoker.Tier) string {
	d, _ := s.Get(chatID, tier)
	return d.SessionID
}

// Set stores a new session handle for (chatID, tier), replacing any prior one.
func (s *Store) Set(chatID, sessionID, projectDir string, tier invoker.Tier) {
	s.mu.Lock()
	s.sessions[key(chatID, tier)] = Data{
		SessionID:  sessionID,
		ProjectDir: projectDir,
		LastUsedAt: time.Now(),
	}
	s.mu.Unlock()
}

// ClearTier removes the session for one (chatID, tier).
func (s *Store) ClearTier(chatID string, tier invoker.Tier) {
	s.mu.Lock()
	delete(s.sessions, key(chatID, tier))
	s.mu.Unlock()
}

// Clear removes the sessions for all tiers of a chat.
func (s *Store) Clear(chatID string) {
	s.mu.Lock()
	for _, tier := range []invoker.Tier{invoker.TierChat, invoker.TierOrchestrator, invoker.TierWorker} {
		delete(s.sessions, key(chatID, tier))
	}
	s.mu.Unlock()
}

// Save writes the mapping to disk atomically (tmp + rename).
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename sessions: %w", err)
	}
	return nil
}

// Load reads the mapping from disk. A missing file is not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read sessions: %w", err)
	}

	var sessions map[string]Data
	if err := json.Unmarshal(data, &sessions); err != nil {
		// A corrupt file should not take the bot down; start fresh.
		s.logger.Warn("session file corrupt, starting fresh", "path", s.path, "error", err)
		return nil
	}

	s.mu.Lock()
	s.sessions = sessions
	if s.sessions == nil {
		s.sessions = make(map[string]Data)
	}
	s.mu.Unlock()
	return nil
}
