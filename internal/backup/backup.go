// File: internal/backup/backup.go
// Description: Durable single-slot storage for the recorder's session state.

package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
	"github.com/xkilldash9x/recplay/pkg/fsutil"
)

const slotVersion = 1

// slot is the on-disk envelope around the session.
type slot struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	Session schemas.Session `json:"session"`
}

// FileStore keeps the session in a single JSON file, rewritten atomically on
// every Save.
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("backup path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &FileStore{path: path, logger: logger.Named("backup")}, nil
}

// Path returns the slot file location.
func (s *FileStore) Path() string { return s.path }

// Save overwrites the slot with sess.
func (s *FileStore) Save(ctx context.Context, sess schemas.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(slot{Version: slotVersion, SavedAt: time.Now().UTC(), Session: sess})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.AtomicWrite(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	s.logger.Debug("Backup saved.", zap.Int("actions", len(sess.Actions)), zap.Bool("active", sess.Active))
	return nil
}

// Load returns the stored session, or an empty one when the slot is empty.
func (s *FileStore) Load(ctx context.Context) (schemas.Session, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Session{}, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return schemas.Session{}, nil
	}
	if err != nil {
		return schemas.Session{}, fmt.Errorf("failed to read backup: %w", err)
	}

	var stored slot
	if err := json.Unmarshal(data, &stored); err != nil {
		return schemas.Session{}, fmt.Errorf("failed to decode backup %s: %w", s.path, err)
	}
	if stored.Version != slotVersion {
		return schemas.Session{}, fmt.Errorf("unsupported backup version %d", stored.Version)
	}
	return stored.Session, nil
}

// Clear empties the slot.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.RemoveAndSync(s.path); err != nil {
		return fmt.Errorf("failed to clear backup: %w", err)
	}
	s.logger.Debug("Backup cleared.")
	return nil
}

// MemoryStore is an in-process slot. Contents survive orchestrator restarts
// within one process, which is what tests need to simulate eviction.
type MemoryStore struct {
	mu      sync.Mutex
	session *schemas.Session
	saves   int
}

// NewMemoryStore returns an empty in-memory slot.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Save stores a deep copy of sess.
func (m *MemoryStore) Save(_ context.Context, sess schemas.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := copySession(sess)
	m.session = &c
	m.saves++
	return nil
}

// Load returns a copy of the stored session.
func (m *MemoryStore) Load(_ context.Context) (schemas.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return schemas.Session{}, nil
	}
	return copySession(*m.session), nil
}

// Clear empties the slot.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func copySession(s schemas.Session) schemas.Session {
	c := s
	if s.StartURL != nil {
		u := *s.StartURL
		c.StartURL = &u
	}
	if s.Actions != nil {
		c.Actions = make([]schemas.Action, len(s.Actions))
		for i, a := range s.Actions {
			if a.Value != nil {
				v := *a.Value
				a.Value = &v
			}
			c.Actions[i] = a
		}
	}
	return c
}
