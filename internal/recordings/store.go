// File: internal/recordings/store.go
package recordings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
	"github.com/xkilldash9x/recplay/pkg/fsutil"
)

var (
	// ErrRecordingNotFound is returned when a named recording does not exist.
	ErrRecordingNotFound = errors.New("recording not found")
	// ErrInvalidName is returned for names that would resolve outside the directory.
	ErrInvalidName = errors.New("invalid recording name")
)

const (
	filePrefix = "recording-"
	fileExt    = ".json"
	// maxCollisions bounds the -N suffix search for one millisecond.
	maxCollisions = 1000
)

// Store keeps recordings as individual JSON files in one directory.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates the directory if needed and returns a store rooted at it.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("recordings directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recordings directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory %s: %w", abs, err)
	}
	return &Store{
		dir:    abs,
		logger: logger.Named("recordings"),
		now:    time.Now,
	}, nil
}

// Dir returns the absolute recordings directory.
func (s *Store) Dir() string { return s.dir }

// Save writes rec as recording-<ms>.json. A name already taken in the same
// millisecond gets a -1, -2, ... suffix. Existing files are never replaced.
func (s *Store) Save(rec *schemas.StoredRecording) (string, error) {
	data, err := encode(rec)
	if err != nil {
		return "", err
	}

	stamp := s.now().UnixMilli()
	for n := 0; n < maxCollisions; n++ {
		name := fmt.Sprintf("%s%d%s", filePrefix, stamp, fileExt)
		if n > 0 {
			name = fmt.Sprintf("%s%d-%d%s", filePrefix, stamp, n, fileExt)
		}

		err := fsutil.CreateExclusive(filepath.Join(s.dir, name), data, 0o644)
		if errors.Is(err, fsutil.ErrExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to write recording %s: %w", name, err)
		}
		s.logger.Info("Recording saved.", zap.String("name", name), zap.Int("actions", len(rec.Actions)))
		return name, nil
	}
	return "", fmt.Errorf("no free recording name for timestamp %d", stamp)
}

// List returns the names of all .json files, sorted. It never returns nil.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Resolve maps a recording name to its absolute path and checks that it exists.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, name)
		}
		return "", fmt.Errorf("failed to stat recording %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, name)
	}
	return path, nil
}

// Read loads a stored recording by name.
func (s *Store) Read(name string) (*schemas.StoredRecording, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording %s: %w", name, err)
	}
	var rec schemas.StoredRecording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode recording %s: %w", name, err)
	}
	return &rec, nil
}

// encode renders rec as 2-space indented JSON. HTML characters in action
// payloads are kept as written.
func encode(rec *schemas.StoredRecording) ([]byte, error) {
	out := schemas.StoredRecording{StartURL: rec.StartURL, Actions: rec.Actions}
	if out.Actions == nil {
		out.Actions = []json.RawMessage{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
