// internal/notes/store.go

// Package notes keeps small per-project annotations on disk, next to nothing
// else: one JSON file per project, named by the same hash scheme the session
// state files use.
package notes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Note is one annotation.
type Note struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes per-project note files under one directory.
type Store struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore creates the directory if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create notes directory: %w", err)
	}
	return &Store{dir: dir, logger: logger.Named("notes")}, nil
}

func (s *Store) path(projectID string) string {
	sum := sha256.Sum256([]byte(projectID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

// Add appends a note to the project's file.
func (s *Store) Add(projectID, text string) (Note, error) {
	if text == "" {
		return Note{}, fmt.Errorf("note text is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := s.load(projectID)
	if err != nil {
		return Note{}, err
	}
	n := Note{Text: text, CreatedAt: time.Now()}
	notes = append(notes, n)

	data, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return Note{}, err
	}
	if err := os.WriteFile(s.path(projectID), data, 0o644); err != nil {
		return Note{}, fmt.Errorf("cannot write notes file: %w", err)
	}
	return n, nil
}

// List returns the project's notes, oldest first. A missing file is an empty
// list.
func (s *Store) List(projectID string) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(projectID)
}

func (s *Store) load(projectID string) ([]Note, error) {
	data, err := os.ReadFile(s.path(projectID))
	if os.IsNotExist(err) {
		return []Note{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read notes file: %w", err)
	}
	var notes []Note
	if err := json.Unmarshal(data, &notes); err != nil {
		// Same stance as session state: a corrupt file starts over.
		s.logger.Warn("Notes file is corrupt; starting a fresh list.",
			zap.String("project_id", projectID), zap.Error(err))
		return []Note{}, nil
	}
	return notes, nil
}
