package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists raw submission audio on disk, keyed by filename. Two
// submissions sharing a filename overwrite each other (last write wins); the
// ledger keeps the authoritative per-submission outcome either way.
type Store struct {
	dir string
}

// NewStore prepares the upload directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the audio bytes under the upload directory and returns the
// stored path. Filenames are flattened to their base so callers cannot
// escape the directory.
func (s *Store) Save(filename string, data []byte) (string, error) {
	path := s.Path(filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return path, nil
}

// Path returns where a given filename is (or would be) stored.
func (s *Store) Path(filename string) string {
	return filepath.Join(s.dir, filepath.Base(filename))
}
