package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"igcrawl/pkg/session"
)

// FileStore persists session bundles as plain JSON files, one per
// username, with owner-only permissions.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(username string) string {
	return filepath.Join(s.dir, fmt.Sprintf("session-%s.json", username))
}

// Store writes a bundle to disk.
func (s *FileStore) Store(bundle *session.Bundle) error {
	if bundle == nil || bundle.Username == "" {
		return ErrInvalidBundle
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(s.path(bundle.Username), data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Retrieve reads a bundle from disk.
func (s *FileStore) Retrieve(username string) (*session.Bundle, error) {
	if username == "" {
		return nil, ErrInvalidBundle
	}
	data, err := os.ReadFile(s.path(username))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var bundle session.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &bundle, nil
}

// Delete removes a stored bundle; deleting a missing one is not an error.
func (s *FileStore) Delete(username string) error {
	if err := os.Remove(s.path(username)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}
