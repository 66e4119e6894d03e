package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"igcrawl/pkg/iterator"
	"igcrawl/pkg/logger"
)

// FileStore persists frozen cursor checkpoints as JSON files under a
// directory. Saves are atomic: a temporary file is written, synced and
// renamed over the destination.
type FileStore struct {
	dir string
	log logger.Logger
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir, log: logger.GetLogger()}, nil
}

// Load reads a checkpoint, returning (nil, nil) when none exists.
func (s *FileStore) Load(path string) (*iterator.FrozenCursor, error) {
	file, err := os.Open(filepath.Join(s.dir, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var frozen iterator.FrozenCursor
	if err := json.NewDecoder(file).Decode(&frozen); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	s.log.DebugWithFields("checkpoint loaded", map[string]interface{}{
		"path":     path,
		"consumed": frozen.TotalConsumed,
	})
	return &frozen, nil
}

// Save writes a checkpoint atomically.
func (s *FileStore) Save(frozen *iterator.FrozenCursor, path string) error {
	target := filepath.Join(s.dir, path)
	tempPath := target + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(frozen); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	s.log.DebugWithFields("checkpoint saved", map[string]interface{}{
		"path":     path,
		"consumed": frozen.TotalConsumed,
	})
	return nil
}

// Delete removes a checkpoint; deleting a missing one is not an error.
func (s *FileStore) Delete(path string) error {
	if err := os.Remove(filepath.Join(s.dir, path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
