package rms

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"straddle-core/internal/strategy"
)

// SnapshotFiles writes one JSON document per config while its position is open.
// An empty Dir disables the files.
type SnapshotFiles struct {
	Dir string
}

// Ensure creates the snapshot directory.
func (s SnapshotFiles) Ensure() error {
	if s.Dir == "" {
		return nil
	}
	return os.MkdirAll(s.Dir, 0o755)
}

// Path returns the snapshot file of config id.
func (s SnapshotFiles) Path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// Save replaces the snapshot of cfg atomically.
func (s SnapshotFiles) Save(cfg strategy.Config) error {
	if s.Dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", cfg.ID, err)
	}
	tmp, err := os.CreateTemp(s.Dir, cfg.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", cfg.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot %s: %w", cfg.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.Path(cfg.ID))
}

// Remove deletes the snapshot of config id. It reports whether a file existed.
func (s SnapshotFiles) Remove(id string) (bool, error) {
	if s.Dir == "" {
		return false, nil
	}
	err := os.Remove(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove snapshot %s: %w", id, err)
	}
	return true, nil
}
