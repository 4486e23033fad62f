package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckpointStore persists the last fully scanned block so a killed scan
// resumes instead of restarting from its original start block.
type CheckpointStore interface {
	Load() (uint64, bool, error)
	Save(block uint64) error
}

// Checkpoint is the on-disk representation used by FileCheckpoint.
type Checkpoint struct {
	LastScannedBlock uint64 `json:"last_scanned_block"`
	UpdatedAt        string `json:"updated_at"`
}

// FileCheckpoint stores checkpoints in a single JSON file, written
// atomically via rename.
type FileCheckpoint struct {
	path string
}

func NewFileCheckpoint(path string) *FileCheckpoint {
	return &FileCheckpoint{path: path}
}

func (c *FileCheckpoint) Load() (uint64, bool, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}

	return cp.LastScannedBlock, true, nil
}

func (c *FileCheckpoint) Save(block uint64) error {
	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp := Checkpoint{
		LastScannedBlock: block,
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

// MemoryCheckpoint keeps the checkpoint in memory. Useful for tests and
// for scans where resumability is disabled.
type MemoryCheckpoint struct {
	block uint64
	set   bool
}

func NewMemoryCheckpoint() *MemoryCheckpoint { return &MemoryCheckpoint{} }

func (c *MemoryCheckpoint) Load() (uint64, bool, error) { return c.block, c.set, nil }

func (c *MemoryCheckpoint) Save(block uint64) error {
	c.block = block
	c.set = true
	return nil
}
