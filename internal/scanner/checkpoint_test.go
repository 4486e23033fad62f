package scanner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cp := NewFileCheckpoint(path)

	if _, ok, err := cp.Load(); err != nil || ok {
		t.Fatalf("expected no checkpoint, got ok=%v err=%v", ok, err)
	}

	if err := cp.Save(12345); err != nil {
		t.Fatalf("save: %v", err)
	}
	block, ok, err := cp.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if block != 12345 {
		t.Fatalf("expected 12345, got %d", block)
	}

	// Saving again overwrites, and no tmp file is left behind.
	if err := cp.Save(12350); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}
	block, _, _ = cp.Load()
	if block != 12350 {
		t.Fatalf("expected 12350, got %d", block)
	}
}

func TestFileCheckpointRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileCheckpoint(path).Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
