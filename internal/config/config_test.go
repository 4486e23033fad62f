package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkSize != 2000 {
		t.Fatalf("chunk-size default = %d, want 2000", cfg.ChunkSize)
	}
	if cfg.Workers != 4 {
		t.Fatalf("workers default = %d, want 4", cfg.Workers)
	}
	if cfg.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("retry-backoff default = %s", cfg.RetryBackoff)
	}
	if !cfg.CheckpointEnabled {
		t.Fatal("checkpoint should default to enabled")
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Uint64("from", 0, "")
	flags.Uint64("chunk-size", 2000, "")
	flags.StringSlice("address", nil, "")
	if err := flags.Parse([]string{
		"--rpc", "http://localhost:8545",
		"--from", "100",
		"--chunk-size", "50",
		"--address", "0xabc,0xdef",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" {
		t.Fatalf("rpc = %q", cfg.RPCURL)
	}
	if cfg.FromBlock != 100 || cfg.ChunkSize != 50 {
		t.Fatalf("from/chunk-size = %d/%d", cfg.FromBlock, cfg.ChunkSize)
	}
	if len(cfg.Addresses) != 2 || cfg.Addresses[0] != "0xabc" {
		t.Fatalf("addresses = %v", cfg.Addresses)
	}
}

func TestParseTimestamp(t *testing.T) {
	at, err := ParseTimestamp("1714564800")
	if err != nil {
		t.Fatalf("unix: %v", err)
	}
	if at.Unix() != 1714564800 {
		t.Fatalf("unix value = %d", at.Unix())
	}

	at, err = ParseTimestamp("2024-05-01T12:00:00Z")
	if err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if at.Unix() != 1714564800 {
		t.Fatalf("rfc3339 value = %d", at.Unix())
	}

	at, err = ParseTimestamp("")
	if err != nil || !at.IsZero() {
		t.Fatalf("empty input should yield zero time, got %v, %v", at, err)
	}

	if _, err := ParseTimestamp("not-a-time"); err == nil {
		t.Fatal("expected parse error")
	}
}
