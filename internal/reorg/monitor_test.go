package reorg

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"priceScope/internal/model"
)

// fakeHeaders simulates a node whose canonical hashes can be rewritten
// between polls. Hashes are derived on demand so the simulated chain
// can be arbitrarily tall; requests records every fetched span.
type fakeHeaders struct {
	head      uint64
	overrides map[uint64]string
	requests  [][2]uint64
}

func newFakeHeaders(head uint64) *fakeHeaders {
	return &fakeHeaders{head: head, overrides: make(map[uint64]string)}
}

func (f *fakeHeaders) hashAt(n uint64) string {
	if h, ok := f.overrides[n]; ok {
		return h
	}
	return fmt.Sprintf("0xaa%06d", n)
}

func (f *fakeHeaders) rewrite(from uint64, tag string) {
	for n := from; n <= f.head; n++ {
		f.overrides[n] = fmt.Sprintf("0x%s%06d", tag, n)
	}
}

func (f *fakeHeaders) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeHeaders) HeadersInRange(_ context.Context, from, to uint64) ([]model.BlockRecord, error) {
	if to > f.head {
		to = f.head
	}
	f.requests = append(f.requests, [2]uint64{from, to})
	out := make([]model.BlockRecord, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, model.BlockRecord{Number: n, Hash: f.hashAt(n), Timestamp: n})
	}
	return out, nil
}

func TestUpdateChainStable(t *testing.T) {
	src := newFakeHeaders(100)
	m := NewMonitor(Config{CheckDepth: 10, MaxRetries: 3}, src, nil)

	res, err := m.UpdateChain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LastBlock != 100 || res.PurgedFrom != nil {
		t.Fatalf("unexpected result: %+v", res)
	}

	src.head = 105
	res, err = m.UpdateChain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LastBlock != 105 || res.PurgedFrom != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestUpdateChainFirstCycleBoundedByCheckDepth(t *testing.T) {
	src := newFakeHeaders(5_000_000)
	m := NewMonitor(Config{CheckDepth: 64, MaxRetries: 3}, src, nil)

	res, err := m.UpdateChain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LastBlock != 5_000_000 || res.PurgedFrom != nil {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The first cycle must baseline against the head, not walk the whole
	// chain from genesis.
	if len(src.requests) != 1 {
		t.Fatalf("expected 1 header fetch, got %d", len(src.requests))
	}
	if got := src.requests[0]; got[0] != 4_999_936 || got[1] != 5_000_000 {
		t.Fatalf("first cycle fetched [%d, %d], want [4999936, 5000000]", got[0], got[1])
	}
	if len(m.window) != 65 {
		t.Fatalf("expected window of 65 entries, got %d", len(m.window))
	}
}

func TestUpdateChainTruncatesOnDivergence(t *testing.T) {
	src := newFakeHeaders(100)
	m := NewMonitor(Config{CheckDepth: 20, MaxRetries: 3}, src, nil)

	if _, err := m.UpdateChain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Block 95 and everything above changes hash between polls.
	const k = 95
	src.rewrite(k, "bb")

	res, err := m.UpdateChain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PurgedFrom == nil || *res.PurgedFrom != k {
		t.Fatalf("expected purge at %d, got %+v", k, res.PurgedFrom)
	}
	if res.LastBlock != 100 {
		t.Fatalf("expected resolution at head 100, got %d", res.LastBlock)
	}

	// After resolution the window must hold the new hashes, never the
	// stale ones, for every block at or above the divergence point.
	for n := uint64(k); n <= 100; n++ {
		hash, ok := m.BlockHash(n)
		if !ok {
			t.Fatalf("missing window entry for block %d", n)
		}
		if hash != src.hashAt(n) {
			t.Fatalf("stale hash for block %d: %s", n, hash)
		}
	}
}

func TestUpdateChainRewindState(t *testing.T) {
	src := newFakeHeaders(50)
	m := NewMonitor(Config{CheckDepth: 30, MaxRetries: 0}, src, nil)

	if _, err := m.UpdateChain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// With a zero retry budget the first divergence is immediately fatal,
	// which exposes the intermediate rewind state.
	src.rewrite(40, "cc")
	_, err := m.UpdateChain(context.Background())
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("expected ErrResolutionFailed, got %v", err)
	}
}

func TestUpdateChainExhaustsRetryBudget(t *testing.T) {
	src := newFakeHeaders(60)
	m := NewMonitor(Config{CheckDepth: 15, MaxRetries: 2}, src, nil)

	if _, err := m.UpdateChain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Rewrite hashes deeper on every poll so each re-fetch diverges
	// again below the previous rewind point.
	calls := uint64(0)
	srcWrapper := sourceFunc{
		blockNumber: func(ctx context.Context) (uint64, error) { return src.head, nil },
		headers: func(ctx context.Context, from, to uint64) ([]model.BlockRecord, error) {
			calls++
			src.rewrite(60-2*calls, fmt.Sprintf("d%d", calls))
			return src.HeadersInRange(ctx, from, to)
		},
	}
	m.src = srcWrapper

	_, err := m.UpdateChain(context.Background())
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("expected ErrResolutionFailed, got %v", err)
	}
	if m.LastBlock() != 55 {
		t.Fatalf("expected last block 55 at exhaustion, got %d", m.LastBlock())
	}
}

func TestUpdateChainRecoversAfterRewind(t *testing.T) {
	src := newFakeHeaders(80)
	m := NewMonitor(Config{CheckDepth: 25, MaxRetries: 3}, src, nil)

	if _, err := m.UpdateChain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One divergence, then the chain settles. The monitor must resolve
	// within the retry budget and resume from the corrected block.
	src.rewrite(70, "ee")
	res, err := m.UpdateChain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PurgedFrom == nil || *res.PurgedFrom != 70 {
		t.Fatalf("expected purge at 70, got %+v", res.PurgedFrom)
	}
	if m.LastBlock() != 80 {
		t.Fatalf("expected last block 80, got %d", m.LastBlock())
	}
}

type sourceFunc struct {
	blockNumber func(context.Context) (uint64, error)
	headers     func(context.Context, uint64, uint64) ([]model.BlockRecord, error)
}

func (s sourceFunc) BlockNumber(ctx context.Context) (uint64, error) { return s.blockNumber(ctx) }
func (s sourceFunc) HeadersInRange(ctx context.Context, from, to uint64) ([]model.BlockRecord, error) {
	return s.headers(ctx, from, to)
}
