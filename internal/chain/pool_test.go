package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"priceScope/internal/model"
)

type stubBackend struct {
	id     int
	closed atomic.Bool
}

func (s *stubBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *stubBackend) BlockNumber(context.Context) (uint64, error) {
	return 0, nil
}
func (s *stubBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubBackend) HeadersInRange(context.Context, uint64, uint64) ([]model.BlockRecord, error) {
	return nil, nil
}
func (s *stubBackend) BlockTimestamp(context.Context, uint64) (uint64, error) {
	return 0, nil
}
func (s *stubBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (s *stubBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (s *stubBackend) Close() { s.closed.Store(true) }

type stubDialer struct {
	dials    atomic.Int32
	failAt   int32
	backends []*stubBackend
}

func (d *stubDialer) Dial(context.Context) (Backend, error) {
	n := d.dials.Add(1)
	if d.failAt > 0 && n == d.failAt {
		return nil, fmt.Errorf("%w: endpoint unreachable", ErrConnectionSetup)
	}
	b := &stubBackend{id: int(n)}
	d.backends = append(d.backends, b)
	return b, nil
}

func TestSpawnPoolDialsEagerly(t *testing.T) {
	dialer := &stubDialer{}
	pool, err := SpawnPool(context.Background(), dialer, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pool.Close()

	if got := dialer.dials.Load(); got != 4 {
		t.Fatalf("expected 4 eager dials, got %d", got)
	}

	// Running tasks must not trigger further dials.
	res := <-pool.Submit(context.Background(), func(_ context.Context, _ Backend) (interface{}, error) {
		return 42, nil
	})
	if res.Err != nil {
		t.Fatalf("unexpected task error: %v", res.Err)
	}
	if res.Value.(int) != 42 {
		t.Fatalf("unexpected value: %v", res.Value)
	}
	if got := dialer.dials.Load(); got != 4 {
		t.Fatalf("expected dial count to stay at 4, got %d", got)
	}
}

func TestSpawnPoolDialFailureClosesOpened(t *testing.T) {
	dialer := &stubDialer{failAt: 3}
	if _, err := SpawnPool(context.Background(), dialer, 4); err == nil {
		t.Fatalf("expected spawn error")
	}
	if len(dialer.backends) != 2 {
		t.Fatalf("expected 2 opened backends, got %d", len(dialer.backends))
	}
	for i, b := range dialer.backends {
		if !b.closed.Load() {
			t.Fatalf("backend %d not closed after failed spawn", i)
		}
	}
}

func TestPoolMapPropagatesTaskErrors(t *testing.T) {
	pool, err := SpawnPool(context.Background(), &stubDialer{}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pool.Close()

	tasks := []Task{
		func(context.Context, Backend) (interface{}, error) { return "ok", nil },
		func(context.Context, Backend) (interface{}, error) { return nil, fmt.Errorf("boom") },
		func(context.Context, Backend) (interface{}, error) { return "ok", nil },
	}

	var oks, errs int
	for res := range pool.Map(context.Background(), tasks) {
		if res.Err != nil {
			errs++
		} else {
			oks++
		}
	}
	if oks != 2 || errs != 1 {
		t.Fatalf("expected 2 ok / 1 err, got %d / %d", oks, errs)
	}
}

func TestPoolCloseClosesClients(t *testing.T) {
	dialer := &stubDialer{}
	pool, err := SpawnPool(context.Background(), dialer, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.Close()
	pool.Close() // second close is a no-op

	for i, b := range dialer.backends {
		if !b.closed.Load() {
			t.Fatalf("backend %d not closed", i)
		}
	}

	res := <-pool.Submit(context.Background(), func(context.Context, Backend) (interface{}, error) {
		return nil, nil
	})
	if res.Err == nil {
		t.Fatal("expected error submitting to a closed pool")
	}
}
