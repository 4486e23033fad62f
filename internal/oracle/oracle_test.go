package oracle

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"priceScope/internal/model"
)

func entryAt(ts time.Time, price int64, block uint64) model.PriceEntry {
	return model.PriceEntry{
		Timestamp:   ts,
		Price:       decimal.NewFromInt(price),
		Source:      model.SourceManual,
		BlockNumber: block,
	}
}

func TestCheckDataQualityNotEnoughData(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 3, MinDuration: time.Minute, MaxAge: time.Hour})

	// Two entries spanning well over MinDuration: the entry count gate
	// must still fire first.
	o.Add(entryAt(base, 100, 1))
	o.Add(entryAt(base.Add(30*time.Minute), 110, 2))

	_, err := o.CalculatePrice(base.Add(31 * time.Minute))
	if !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("expected ErrNotEnoughData, got %v", err)
	}
}

func TestCheckDataQualityPeriodTooShort(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 2, MinDuration: 10 * time.Minute, MaxAge: time.Hour})

	o.Add(entryAt(base, 100, 1))
	o.Add(entryAt(base.Add(time.Minute), 110, 2))

	_, err := o.CalculatePrice(base.Add(2 * time.Minute))
	if !errors.Is(err, ErrDataPeriodTooShort) {
		t.Fatalf("expected ErrDataPeriodTooShort, got %v", err)
	}
}

func TestCheckDataQualityDataTooOld(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 2, MinDuration: time.Minute, MaxAge: 5 * time.Minute})

	o.Add(entryAt(base, 100, 1))
	o.Add(entryAt(base.Add(2*time.Minute), 110, 2))

	_, err := o.CalculatePrice(base.Add(30 * time.Minute))
	if !errors.Is(err, ErrDataTooOld) {
		t.Fatalf("expected ErrDataTooOld, got %v", err)
	}
}

func TestCalculatePriceAtExactBoundaries(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 2, MinDuration: 10 * time.Minute, MaxAge: time.Hour})

	// Exactly MinEntries entries spanning exactly MinDuration.
	o.Add(entryAt(base, 100, 1))
	o.Add(entryAt(base.Add(10*time.Minute), 110, 2))

	price, err := o.CalculatePrice(base.Add(11 * time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("expected 105, got %s", price)
	}
}

func TestTWAPArithmeticMean(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 3, MinDuration: time.Minute})

	o.Add(entryAt(base, 100, 1))
	o.Add(entryAt(base.Add(time.Minute), 150, 2))
	o.Add(entryAt(base.Add(2*time.Minute), 120, 3))

	price, err := o.CalculatePrice(base.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decimal.RequireFromString("123.3333333333333333")
	if price.Sub(want).Abs().GreaterThan(decimal.New(1, -12)) {
		t.Fatalf("expected ~123.333..., got %s", price)
	}
}

func TestInsertionOrderIndependence(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	forward := New(Config{MinEntries: 3, MinDuration: time.Minute})
	forward.Add(entryAt(base, 100, 1))
	forward.Add(entryAt(base.Add(time.Minute), 150, 2))
	forward.Add(entryAt(base.Add(2*time.Minute), 120, 3))

	reverse := New(Config{MinEntries: 3, MinDuration: time.Minute})
	reverse.Add(entryAt(base.Add(2*time.Minute), 120, 3))
	reverse.Add(entryAt(base.Add(time.Minute), 150, 2))
	reverse.Add(entryAt(base, 100, 1))

	pf, err := forward.CalculatePrice(base.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	pr, err := reverse.CalculatePrice(base.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if !pf.Equal(pr) {
		t.Fatalf("order-dependent price: %s != %s", pf, pr)
	}

	fOld, _ := forward.Oldest()
	rOld, _ := reverse.Oldest()
	fNew, _ := forward.Newest()
	rNew, _ := reverse.Newest()
	if !fOld.Timestamp.Equal(rOld.Timestamp) || !fNew.Timestamp.Equal(rNew.Timestamp) {
		t.Fatalf("oldest/newest differ between insertion orders")
	}
	if !fOld.Price.Equal(decimal.NewFromInt(100)) || !fNew.Price.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("unexpected oldest/newest: %s / %s", fOld.Price, fNew.Price)
	}
}

func TestEvictBeforeKeepsUnconfirmedEntries(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 1})

	o.Add(entryAt(base, 100, 10))
	o.Add(entryAt(base.Add(time.Minute), 110, 20))
	o.Add(entryAt(base.Add(2*time.Minute), 120, 30))

	o.MarkFinal(10)
	// Only block 10 is confirmed; blocks 20/30 are provisional and must
	// survive even though they predate the cutoff.
	evicted := o.EvictBefore(base.Add(time.Hour))
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if o.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", o.Len())
	}

	o.MarkFinal(30)
	if evicted := o.EvictBefore(base.Add(time.Hour)); evicted != 2 {
		t.Fatalf("expected 2 evictions after finality, got %d", evicted)
	}
}

func TestSummarizeVWAP(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 1})

	vol1 := decimal.NewFromInt(10)
	vol2 := decimal.NewFromInt(30)
	e1 := entryAt(base, 100, 1)
	e1.Volume = &vol1
	e2 := entryAt(base.Add(time.Minute), 200, 2)
	e2.Volume = &vol2
	// No volume: counted but excluded from the weighted average.
	o.Add(entryAt(base.Add(2*time.Minute), 999, 3))
	o.Add(e1)
	o.Add(e2)

	stats := o.Summarize()
	if stats.Entries != 3 {
		t.Fatalf("entries = %d, want 3", stats.Entries)
	}
	if !stats.TotalVolume.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("volume = %s, want 40", stats.TotalVolume)
	}
	// (100*10 + 200*30) / 40 = 175
	if stats.VWAP == nil || !stats.VWAP.Equal(decimal.NewFromInt(175)) {
		t.Fatalf("vwap = %v, want 175", stats.VWAP)
	}
}

func TestSummarizeNoVolume(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 1})
	o.Add(entryAt(base, 100, 1))

	stats := o.Summarize()
	if stats.VWAP != nil {
		t.Fatalf("expected nil VWAP without volume, got %s", stats.VWAP)
	}
}

func TestTruncateFromDropsReorgedEntries(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := New(Config{MinEntries: 1})

	o.Add(entryAt(base, 100, 10))
	o.Add(entryAt(base.Add(time.Minute), 110, 20))
	o.Add(entryAt(base.Add(2*time.Minute), 120, 30))

	removed := o.TruncateFrom(20)
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	newest, ok := o.Newest()
	if !ok || newest.BlockNumber != 10 {
		t.Fatalf("expected only block 10 to remain, got %+v", newest)
	}
}
