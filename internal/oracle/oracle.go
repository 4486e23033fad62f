package oracle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"priceScope/internal/model"
)

// Data-quality conditions. All three are expected steady-state outcomes
// for a feed that is still warming up or has stalled, not bugs; callers
// poll again later but must be able to tell the cases apart.
var (
	ErrNotEnoughData      = errors.New("not enough price data")
	ErrDataPeriodTooShort = errors.New("price data period too short")
	ErrDataTooOld         = errors.New("price data too old")
)

// PriceFunc aggregates buffered entries, oldest first, into one price.
type PriceFunc func(entries []model.PriceEntry) (decimal.Decimal, error)

// TWAP is the default aggregate: the arithmetic mean of all buffered
// observations, exact decimal arithmetic throughout.
func TWAP(entries []model.PriceEntry) (decimal.Decimal, error) {
	if len(entries) == 0 {
		return decimal.Zero, ErrNotEnoughData
	}
	prices := make([]decimal.Decimal, len(entries))
	for i, e := range entries {
		prices[i] = e.Price
	}
	return decimal.Avg(prices[0], prices[1:]...), nil
}

// Config holds oracle settings.
type Config struct {
	PriceFunc   PriceFunc
	MinDuration time.Duration
	MaxAge      time.Duration
	MinEntries  int
}

// Oracle keeps a timestamp-ordered buffer of price observations and
// computes an aggregate on demand. It performs no internal locking: one
// logical consumer owns it, and concurrent producers must serialize Add
// calls upstream.
type Oracle struct {
	cfg     Config
	entries []model.PriceEntry

	// finalBlock is the highest block the reorg monitor has confirmed.
	// Entries above it are provisional and survive eviction so a later
	// truncate-and-retry cycle can replace them correctly.
	finalBlock uint64
}

func New(cfg Config) *Oracle {
	if cfg.PriceFunc == nil {
		cfg.PriceFunc = TWAP
	}
	if cfg.MinEntries <= 0 {
		cfg.MinEntries = 1
	}
	return &Oracle{cfg: cfg}
}

// Len reports the number of buffered entries.
func (o *Oracle) Len() int { return len(o.entries) }

// Oldest returns the earliest buffered entry.
func (o *Oracle) Oldest() (model.PriceEntry, bool) {
	if len(o.entries) == 0 {
		return model.PriceEntry{}, false
	}
	return o.entries[0], true
}

// Newest returns the latest buffered entry.
func (o *Oracle) Newest() (model.PriceEntry, bool) {
	if len(o.entries) == 0 {
		return model.PriceEntry{}, false
	}
	return o.entries[len(o.entries)-1], true
}

// Add inserts an entry in timestamp order regardless of arrival order.
// The oracle does not de-duplicate re-delivered entries; upstream reorg
// truncation is responsible for that.
func (o *Oracle) Add(entry model.PriceEntry) {
	entry.Timestamp = entry.Timestamp.UTC()
	i := sort.Search(len(o.entries), func(i int) bool {
		return o.entries[i].Timestamp.After(entry.Timestamp)
	})
	o.entries = append(o.entries, model.PriceEntry{})
	copy(o.entries[i+1:], o.entries[i:])
	o.entries[i] = entry
}

// CheckDataQuality verifies the buffer can support a trustworthy
// aggregate at the given time.
func (o *Oracle) CheckDataQuality(now time.Time) error {
	now = now.UTC()
	if len(o.entries) < o.cfg.MinEntries {
		return fmt.Errorf("%w: have %d entries, need %d", ErrNotEnoughData, len(o.entries), o.cfg.MinEntries)
	}

	oldest := o.entries[0].Timestamp
	newest := o.entries[len(o.entries)-1].Timestamp
	if span := newest.Sub(oldest); span < o.cfg.MinDuration {
		return fmt.Errorf("%w: span %s, need %s", ErrDataPeriodTooShort, span, o.cfg.MinDuration)
	}
	if o.cfg.MaxAge > 0 {
		if age := now.Sub(newest); age > o.cfg.MaxAge {
			return fmt.Errorf("%w: newest entry is %s old, max %s", ErrDataTooOld, age, o.cfg.MaxAge)
		}
	}
	return nil
}

// CalculatePrice gates on data quality, then applies the configured
// price function over all entries in chronological order.
func (o *Oracle) CalculatePrice(now time.Time) (decimal.Decimal, error) {
	if err := o.CheckDataQuality(now); err != nil {
		return decimal.Zero, err
	}
	return o.cfg.PriceFunc(o.entries)
}

// Stats summarizes the buffered entries. VWAP is set only when at least
// one entry carries volume; unvolumed entries count toward Entries but
// not toward the weighted average.
type Stats struct {
	Entries     int
	TotalVolume decimal.Decimal
	VWAP        *decimal.Decimal
}

// Summarize computes running aggregates over the buffer.
func (o *Oracle) Summarize() Stats {
	stats := Stats{Entries: len(o.entries)}
	weighted := decimal.Zero
	for _, e := range o.entries {
		if e.Volume == nil || e.Volume.IsZero() {
			continue
		}
		stats.TotalVolume = stats.TotalVolume.Add(*e.Volume)
		weighted = weighted.Add(e.Price.Mul(*e.Volume))
	}
	if stats.TotalVolume.IsPositive() {
		vwap := weighted.Div(stats.TotalVolume)
		stats.VWAP = &vwap
	}
	return stats
}

// MarkFinal records that the reorg monitor confirmed all blocks up to
// and including block.
func (o *Oracle) MarkFinal(block uint64) {
	if block > o.finalBlock {
		o.finalBlock = block
	}
}

// EvictBefore drops entries older than cutoff to bound memory, keeping
// any entry whose block is not yet confirmed final. Returns the number
// of evicted entries.
func (o *Oracle) EvictBefore(cutoff time.Time) int {
	cutoff = cutoff.UTC()
	kept := o.entries[:0]
	evicted := 0
	for _, e := range o.entries {
		if e.Timestamp.Before(cutoff) && e.BlockNumber <= o.finalBlock {
			evicted++
			continue
		}
		kept = append(kept, e)
	}
	o.entries = kept
	return evicted
}

// TruncateFrom removes entries at or above the purged block after a
// reorg resolution; the scan resumes from that height and re-delivers
// replacements. Returns the number removed.
func (o *Oracle) TruncateFrom(purged uint64) int {
	kept := o.entries[:0]
	removed := 0
	for _, e := range o.entries {
		if e.BlockNumber >= purged {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	o.entries = kept
	return removed
}
