package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource identifies where a price observation came from.
type PriceSource string

const (
	SourceUniswapV2 PriceSource = "uniswap_v2"
	SourceUniswapV3 PriceSource = "uniswap_v3"
	SourceManual    PriceSource = "manual"
)

// PriceEntry is a single price observation for the oracle buffer.
// Timestamp is always UTC; Price and Volume are exact decimals,
// never floats, so running aggregates do not drift.
type PriceEntry struct {
	Timestamp   time.Time        `json:"timestamp"`
	Price       decimal.Decimal  `json:"price"`
	Source      PriceSource      `json:"source"`
	Volume      *decimal.Decimal `json:"volume,omitempty"`
	BlockNumber uint64           `json:"block_number,omitempty"`
	TxHash      string           `json:"tx_hash,omitempty"`
}

// NewPriceEntry normalizes the timestamp to UTC.
func NewPriceEntry(ts time.Time, price decimal.Decimal, source PriceSource) PriceEntry {
	return PriceEntry{Timestamp: ts.UTC(), Price: price, Source: source}
}
