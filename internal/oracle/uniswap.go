package oracle

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"priceScope/internal/model"
)

// Adapters from decoded pool events to price observations. Prices are
// quoted as token1 per token0, scaled by the pair's token decimals.

// PriceFromSync derives the spot price from a V2 reserve update.
func PriceFromSync(event *model.DecodedEvent, sync model.SyncData) (model.PriceEntry, error) {
	reserve0, err := parseDecimalUnits(sync.Reserve0, event.PairMeta.Decimals0)
	if err != nil {
		return model.PriceEntry{}, fmt.Errorf("reserve0: %w", err)
	}
	reserve1, err := parseDecimalUnits(sync.Reserve1, event.PairMeta.Decimals1)
	if err != nil {
		return model.PriceEntry{}, fmt.Errorf("reserve1: %w", err)
	}
	if reserve0.IsZero() {
		return model.PriceEntry{}, fmt.Errorf("zero reserve0, price undefined")
	}

	entry := newEntry(event, model.SourceUniswapV2)
	entry.Price = reserve1.Div(reserve0)
	return entry, nil
}

// PriceFromSwapV2 derives the realized trade price and volume from a V2
// swap. The price is the ratio of the token1 leg to the token0 leg.
func PriceFromSwapV2(event *model.DecodedEvent, swap model.SwapV2Data) (model.PriceEntry, error) {
	amount0, err := sumDecimalUnits(event.PairMeta.Decimals0, swap.Amount0In, swap.Amount0Out)
	if err != nil {
		return model.PriceEntry{}, fmt.Errorf("amount0: %w", err)
	}
	amount1, err := sumDecimalUnits(event.PairMeta.Decimals1, swap.Amount1In, swap.Amount1Out)
	if err != nil {
		return model.PriceEntry{}, fmt.Errorf("amount1: %w", err)
	}
	if amount0.IsZero() {
		return model.PriceEntry{}, fmt.Errorf("zero token0 leg, price undefined")
	}

	entry := newEntry(event, model.SourceUniswapV2)
	entry.Price = amount1.Div(amount0)
	entry.Volume = &amount0
	return entry, nil
}

// PriceFromSwapV3 derives the pool price from sqrtPriceX96:
// price = (sqrtPriceX96 / 2^96)^2, decimal-adjusted.
func PriceFromSwapV3(event *model.DecodedEvent, swap model.SwapV3Data) (model.PriceEntry, error) {
	sqrtRaw, ok := new(big.Int).SetString(swap.SqrtPriceX96, 10)
	if !ok {
		return model.PriceEntry{}, fmt.Errorf("invalid sqrtPriceX96: %s", swap.SqrtPriceX96)
	}
	if sqrtRaw.Sign() == 0 {
		return model.PriceEntry{}, fmt.Errorf("zero sqrtPriceX96, price undefined")
	}

	two96 := new(big.Int).Lsh(big.NewInt(1), 96)
	sqrt := decimal.NewFromBigInt(sqrtRaw, 0).Div(decimal.NewFromBigInt(two96, 0))
	price := sqrt.Mul(sqrt).Shift(int32(event.PairMeta.Decimals0) - int32(event.PairMeta.Decimals1))

	amount0, ok := new(big.Int).SetString(swap.Amount0, 10)
	if !ok {
		return model.PriceEntry{}, fmt.Errorf("invalid amount0: %s", swap.Amount0)
	}

	entry := newEntry(event, model.SourceUniswapV3)
	entry.Price = price
	volume := decimal.NewFromBigInt(new(big.Int).Abs(amount0), -int32(event.PairMeta.Decimals0))
	entry.Volume = &volume
	return entry, nil
}

func newEntry(event *model.DecodedEvent, source model.PriceSource) model.PriceEntry {
	return model.PriceEntry{
		Timestamp:   time.Unix(int64(event.Timestamp), 0).UTC(),
		Source:      source,
		BlockNumber: event.BlockNumber,
		TxHash:      event.TxHash,
	}
}

func parseDecimalUnits(raw string, decimals uint8) (decimal.Decimal, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid integer: %q", raw)
	}
	return decimal.NewFromBigInt(value, -int32(decimals)), nil
}

func sumDecimalUnits(decimals uint8, raws ...string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, raw := range raws {
		value, err := parseDecimalUnits(raw, decimals)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(value)
	}
	return total, nil
}
