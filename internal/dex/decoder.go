package dex

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"priceScope/internal/chain"
	"priceScope/internal/model"
)

// Canonical event signatures handled by the decoder.
const (
	SigPairCreated = "PairCreated(address,address,address,uint256)"
	SigSyncV2      = "Sync(uint112,uint112)"
	SigSwapV2      = "Swap(address,uint256,uint256,uint256,uint256,address)"
	SigSwapV3      = "Swap(address,address,int256,int256,uint160,uint128,int24)"
)

// Event signature hashes handled by the decoder.
var (
	TopicPairCreated = crypto.Keccak256Hash([]byte(SigPairCreated))
	TopicSyncV2      = crypto.Keccak256Hash([]byte(SigSyncV2))
	TopicSwapV2      = crypto.Keccak256Hash([]byte(SigSwapV2))
	TopicSwapV3      = crypto.Keccak256Hash([]byte(SigSwapV3))
)

// Event names emitted on DecodedEvent.
const (
	EventPairCreated = "PairCreated"
	EventSync        = "Sync"
	EventSwapV2      = "SwapV2"
	EventSwapV3      = "SwapV3"
)

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord, ctx DecodeContext) (*model.DecodedEvent, error)
}

// DecodeContext provides shared dependencies for decoders. The caches
// are injected, never package-level, so their lifetime matches one scan
// session and stays test-controllable.
type DecodeContext struct {
	Context        context.Context
	Chain          chain.Backend
	PairMetaCache  *PairMetaCache
	TokenMetaCache *TokenMetaCache
	Logger         *zap.Logger
	FetchMeta      bool
}

// UniswapDecoder decodes Uniswap V2 factory/pair and V3 pool events by
// slicing fixed 32-byte words instead of running a reflective ABI
// decoder.
type UniswapDecoder struct {
	expected map[common.Address]struct{}
}

// NewUniswapDecoder builds a decoder. When expected is non-empty, logs
// from any other contract decode to nil: unrelated contracts routinely
// emit structurally identical signatures, and that is not an error.
func NewUniswapDecoder(expected []common.Address) *UniswapDecoder {
	d := &UniswapDecoder{}
	if len(expected) > 0 {
		d.expected = make(map[common.Address]struct{}, len(expected))
		for _, addr := range expected {
			d.expected[addr] = struct{}{}
		}
	}
	return d
}

// CanDecode checks if the topic0 is supported.
func (d *UniswapDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	switch common.HexToHash(strings.ToLower(topic0)) {
	case TopicPairCreated, TopicSyncV2, TopicSwapV2, TopicSwapV3:
		return true
	default:
		return false
	}
}

// Decode converts a LogRecord into a DecodedEvent. A log whose source
// contract is outside the expected set yields (nil, nil).
func (d *UniswapDecoder) Decode(log model.LogRecord, ctx DecodeContext) (*model.DecodedEvent, error) {
	topic0 := log.Topic0()
	if topic0 == "" {
		return nil, fmt.Errorf("missing topics")
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid contract address: %s", log.Address)
	}
	source := common.HexToAddress(log.Address)
	if d.expected != nil {
		if _, ok := d.expected[source]; !ok {
			return nil, nil
		}
	}

	switch common.HexToHash(strings.ToLower(topic0)) {
	case TopicPairCreated:
		decoded, err := decodePairCreated(log)
		if err != nil {
			return nil, err
		}
		return d.buildEvent(log, EventPairCreated, decoded, ctx), nil
	case TopicSyncV2:
		decoded, err := decodeSync(log)
		if err != nil {
			return nil, err
		}
		return d.buildEvent(log, EventSync, decoded, ctx), nil
	case TopicSwapV2:
		decoded, err := decodeSwapV2(log)
		if err != nil {
			return nil, err
		}
		return d.buildEvent(log, EventSwapV2, decoded, ctx), nil
	case TopicSwapV3:
		decoded, err := decodeSwapV3(log)
		if err != nil {
			return nil, err
		}
		return d.buildEvent(log, EventSwapV3, decoded, ctx), nil
	default:
		return nil, fmt.Errorf("unsupported topic0: %s", topic0)
	}
}

func (d *UniswapDecoder) buildEvent(log model.LogRecord, name string, decoded interface{}, ctx DecodeContext) *model.DecodedEvent {
	event := &model.DecodedEvent{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		EventName:   name,
		Timestamp:   log.Timestamp,
		Decoded:     decoded,
		Raw:         &model.RawLogRef{Topic0: log.Topic0(), Data: log.Data},
	}

	if ctx.FetchMeta && name != EventPairCreated {
		meta, err := fetchPairMetaCached(ctx, common.HexToAddress(log.Address))
		if err != nil {
			logger := ctx.Logger
			if logger == nil {
				logger = zap.NewNop()
			}
			logger.Warn("pair metadata fetch failed", zap.String("pair", log.Address), zap.Error(err))
		} else {
			event.PairMeta = meta
		}
	}

	return event
}

// PairCreated(address indexed token0, address indexed token1, address pair, uint)
func decodePairCreated(log model.LogRecord) (model.PairCreatedData, error) {
	if len(log.Topics) != 3 {
		return model.PairCreatedData{}, fmt.Errorf("expected 3 topics, got %d", len(log.Topics))
	}
	token0, err := topicAddress(log.Topics[1])
	if err != nil {
		return model.PairCreatedData{}, fmt.Errorf("token0: %w", err)
	}
	token1, err := topicAddress(log.Topics[2])
	if err != nil {
		return model.PairCreatedData{}, fmt.Errorf("token1: %w", err)
	}
	words, err := dataWords(log.Data, 2)
	if err != nil {
		return model.PairCreatedData{}, err
	}
	return model.PairCreatedData{
		Token0:    token0.Hex(),
		Token1:    token1.Hex(),
		Pair:      wordAddress(words[0]).Hex(),
		PairIndex: wordUint(words[1]).String(),
	}, nil
}

// Sync(uint112 reserve0, uint112 reserve1)
func decodeSync(log model.LogRecord) (model.SyncData, error) {
	if len(log.Topics) != 1 {
		return model.SyncData{}, fmt.Errorf("expected 1 topic, got %d", len(log.Topics))
	}
	words, err := dataWords(log.Data, 2)
	if err != nil {
		return model.SyncData{}, err
	}
	return model.SyncData{
		Reserve0: wordUint(words[0]).String(),
		Reserve1: wordUint(words[1]).String(),
	}, nil
}

// Swap(address indexed sender, uint amount0In, uint amount1In,
//      uint amount0Out, uint amount1Out, address indexed to)
func decodeSwapV2(log model.LogRecord) (model.SwapV2Data, error) {
	if len(log.Topics) != 3 {
		return model.SwapV2Data{}, fmt.Errorf("expected 3 topics, got %d", len(log.Topics))
	}
	sender, err := topicAddress(log.Topics[1])
	if err != nil {
		return model.SwapV2Data{}, fmt.Errorf("sender: %w", err)
	}
	to, err := topicAddress(log.Topics[2])
	if err != nil {
		return model.SwapV2Data{}, fmt.Errorf("to: %w", err)
	}
	words, err := dataWords(log.Data, 4)
	if err != nil {
		return model.SwapV2Data{}, err
	}
	return model.SwapV2Data{
		Sender:     sender.Hex(),
		To:         to.Hex(),
		Amount0In:  wordUint(words[0]).String(),
		Amount1In:  wordUint(words[1]).String(),
		Amount0Out: wordUint(words[2]).String(),
		Amount1Out: wordUint(words[3]).String(),
	}, nil
}

// Swap(address indexed sender, address indexed recipient, int256 amount0,
//      int256 amount1, uint160 sqrtPriceX96, uint128 liquidity, int24 tick)
func decodeSwapV3(log model.LogRecord) (model.SwapV3Data, error) {
	if len(log.Topics) != 3 {
		return model.SwapV3Data{}, fmt.Errorf("expected 3 topics, got %d", len(log.Topics))
	}
	sender, err := topicAddress(log.Topics[1])
	if err != nil {
		return model.SwapV3Data{}, fmt.Errorf("sender: %w", err)
	}
	recipient, err := topicAddress(log.Topics[2])
	if err != nil {
		return model.SwapV3Data{}, fmt.Errorf("recipient: %w", err)
	}
	words, err := dataWords(log.Data, 5)
	if err != nil {
		return model.SwapV3Data{}, err
	}
	tick, err := int24FromBig(wordInt(words[4]))
	if err != nil {
		return model.SwapV3Data{}, fmt.Errorf("tick: %w", err)
	}
	return model.SwapV3Data{
		Sender:       sender.Hex(),
		Recipient:    recipient.Hex(),
		Amount0:      wordInt(words[0]).String(),
		Amount1:      wordInt(words[1]).String(),
		SqrtPriceX96: wordUint(words[2]).String(),
		Liquidity:    wordUint(words[3]).String(),
		Tick:         tick,
	}, nil
}
