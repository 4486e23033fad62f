package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Fixed-layout word access for event payloads. Non-indexed parameters of
// the events we decode are all static 32-byte words, so slicing by offset
// avoids signature-driven ABI reflection on the hot path.

const wordSize = 32

// dataWords decodes the hex payload and verifies it holds exactly n
// 32-byte words.
func dataWords(dataHex string, n int) ([][]byte, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	if len(data) != n*wordSize {
		return nil, fmt.Errorf("expected %d data words, got %d bytes", n, len(data))
	}
	words := make([][]byte, n)
	for i := 0; i < n; i++ {
		words[i] = data[i*wordSize : (i+1)*wordSize]
	}
	return words, nil
}

// wordUint reads a word as an arbitrary-precision unsigned integer.
// Values are never truncated to machine word sizes.
func wordUint(word []byte) *big.Int {
	return new(big.Int).SetBytes(word)
}

// wordInt reads a word as a two's-complement signed 256-bit integer.
func wordInt(word []byte) *big.Int {
	value := new(big.Int).SetBytes(word)
	if word[0]&0x80 != 0 {
		value.Sub(value, new(big.Int).Lsh(big.NewInt(1), uint(len(word))*8))
	}
	return value
}

// wordAddress reads the low 20 bytes of a word as an address.
func wordAddress(word []byte) common.Address {
	return common.BytesToAddress(word[wordSize-common.AddressLength:])
}

// topicAddress reads an indexed address parameter from a topic.
func topicAddress(topicHex string) (common.Address, error) {
	word, err := topicWord(topicHex)
	if err != nil {
		return common.Address{}, err
	}
	return wordAddress(word), nil
}

func topicWord(topicHex string) ([]byte, error) {
	data, err := hexutil.Decode(topicHex)
	if err != nil {
		return nil, fmt.Errorf("invalid topic: %w", err)
	}
	if len(data) != wordSize {
		return nil, fmt.Errorf("topic length %d", len(data))
	}
	return data, nil
}

// int24FromBig narrows a decoded tick to int32, rejecting overflow.
func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
