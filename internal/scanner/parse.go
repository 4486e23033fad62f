package scanner

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseAddresses validates a list of hex contract addresses. Blank
// entries are dropped so comma-separated flag values may carry a
// trailing separator.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		if !common.IsHexAddress(trimmed) {
			return nil, fmt.Errorf("invalid address: %s", trimmed)
		}
		addresses = append(addresses, common.HexToAddress(trimmed))
	}
	return addresses, nil
}

// ParseTopic0 validates a list of 32-byte topic hashes given as 0x hex.
// Blank entries are dropped, like in ParseAddresses.
func ParseTopic0(inputs []string) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(inputs))
	for _, input := range inputs {
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		raw, err := hexutil.Decode(trimmed)
		if err != nil || len(raw) != common.HashLength {
			return nil, fmt.Errorf("invalid topic0: %s", trimmed)
		}
		topics = append(topics, common.BytesToHash(raw))
	}
	return topics, nil
}
