package scanner

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// EventDef names an event and its canonical signatures. Overloaded events
// carry more than one signature.
type EventDef struct {
	Name       string
	Signatures []string
}

// TopicFilter maps signature hashes back to event definitions and carries
// the topic0 set used to pre-filter logs at the RPC layer.
type TopicFilter struct {
	byTopic map[common.Hash]EventDef
	topics  []common.Hash
}

// BuildTopicFilter hashes every signature of every definition. It is pure
// and deterministic: identical inputs always yield identical output, so
// one filter per scan session suffices.
func BuildTopicFilter(defs []EventDef) (TopicFilter, error) {
	byTopic := make(map[common.Hash]EventDef)
	topics := make([]common.Hash, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return TopicFilter{}, fmt.Errorf("event definition without a name")
		}
		if len(def.Signatures) == 0 {
			return TopicFilter{}, fmt.Errorf("event %s has no signatures", def.Name)
		}
		for _, sig := range def.Signatures {
			topic := crypto.Keccak256Hash([]byte(sig))
			if existing, ok := byTopic[topic]; ok && existing.Name != def.Name {
				return TopicFilter{}, fmt.Errorf("signature collision between %s and %s", existing.Name, def.Name)
			}
			byTopic[topic] = def
			topics = append(topics, topic)
		}
	}
	return TopicFilter{byTopic: byTopic, topics: topics}, nil
}

// WithRawTopics returns a copy of the filter extended with pre-hashed
// topic0 values, for contracts whose event signatures are not known by
// name. Raw topics pass the RPC pre-filter but have no event
// definition, so Lookup on them reports not-found and decoding decides
// what to do with the log.
func (f TopicFilter) WithRawTopics(topics []common.Hash) TopicFilter {
	if len(topics) == 0 {
		return f
	}
	out := TopicFilter{
		byTopic: f.byTopic,
		topics:  make([]common.Hash, 0, len(f.topics)+len(topics)),
	}
	out.topics = append(out.topics, f.topics...)
	for _, topic := range topics {
		if _, known := f.byTopic[topic]; known {
			continue
		}
		out.topics = append(out.topics, topic)
	}
	return out
}

// Topic0s returns the signature hashes for the eth_getLogs topic filter.
func (f TopicFilter) Topic0s() []common.Hash {
	out := make([]common.Hash, len(f.topics))
	copy(out, f.topics)
	return out
}

// Lookup resolves a topic0 back to its event definition.
func (f TopicFilter) Lookup(topic0 common.Hash) (EventDef, bool) {
	def, ok := f.byTopic[topic0]
	return def, ok
}

// MaybeContains reports whether a block's logs bloom could contain any of
// the filter's topics. A false result proves the block has no matching
// log; a true result still requires full inspection.
func (f TopicFilter) MaybeContains(bloom types.Bloom) bool {
	for _, topic := range f.topics {
		if types.BloomLookup(bloom, topic) {
			return true
		}
	}
	return false
}
