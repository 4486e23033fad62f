package scanner

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestBuildTopicFilterKnownSignatures(t *testing.T) {
	defs := []EventDef{
		{Name: "PairCreated", Signatures: []string{"PairCreated(address,address,address,uint256)"}},
		{Name: "Sync", Signatures: []string{"Sync(uint112,uint112)"}},
		{Name: "Swap", Signatures: []string{
			"Swap(address,uint256,uint256,uint256,uint256,address)",
			"Swap(address,address,int256,int256,uint160,uint128,int24)",
		}},
	}

	filter, err := BuildTopicFilter(defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9": "PairCreated",
		"0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1": "Sync",
		"0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822": "Swap",
		"0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67": "Swap",
	}

	if len(filter.Topic0s()) != 4 {
		t.Fatalf("expected 4 topics, got %d", len(filter.Topic0s()))
	}
	for topic, name := range want {
		def, ok := filter.Lookup(common.HexToHash(topic))
		if !ok {
			t.Fatalf("missing topic %s", topic)
		}
		if def.Name != name {
			t.Fatalf("topic %s resolved to %s, want %s", topic, def.Name, name)
		}
	}
}

func TestBuildTopicFilterDeterministic(t *testing.T) {
	defs := []EventDef{{Name: "Sync", Signatures: []string{"Sync(uint112,uint112)"}}}

	a, err := BuildTopicFilter(defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := BuildTopicFilter(defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Topic0s()[0] != b.Topic0s()[0] {
		t.Fatalf("filter construction is not deterministic")
	}
}

func TestWithRawTopics(t *testing.T) {
	filter, err := BuildTopicFilter([]EventDef{{Name: "Sync", Signatures: []string{"Sync(uint112,uint112)"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := ParseTopic0([]string{
		"0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822",
		"", // blank entries from trailing separators are dropped
	})
	if err != nil {
		t.Fatalf("parse topic0: %v", err)
	}

	extended := filter.WithRawTopics(raw)
	if len(extended.Topic0s()) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(extended.Topic0s()))
	}
	if _, ok := extended.Lookup(raw[0]); ok {
		t.Fatalf("raw topics must not resolve to an event definition")
	}

	// Raw topics that duplicate a named definition are dropped.
	sync := filter.Topic0s()[0]
	if got := filter.WithRawTopics([]common.Hash{sync}).Topic0s(); len(got) != 1 {
		t.Fatalf("expected duplicate raw topic to collapse, got %d topics", len(got))
	}
}

func TestParseTopic0Invalid(t *testing.T) {
	if _, err := ParseTopic0([]string{"0x1234"}); err == nil {
		t.Fatalf("expected error for short topic")
	}
	if _, err := ParseTopic0([]string{"not-hex"}); err == nil {
		t.Fatalf("expected error for non-hex topic")
	}
}

func TestBuildTopicFilterRejectsEmptyDefinitions(t *testing.T) {
	if _, err := BuildTopicFilter([]EventDef{{Name: "", Signatures: []string{"A()"}}}); err == nil {
		t.Fatalf("expected error for unnamed definition")
	}
	if _, err := BuildTopicFilter([]EventDef{{Name: "A"}}); err == nil {
		t.Fatalf("expected error for definition without signatures")
	}
}

func TestMaybeContains(t *testing.T) {
	filter, err := BuildTopicFilter([]EventDef{{Name: "Sync", Signatures: []string{"Sync(uint112,uint112)"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var empty types.Bloom
	if filter.MaybeContains(empty) {
		t.Fatalf("empty bloom must not match")
	}

	topic := filter.Topic0s()[0]
	matching := types.CreateBloom(types.Receipts{{Logs: []*types.Log{{Topics: []common.Hash{topic}}}}})
	if !filter.MaybeContains(matching) {
		t.Fatalf("bloom containing the topic must match")
	}
}
