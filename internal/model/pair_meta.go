package model

// PairMeta captures immutable pair/pool metadata needed to price events.
type PairMeta struct {
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	Symbol0   string `json:"symbol0,omitempty"`
	Symbol1   string `json:"symbol1,omitempty"`
	Decimals0 uint8  `json:"decimals0"`
	Decimals1 uint8  `json:"decimals1"`
}
