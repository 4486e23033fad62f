package model

// BlockRecord is a header snapshot tracked by the reorg monitor.
type BlockRecord struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	Timestamp  uint64 `json:"timestamp"`
}
