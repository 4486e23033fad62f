package scanner

import "fmt"

// BlockRange is an inclusive span of block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange cuts [from, to] into consecutive chunks of at most size
// blocks. The final chunk is whatever remains, so it may be shorter.
func SplitRange(from, to, size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block %d below from block %d", to, from)
	}

	chunks := make([]BlockRange, 0, (to-from)/size+1)
	for start := from; ; {
		end := start + size - 1
		// end < start catches uint64 wraparound near the top of the range.
		if end > to || end < start {
			end = to
		}
		chunks = append(chunks, BlockRange{From: start, To: end})
		if end == to {
			return chunks, nil
		}
		start = end + 1
	}
}
