package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"priceScope/internal/model"
)

var csvHeader = []string{
	"chain_id", "block_number", "block_hash", "tx_hash", "log_index",
	"address", "event_name", "timestamp", "token0", "token1",
	"symbol0", "symbol1", "decoded",
}

// CsvSink writes decoded events to a CSV file. The header row is
// written only when the file does not already exist, so repeated runs
// appending to the same file stay parseable.
type CsvSink struct {
	path string
	mu   sync.Mutex
}

func NewCsvSink(path string) *CsvSink {
	return &CsvSink{path: path}
}

// PutEventBatch appends a batch of decoded events as CSV rows.
func (s *CsvSink) PutEventBatch(events []model.DecodedEvent) error {
	if len(events) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	writeHeader := false
	if _, err := os.Stat(s.path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("stat output file: %w", err)
		}
		writeHeader = true
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if writeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for _, event := range events {
		decoded, err := json.Marshal(event.Decoded)
		if err != nil {
			return fmt.Errorf("marshal decoded payload: %w", err)
		}
		row := []string{
			strconv.FormatUint(event.ChainID, 10),
			strconv.FormatUint(event.BlockNumber, 10),
			event.BlockHash,
			event.TxHash,
			strconv.FormatUint(event.LogIndex, 10),
			event.Address,
			event.EventName,
			strconv.FormatUint(event.Timestamp, 10),
			event.PairMeta.Token0,
			event.PairMeta.Token1,
			event.PairMeta.Symbol0,
			event.PairMeta.Symbol1,
			string(decoded),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write event row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
