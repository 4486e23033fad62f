package scanner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"priceScope/internal/chain"
	"priceScope/internal/model"
)

// ScanAbortedError reports the exact chunk that failed after retries were
// exhausted. Progress up to the last checkpointed chunk is preserved, so
// the next invocation resumes instead of rescanning from the start.
type ScanAbortedError struct {
	From  uint64
	To    uint64
	Cause error
}

func (e *ScanAbortedError) Error() string {
	return fmt.Sprintf("scan aborted in range [%d, %d]: %v", e.From, e.To, e.Cause)
}

func (e *ScanAbortedError) Unwrap() error { return e.Cause }

// Progress describes scan state after a chunk is released downstream.
type Progress struct {
	CurrentBlock  uint64
	StartBlock    uint64
	EndBlock      uint64
	ChunkSize     uint64
	TotalEvents   uint64
	LastTimestamp uint64
}

// ProgressFunc runs synchronously on the scan loop after each released
// chunk and before the checkpoint is written, so implementations can
// commit buffered output first. A returned error aborts the scan with
// the chunk left uncheckpointed. It must return quickly or it stalls
// the scan.
type ProgressFunc func(Progress) error

// Config holds runtime settings for the scanner.
type Config struct {
	ChainID      uint64
	Addresses    []common.Address
	ChunkSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Scanner streams raw logs for a block range through a worker pool,
// re-ordering chunk completions back into ascending block order.
type Scanner struct {
	cfg        Config
	pool       *chain.Pool
	filter     TopicFilter
	checkpoint CheckpointStore
	logger     *zap.Logger

	// OnProgress, when set, is invoked after each released chunk.
	OnProgress ProgressFunc
}

// New builds a Scanner. checkpoint may be nil to disable resumption.
func New(cfg Config, pool *chain.Pool, filter TopicFilter, checkpoint CheckpointStore, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		cfg:        cfg,
		pool:       pool,
		filter:     filter,
		checkpoint: checkpoint,
		logger:     logger,
	}
}

type chunkResult struct {
	r          BlockRange
	logs       []types.Log
	timestamps map[uint64]uint64
	err        error
}

// Scan fetches logs for [from, to] and emits them in ascending block
// order. Within a chunk, log order is whatever the endpoint returned.
// The emit callback runs on the scan loop; an error from it aborts the
// scan without checkpointing the current chunk.
func (s *Scanner) Scan(ctx context.Context, from, to uint64, emit func(model.LogRecord) error) error {
	if s.pool == nil {
		return fmt.Errorf("worker pool is nil")
	}
	if s.cfg.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be greater than zero")
	}

	if s.checkpoint != nil {
		cp, ok, err := s.checkpoint.Load()
		if err != nil {
			return err
		}
		if ok && cp+1 > from {
			from = cp + 1
			s.logger.Info("resume from checkpoint", zap.Uint64("last_scanned", cp), zap.Uint64("from", from))
		}
	}

	if from > to {
		s.logger.Info("nothing to scan", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, s.cfg.ChunkSize)
	if err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := s.pool.Workers()
	completions := make(chan chunkResult, workers)

	// Slots bound both in-flight chunks and the reordering buffer: a
	// completed chunk keeps its slot until released in order, so memory
	// stays bounded when one chunk straggles.
	slots := make(chan struct{}, workers)

	go func() {
		for _, r := range ranges {
			select {
			case slots <- struct{}{}:
			case <-scanCtx.Done():
				return
			}
			go s.fetchChunk(scanCtx, r, completions)
		}
	}()

	var (
		pending     = make(map[uint64]chunkResult)
		nextStart   = ranges[0].From
		released    = 0
		totalEvents uint64
		lastTS      uint64
	)

	for released < len(ranges) {
		var res chunkResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res = <-completions:
		}
		pending[res.r.From] = res

		for {
			next, ok := pending[nextStart]
			if !ok {
				break
			}
			if next.err != nil {
				return &ScanAbortedError{From: next.r.From, To: next.r.To, Cause: next.err}
			}

			// Chunks cover disjoint block ranges, so duplicates can only
			// appear within one chunk's response. Keying the set per chunk
			// keeps memory flat over arbitrarily long scans.
			seen := make(map[string]struct{}, len(next.logs))
			ingestedAt := time.Now().UTC()
			for _, lg := range next.logs {
				rec := NewLogRecord(s.cfg.ChainID, lg, next.timestamps[lg.BlockNumber], ingestedAt)
				if _, dup := seen[rec.ID()]; dup {
					continue
				}
				seen[rec.ID()] = struct{}{}
				if err := emit(rec); err != nil {
					return fmt.Errorf("emit log %s: %w", rec.ID(), err)
				}
				totalEvents++
				lastTS = rec.Timestamp
			}
			if ts, ok := next.timestamps[next.r.To]; ok {
				lastTS = ts
			}

			delete(pending, nextStart)
			released++
			<-slots
			nextStart = next.r.To + 1

			// Progress runs before the checkpoint write: a consumer that
			// flushes buffered output here is guaranteed the checkpoint
			// never points past data it has not committed.
			if s.OnProgress != nil {
				err := s.OnProgress(Progress{
					CurrentBlock:  next.r.To,
					StartBlock:    from,
					EndBlock:      to,
					ChunkSize:     s.cfg.ChunkSize,
					TotalEvents:   totalEvents,
					LastTimestamp: lastTS,
				})
				if err != nil {
					return fmt.Errorf("commit chunk [%d, %d]: %w", next.r.From, next.r.To, err)
				}
			}
			if s.checkpoint != nil {
				if err := s.checkpoint.Save(next.r.To); err != nil {
					return err
				}
			}

			s.logger.Debug("chunk released",
				zap.Uint64("from", next.r.From),
				zap.Uint64("to", next.r.To),
				zap.Int("logs", len(next.logs)),
			)
		}
	}

	return nil
}

// fetchChunk submits the two correlated queries for one chunk: the
// filtered log query and the header query that resolves timestamps.
func (s *Scanner) fetchChunk(ctx context.Context, r BlockRange, out chan<- chunkResult) {
	logsCh := s.pool.Submit(ctx, func(ctx context.Context, client chain.Backend) (interface{}, error) {
		var logs []types.Log
		err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
			query := ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(r.From),
				ToBlock:   new(big.Int).SetUint64(r.To),
				Addresses: s.cfg.Addresses,
			}
			if topics := s.filter.Topic0s(); len(topics) > 0 {
				query.Topics = [][]common.Hash{topics}
			}
			var err error
			logs, err = client.FilterLogs(ctx, query)
			if err != nil {
				s.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", r.From), zap.Uint64("to", r.To))
			}
			return err
		})
		return logs, err
	})

	headsCh := s.pool.Submit(ctx, func(ctx context.Context, client chain.Backend) (interface{}, error) {
		var heads []model.BlockRecord
		err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			heads, err = client.HeadersInRange(ctx, r.From, r.To)
			if err != nil {
				s.logger.Warn("header fetch failed", zap.Error(err), zap.Uint64("from", r.From), zap.Uint64("to", r.To))
			}
			return err
		})
		return heads, err
	})

	logsRes := <-logsCh
	headsRes := <-headsCh

	res := chunkResult{r: r}
	if logsRes.Err != nil {
		res.err = fmt.Errorf("filter logs: %w", logsRes.Err)
	} else if headsRes.Err != nil {
		res.err = fmt.Errorf("fetch headers: %w", headsRes.Err)
	} else {
		res.logs = logsRes.Value.([]types.Log)
		heads := headsRes.Value.([]model.BlockRecord)
		res.timestamps = make(map[uint64]uint64, len(heads))
		for _, h := range heads {
			res.timestamps[h.Number] = h.Timestamp
		}
	}

	select {
	case out <- res:
	case <-ctx.Done():
	}
}
