package reorg

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"priceScope/internal/model"
)

// ErrResolutionFailed means divergence kept appearing until the retry
// budget ran out. This is fatal: the node is inconsistent or the chain
// is reorganising faster than automatic recovery can safely follow.
var ErrResolutionFailed = errors.New("reorg resolution failed")

// HeaderSource supplies chain head and header data. *chain.Client
// satisfies it.
type HeaderSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeadersInRange(ctx context.Context, from, to uint64) ([]model.BlockRecord, error)
}

// Config holds monitor settings. CheckDepth must cover the node's
// maximum plausible reorg depth: a divergence deeper than the window is
// invisible to the monitor.
type Config struct {
	CheckDepth uint64
	MaxRetries int
}

// Result reports one completed detection cycle. PurgedFrom, when set, is
// the lowest divergent block number seen during the cycle: the caller
// must discard downstream data for blocks at or above it before trusting
// new data for those heights.
type Result struct {
	LastBlock  uint64
	PurgedFrom *uint64
}

// Monitor keeps a rolling window of observed block hashes and drives the
// truncate-and-retry protocol when the chain diverges from them. It is
// not safe for concurrent use; the scan loop owns it.
type Monitor struct {
	cfg    Config
	src    HeaderSource
	logger *zap.Logger

	window    map[uint64]model.BlockRecord
	lastBlock uint64
	started   bool
}

func NewMonitor(cfg Config, src HeaderSource, logger *zap.Logger) *Monitor {
	if cfg.CheckDepth == 0 {
		cfg.CheckDepth = 64
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:    cfg,
		src:    src,
		logger: logger,
		window: make(map[uint64]model.BlockRecord),
	}
}

// LastBlock returns the highest block number known consistent.
func (m *Monitor) LastBlock() uint64 { return m.lastBlock }

// Reset discards the window and restarts tracking from block. Used when
// a watch session begins mid-chain instead of at genesis.
func (m *Monitor) Reset(block uint64) {
	m.window = make(map[uint64]model.BlockRecord)
	m.lastBlock = block
	m.started = true
}

// BlockHash returns the recorded hash for a block inside the window.
func (m *Monitor) BlockHash(number uint64) (string, bool) {
	rec, ok := m.window[number]
	if !ok {
		return "", false
	}
	return rec.Hash, true
}

// UpdateChain runs one detection cycle: fetch the chain head, re-fetch
// headers from lastBlock - CheckDepth, and compare against recorded
// hashes. On divergence the stale window suffix is truncated, lastBlock
// rewinds to just below the divergence point, and the cycle restarts
// against the corrected state. A cycle that completes with no divergence
// returns the new consistent head.
func (m *Monitor) UpdateChain(ctx context.Context) (Result, error) {
	retries := m.cfg.MaxRetries
	var purgedFrom *uint64

	for {
		head, err := m.src.BlockNumber(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("fetch chain head: %w", err)
		}

		// An unstarted monitor baselines against the current head so the
		// first cycle never walks back to genesis.
		anchor := m.lastBlock
		if !m.started {
			anchor = head
		}
		from := uint64(0)
		if anchor > m.cfg.CheckDepth {
			from = anchor - m.cfg.CheckDepth
		}
		if from > head {
			from = head
		}

		heads, err := m.src.HeadersInRange(ctx, from, head)
		if err != nil {
			return Result{}, fmt.Errorf("fetch headers [%d, %d]: %w", from, head, err)
		}

		divergent, found := m.findDivergence(heads)
		if !found {
			for _, h := range heads {
				m.window[h.Number] = h
			}
			m.lastBlock = head
			m.started = true
			m.evictBelowDepth()
			return Result{LastBlock: m.lastBlock, PurgedFrom: purgedFrom}, nil
		}

		if retries == 0 {
			return Result{}, fmt.Errorf("divergence at block %d persists after %d retries: %w",
				divergent, m.cfg.MaxRetries, ErrResolutionFailed)
		}
		retries--

		if purgedFrom == nil || divergent < *purgedFrom {
			p := divergent
			purgedFrom = &p
		}

		m.logger.Warn("chain divergence detected",
			zap.Uint64("block", divergent),
			zap.Uint64("rewind_to", rewindTarget(divergent)),
			zap.Int("retries_left", retries),
		)

		// Evict the stale suffix, including the block just below the
		// divergence point, then rewind and re-fetch.
		for number := range m.window {
			if number >= rewindTarget(divergent) {
				delete(m.window, number)
			}
		}
		m.lastBlock = rewindTarget(divergent)
	}
}

func rewindTarget(divergent uint64) uint64 {
	if divergent == 0 {
		return 0
	}
	return divergent - 1
}

// findDivergence compares fetched headers against the recorded window
// and returns the lowest block whose hash changed.
func (m *Monitor) findDivergence(heads []model.BlockRecord) (uint64, bool) {
	for _, h := range heads {
		stored, ok := m.window[h.Number]
		if ok && stored.Hash != h.Hash {
			return h.Number, true
		}
	}
	return 0, false
}

func (m *Monitor) evictBelowDepth() {
	if m.lastBlock <= m.cfg.CheckDepth {
		return
	}
	floor := m.lastBlock - m.cfg.CheckDepth
	for number := range m.window {
		if number < floor {
			delete(m.window, number)
		}
	}
}
