package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"priceScope/internal/model"
)

// Store provides Postgres persistence for decoded events and scan
// checkpoints.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertEvents inserts or updates decoded events. The conflict target
// matches the log identity, so re-scanning a range is idempotent.
func (s *Store) UpsertEvents(ctx context.Context, events []model.DecodedEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, event := range events {
		decoded, err := json.Marshal(event.Decoded)
		if err != nil {
			return fmt.Errorf("marshal decoded payload: %w", err)
		}
		batch.Queue(`
			INSERT INTO events (
				chain_id, block_number, block_hash, tx_hash, log_index,
				address, event_name, block_ts, token0, token1, decoded, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
			ON CONFLICT (chain_id, block_number, tx_hash, log_index)
			DO UPDATE SET
				block_hash = EXCLUDED.block_hash,
				address = EXCLUDED.address,
				event_name = EXCLUDED.event_name,
				block_ts = EXCLUDED.block_ts,
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				decoded = EXCLUDED.decoded,
				updated_at = now()
		`,
			int64(event.ChainID),
			int64(event.BlockNumber),
			event.BlockHash,
			event.TxHash,
			int64(event.LogIndex),
			event.Address,
			event.EventName,
			int64(event.Timestamp),
			event.PairMeta.Token0,
			event.PairMeta.Token1,
			decoded,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteEventsFrom removes events at or above a block. Used when a
// reorg rewinds the scan window.
func (s *Store) DeleteEventsFrom(ctx context.Context, chainID uint64, block uint64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM events WHERE chain_id = $1 AND block_number >= $2
	`, int64(chainID), int64(block))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LoadCheckpoint returns the last scanned block for a named scan.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("checkpoint name required")
	}
	var block uint64
	row := s.pool.QueryRow(ctx, `SELECT last_scanned_block FROM scan_checkpoints WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return block, true, nil
}

// SaveCheckpoint upserts the last scanned block for a named scan.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("checkpoint name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_checkpoints (name, last_scanned_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_scanned_block = EXCLUDED.last_scanned_block, updated_at = now()
	`, name, block)
	return err
}

// Sink adapts the store to the event sink interface for one chain.
type Sink struct {
	store   *Store
	ctx     context.Context
	chainID uint64
}

func (s *Store) Sink(ctx context.Context, chainID uint64) *Sink {
	return &Sink{store: s, ctx: ctx, chainID: chainID}
}

func (s *Sink) PutEventBatch(events []model.DecodedEvent) error {
	return s.store.UpsertEvents(s.ctx, events)
}

// PurgeEventsFrom deletes the sink chain's events at or above a block.
func (s *Sink) PurgeEventsFrom(block uint64) error {
	_, err := s.store.DeleteEventsFrom(s.ctx, s.chainID, block)
	return err
}

// Checkpoint adapts a named Postgres checkpoint to the scanner's
// checkpoint interface.
type Checkpoint struct {
	store *Store
	name  string
	ctx   context.Context
}

func (s *Store) Checkpoint(ctx context.Context, name string) *Checkpoint {
	return &Checkpoint{store: s, name: name, ctx: ctx}
}

func (c *Checkpoint) Load() (uint64, bool, error) {
	return c.store.LoadCheckpoint(c.ctx, c.name)
}

func (c *Checkpoint) Save(block uint64) error {
	return c.store.SaveCheckpoint(c.ctx, c.name, block)
}
