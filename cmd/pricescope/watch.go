package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"priceScope/internal/chain"
	"priceScope/internal/config"
	"priceScope/internal/dex"
	"priceScope/internal/metrics"
	"priceScope/internal/model"
	"priceScope/internal/oracle"
	"priceScope/internal/reorg"
	"priceScope/internal/scanner"
	"priceScope/internal/storage"
	"priceScope/internal/storage/postgres"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	addresses, err := scanner.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("address list is required")
	}

	filter, err := buildFilter(cfg.Events)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := chain.Factory{URL: cfg.RPCURL}
	client, err := factory.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain id: %w", err)
	}

	sinks := make([]storage.EventSink, 0, 2)
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlSink(cfg.Out))
	}
	if cfg.PGDSN != "" {
		pgStore, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		sinks = append(sinks, pgStore.Sink(ctx, chainID.Uint64()))
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err = metrics.New(reg)
		if err != nil {
			return err
		}
		srv := metrics.NewServer(cfg.MetricsAddr, reg)
		srv.Start()
		defer srv.Shutdown(context.Background())
	}

	monitor := reorg.NewMonitor(reorg.Config{
		CheckDepth: cfg.CheckDepth,
		MaxRetries: cfg.ReorgRetries,
	}, client, logger)

	orc := oracle.New(oracle.Config{
		MinEntries:  cfg.MinEntries,
		MinDuration: cfg.MinDuration,
		MaxAge:      cfg.MaxAge,
	})

	decoder := dex.NewUniswapDecoder(addresses)
	decodeCtx := dex.DecodeContext{
		Context:        ctx,
		Chain:          client,
		PairMetaCache:  dex.NewPairMetaCache(),
		TokenMetaCache: dex.NewTokenMetaCache(),
		Logger:         logger,
		FetchMeta:      cfg.FetchMeta,
	}

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.Int("addresses", len(addresses)),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Uint64("check_depth", cfg.CheckDepth),
		zap.Uint64("finality_depth", cfg.FinalityDepth),
	)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var lastProcessed uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case <-ticker.C:
		}

		prevLast := monitor.LastBlock()
		res, err := monitor.UpdateChain(ctx)
		if err != nil {
			if errors.Is(err, reorg.ErrResolutionFailed) {
				return err
			}
			logger.Warn("head poll failed", zap.Error(err))
			continue
		}

		if res.PurgedFrom != nil {
			purged := *res.PurgedFrom
			removed := orc.TruncateFrom(purged)
			for _, sink := range sinks {
				purger, ok := sink.(storage.EventPurger)
				if !ok {
					continue
				}
				if err := purger.PurgeEventsFrom(purged); err != nil {
					logger.Warn("purge stored events failed", zap.Error(err))
				}
			}
			if lastProcessed >= purged {
				lastProcessed = rewindBelow(purged)
			}
			depth := uint64(1)
			if prevLast >= purged {
				depth = prevLast - purged + 1
			}
			if m != nil {
				m.ReorgDetected(depth)
			}
			logger.Warn("reorg resolved",
				zap.Uint64("purged_from", purged),
				zap.Uint64("depth", depth),
				zap.Int("entries_dropped", removed),
				zap.Uint64("last_block", res.LastBlock),
			)
		}

		if lastProcessed == 0 {
			// First cycle establishes the baseline; history before the
			// current head is the scan command's job.
			lastProcessed = res.LastBlock
			continue
		}
		if res.LastBlock <= lastProcessed {
			continue
		}

		from, to := lastProcessed+1, res.LastBlock
		events, err := fetchAndDecode(ctx, client, chainID.Uint64(), addresses, filter, decoder, decodeCtx, from, to)
		if err != nil {
			logger.Warn("fetch logs failed", zap.Error(err), zap.Uint64("from", from), zap.Uint64("to", to))
			continue
		}

		for i := range events {
			event := &events[i]
			if m != nil {
				m.EventDecoded(event.EventName)
			}
			entry, ok, err := priceEntryFor(event)
			if err != nil {
				logger.Debug("price derivation failed", zap.Error(err), zap.String("tx", event.TxHash))
				continue
			}
			if ok {
				orc.Add(entry)
			}
		}

		for _, sink := range sinks {
			if err := sink.PutEventBatch(events); err != nil {
				logger.Warn("write events failed", zap.Error(err))
			}
		}
		lastProcessed = to

		now := time.Now().UTC()
		if res.LastBlock > cfg.FinalityDepth {
			orc.MarkFinal(res.LastBlock - cfg.FinalityDepth)
			if cfg.MaxAge > 0 {
				evicted := orc.EvictBefore(now.Add(-cfg.MaxAge))
				if m != nil {
					m.OracleEvicted(evicted)
				}
			}
		}
		if m != nil {
			m.ChunkReleased(to, to-from+1, len(events))
			m.OracleSize(orc.Len())
		}

		price, err := orc.CalculatePrice(now)
		if err != nil {
			logger.Debug("oracle not ready", zap.Error(err), zap.Int("entries", orc.Len()))
			continue
		}
		logger.Info("twap",
			zap.String("price", price.String()),
			zap.Int("entries", orc.Len()),
			zap.Uint64("block", to),
		)
	}
}

// rewindBelow returns the last block still trustworthy after a purge
// at block. A purge at genesis rewinds to zero, which makes the watch
// loop re-baseline instead of underflowing.
func rewindBelow(purged uint64) uint64 {
	if purged == 0 {
		return 0
	}
	return purged - 1
}

// logBackend is the slice of the chain client the watch loop fetches
// with. BlockTimestamp is cache-backed on the real client, so only
// blocks that actually carry logs cost a header fetch.
type logBackend interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// fetchAndDecode pulls logs for [from, to], resolves block timestamps,
// and decodes everything the filter matched.
func fetchAndDecode(
	ctx context.Context,
	client logBackend,
	chainID uint64,
	addresses []common.Address,
	filter scanner.TopicFilter,
	decoder dex.Decoder,
	decodeCtx dex.DecodeContext,
	from, to uint64,
) ([]model.DecodedEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
		Topics:    [][]common.Hash{filter.Topic0s()},
	}
	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	if len(logs) == 0 {
		return nil, nil
	}

	timestamps := make(map[uint64]uint64)
	for _, lg := range logs {
		if _, ok := timestamps[lg.BlockNumber]; ok {
			continue
		}
		ts, err := client.BlockTimestamp(ctx, lg.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("timestamp for block %d: %w", lg.BlockNumber, err)
		}
		timestamps[lg.BlockNumber] = ts
	}

	ingestedAt := time.Now()
	events := make([]model.DecodedEvent, 0, len(logs))
	for _, lg := range logs {
		record := scanner.NewLogRecord(chainID, lg, timestamps[lg.BlockNumber], ingestedAt)
		if !decoder.CanDecode(record.Topic0()) {
			continue
		}
		event, err := decoder.Decode(record, decodeCtx)
		if err != nil || event == nil {
			continue
		}
		events = append(events, *event)
	}
	return events, nil
}

// priceEntryFor converts a decoded event into a price observation.
// PairCreated events carry no price and report ok=false.
func priceEntryFor(event *model.DecodedEvent) (model.PriceEntry, bool, error) {
	switch data := event.Decoded.(type) {
	case model.SyncData:
		entry, err := oracle.PriceFromSync(event, data)
		return entry, err == nil, err
	case model.SwapV2Data:
		entry, err := oracle.PriceFromSwapV2(event, data)
		return entry, err == nil, err
	case model.SwapV3Data:
		entry, err := oracle.PriceFromSwapV3(event, data)
		return entry, err == nil, err
	default:
		return model.PriceEntry{}, false, nil
	}
}
