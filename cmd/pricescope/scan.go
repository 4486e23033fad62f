package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"priceScope/internal/chain"
	"priceScope/internal/config"
	"priceScope/internal/dex"
	"priceScope/internal/metrics"
	"priceScope/internal/model"
	"priceScope/internal/scanner"
	"priceScope/internal/storage"
	"priceScope/internal/storage/postgres"
)

const flushBatchSize = 256

func runScan(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
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

	// One dedicated connection for chain identity and metadata lookups;
	// the pool workers each dial their own.
	client, err := factory.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain id: %w", err)
	}

	toBlock := cfg.ToBlock
	if toBlock == 0 {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("fetch head: %w", err)
		}
		toBlock = head
	}

	pool, err := chain.SpawnPool(ctx, factory, cfg.Workers)
	if err != nil {
		return err
	}
	defer pool.Close()

	var checkpoint scanner.CheckpointStore
	if cfg.CheckpointEnabled {
		checkpoint = scanner.NewFileCheckpoint(cfg.Checkpoint)
	}

	var pgStore *postgres.Store
	sinks := make([]storage.EventSink, 0, 2)
	switch cfg.Format {
	case "csv":
		sinks = append(sinks, storage.NewCsvSink(cfg.Out))
	case "jsonl":
		sinks = append(sinks, storage.NewJsonlSink(cfg.Out))
	default:
		return fmt.Errorf("unknown output format: %s", cfg.Format)
	}
	if cfg.PGDSN != "" {
		pgStore, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		sinks = append(sinks, pgStore.Sink(ctx, chainID.Uint64()))
		if cfg.CheckpointEnabled {
			checkpoint = pgStore.Checkpoint(ctx, "scan")
		}
	}

	errWriter, err := newJSONLWriter(cfg.Errors, true)
	if err != nil {
		return err
	}
	defer errWriter.Close()

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

	decoder := dex.NewUniswapDecoder(addresses)
	decodeCtx := dex.DecodeContext{
		Context:        ctx,
		Chain:          client,
		PairMetaCache:  dex.NewPairMetaCache(),
		TokenMetaCache: dex.NewTokenMetaCache(),
		Logger:         logger,
		FetchMeta:      cfg.FetchMeta,
	}

	sc := scanner.New(scanner.Config{
		ChainID:      chainID.Uint64(),
		Addresses:    addresses,
		ChunkSize:    cfg.ChunkSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, pool, filter, checkpoint, logger)

	batch := make([]model.DecodedEvent, 0, flushBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, sink := range sinks {
			if err := sink.PutEventBatch(batch); err != nil {
				return fmt.Errorf("write events: %w", err)
			}
		}
		batch = batch[:0]
		return nil
	}

	// Flushing from the progress hook keeps the checkpoint behind durable
	// output: the scanner only checkpoints a chunk once this returns nil.
	lastReleased, lastEvents := uint64(0), uint64(0)
	sc.OnProgress = func(p scanner.Progress) error {
		if err := flush(); err != nil {
			return err
		}
		if m != nil {
			blocks := p.CurrentBlock - lastReleased
			if lastReleased == 0 {
				blocks = p.CurrentBlock - p.StartBlock + 1
			}
			m.ChunkReleased(p.CurrentBlock, blocks, int(p.TotalEvents-lastEvents))
		}
		lastReleased, lastEvents = p.CurrentBlock, p.TotalEvents
		logger.Debug("chunk released",
			zap.Uint64("current", p.CurrentBlock),
			zap.Uint64("end", p.EndBlock),
			zap.Uint64("events", p.TotalEvents),
		)
		return nil
	}

	logger.Info("scan start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", toBlock),
		zap.Int("addresses", len(addresses)),
		zap.Uint64("chunk_size", cfg.ChunkSize),
		zap.Int("workers", pool.Workers()),
		zap.String("out", cfg.Out),
		zap.String("format", cfg.Format),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
	)

	var total, decoded, skipped, failed int
	scanErr := sc.Scan(ctx, cfg.FromBlock, toBlock, func(record model.LogRecord) error {
		total++
		if !decoder.CanDecode(record.Topic0()) {
			skipped++
			return nil
		}
		event, err := decoder.Decode(record, decodeCtx)
		if err != nil {
			failed++
			if m != nil {
				m.DecodeFailed()
			}
			writeDecodeError(errWriter, decodeErrorFromRecord(record, err))
			return nil
		}
		if event == nil {
			skipped++
			return nil
		}
		decoded++
		if m != nil {
			m.EventDecoded(event.EventName)
		}
		batch = append(batch, *event)
		if len(batch) >= flushBatchSize {
			return flush()
		}
		return nil
	})

	if err := flush(); err != nil {
		return err
	}

	logger.Info("scan complete",
		zap.Int("total", total),
		zap.Int("decoded", decoded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return scanErr
}

// buildFilter maps event selectors to a topic filter. A selector is
// either a supported event name or a raw 0x topic0 hash; an empty list
// selects every supported event.
func buildFilter(selectors []string) (scanner.TopicFilter, error) {
	known := map[string]scanner.EventDef{
		dex.EventPairCreated: {Name: dex.EventPairCreated, Signatures: []string{dex.SigPairCreated}},
		dex.EventSync:        {Name: dex.EventSync, Signatures: []string{dex.SigSyncV2}},
		dex.EventSwapV2:      {Name: dex.EventSwapV2, Signatures: []string{dex.SigSwapV2}},
		dex.EventSwapV3:      {Name: dex.EventSwapV3, Signatures: []string{dex.SigSwapV3}},
	}

	var defs []scanner.EventDef
	var raw []string
	if len(selectors) == 0 {
		defs = []scanner.EventDef{
			known[dex.EventPairCreated],
			known[dex.EventSync],
			known[dex.EventSwapV2],
			known[dex.EventSwapV3],
		}
	} else {
		for _, selector := range selectors {
			if strings.HasPrefix(selector, "0x") {
				raw = append(raw, selector)
				continue
			}
			def, ok := known[selector]
			if !ok {
				return scanner.TopicFilter{}, fmt.Errorf("unknown event name: %s", selector)
			}
			defs = append(defs, def)
		}
	}

	filter, err := scanner.BuildTopicFilter(defs)
	if err != nil {
		return scanner.TopicFilter{}, err
	}
	if len(raw) > 0 {
		topics, err := scanner.ParseTopic0(raw)
		if err != nil {
			return scanner.TopicFilter{}, err
		}
		filter = filter.WithRawTopics(topics)
	}
	return filter, nil
}
