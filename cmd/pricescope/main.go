package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "pricescope",
		Short:        "DEX event scanner and price oracle",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a block range for DEX events",
		RunE:  runScan,
	}

	scanCmd.Flags().String("rpc", "", "Ethereum RPC URL")
	scanCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	scanCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	scanCmd.Flags().StringSlice("address", nil, "contract addresses (comma-separated)")
	scanCmd.Flags().StringSlice("event", nil, "event names (PairCreated, Sync, SwapV2, SwapV3) or raw 0x topic0 hashes; empty means all")
	scanCmd.Flags().Uint64("chunk-size", 2000, "blocks per chunk")
	scanCmd.Flags().Int("workers", 4, "concurrent RPC connections")
	scanCmd.Flags().String("out", "./data/events.jsonl", "output path")
	scanCmd.Flags().String("format", "jsonl", "output format (jsonl or csv)")
	scanCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	scanCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for event persistence")
	scanCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	scanCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	scanCmd.Flags().Int("max-retries", 5, "maximum retry attempts per chunk")
	scanCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	scanCmd.Flags().Bool("fetch-meta", false, "resolve pair and token metadata via eth_call")
	scanCmd.Flags().String("metrics-addr", "", "Prometheus listen address (empty disables)")
	scanCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(scanCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the chain head, maintain a live TWAP, and defend against reorgs",
		RunE:  runWatch,
	}

	watchCmd.Flags().String("rpc", "", "Ethereum RPC URL")
	watchCmd.Flags().StringSlice("address", nil, "pair or pool addresses (comma-separated)")
	watchCmd.Flags().StringSlice("event", nil, "event names to watch; empty means all")
	watchCmd.Flags().Duration("poll-interval", 12*time.Second, "head poll interval")
	watchCmd.Flags().Uint64("check-depth", 64, "reorg check depth in blocks")
	watchCmd.Flags().Int("reorg-retries", 5, "reorg resolution retry budget")
	watchCmd.Flags().Uint64("finality-depth", 64, "blocks behind head considered final")
	watchCmd.Flags().Int("min-entries", 3, "minimum oracle entries")
	watchCmd.Flags().Duration("min-duration", time.Minute, "minimum oracle data period")
	watchCmd.Flags().Duration("max-age", time.Hour, "maximum age of the newest entry")
	watchCmd.Flags().Bool("fetch-meta", true, "resolve pair and token metadata via eth_call")
	watchCmd.Flags().String("out", "", "optional events JSONL path")
	watchCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for event persistence")
	watchCmd.Flags().String("metrics-addr", "", "Prometheus listen address (empty disables)")
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(watchCmd)

	twapCmd := &cobra.Command{
		Use:   "twap",
		Short: "Replay decoded events and compute a TWAP",
		RunE:  runTwap,
	}

	twapCmd.Flags().String("in", "", "input decoded events JSONL")
	twapCmd.Flags().String("pair", "", "restrict to a single pair address")
	twapCmd.Flags().String("at", "", "evaluation time (unix seconds or RFC3339); empty means newest entry")
	twapCmd.Flags().Int("min-entries", 3, "minimum oracle entries")
	twapCmd.Flags().Duration("min-duration", time.Minute, "minimum oracle data period")
	twapCmd.Flags().Duration("max-age", 0, "maximum age of the newest entry (0 disables)")
	twapCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(twapCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
