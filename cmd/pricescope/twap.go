package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"priceScope/internal/config"
	"priceScope/internal/dex"
	"priceScope/internal/model"
	"priceScope/internal/oracle"
)

// eventLine defers the payload so it can be decoded by event name.
type eventLine struct {
	model.DecodedEvent
	Decoded json.RawMessage `json:"decoded"`
}

func runTwap(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadTwap(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}

	at, err := config.ParseTimestamp(cfg.At)
	if err != nil {
		return fmt.Errorf("parse at: %w", err)
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	orc := oracle.New(oracle.Config{
		MinEntries:  cfg.MinEntries,
		MinDuration: cfg.MinDuration,
		MaxAge:      cfg.MaxAge,
	})

	pairFilter := strings.ToLower(strings.TrimSpace(cfg.Pair))

	fileScanner := bufio.NewScanner(inputFile)
	buf := make([]byte, 0, 64*1024)
	fileScanner.Buffer(buf, 10*1024*1024)

	var total, used, skipped, failed int
	for fileScanner.Scan() {
		line := bytes.TrimSpace(fileScanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var parsed eventLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			failed++
			continue
		}
		if pairFilter != "" && strings.ToLower(parsed.Address) != pairFilter {
			skipped++
			continue
		}

		entry, ok, err := replayEntry(&parsed)
		if err != nil {
			failed++
			continue
		}
		if !ok {
			skipped++
			continue
		}
		orc.Add(entry)
		used++
	}
	if err := fileScanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	logger.Info("replay complete",
		zap.Int("total", total),
		zap.Int("used", used),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	if at.IsZero() {
		newest, ok := orc.Newest()
		if !ok {
			return fmt.Errorf("no usable price entries in input")
		}
		at = newest.Timestamp
	}

	price, err := orc.CalculatePrice(at)
	if err != nil {
		return err
	}

	oldest, _ := orc.Oldest()
	newest, _ := orc.Newest()
	fmt.Printf("twap=%s entries=%d window=[%s, %s]\n",
		price.String(), orc.Len(),
		oldest.Timestamp.Format(time.RFC3339),
		newest.Timestamp.Format(time.RFC3339),
	)

	stats := orc.Summarize()
	if stats.VWAP != nil {
		fmt.Printf("vwap=%s volume=%s\n", stats.VWAP.String(), stats.TotalVolume.String())
	}
	return nil
}

// replayEntry rebuilds the typed payload from its JSON form and derives
// a price observation from it.
func replayEntry(line *eventLine) (model.PriceEntry, bool, error) {
	event := line.DecodedEvent
	switch line.EventName {
	case dex.EventSync:
		var data model.SyncData
		if err := json.Unmarshal(line.Decoded, &data); err != nil {
			return model.PriceEntry{}, false, err
		}
		entry, err := oracle.PriceFromSync(&event, data)
		return entry, err == nil, err
	case dex.EventSwapV2:
		var data model.SwapV2Data
		if err := json.Unmarshal(line.Decoded, &data); err != nil {
			return model.PriceEntry{}, false, err
		}
		entry, err := oracle.PriceFromSwapV2(&event, data)
		return entry, err == nil, err
	case dex.EventSwapV3:
		var data model.SwapV3Data
		if err := json.Unmarshal(line.Decoded, &data); err != nil {
			return model.PriceEntry{}, false, err
		}
		entry, err := oracle.PriceFromSwapV3(&event, data)
		return entry, err == nil, err
	default:
		return model.PriceEntry{}, false, nil
	}
}
