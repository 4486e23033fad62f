package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// WatchConfig holds configuration for the watch command.
type WatchConfig struct {
	RPCURL        string
	Addresses     []string
	Events        []string
	PollInterval  time.Duration
	CheckDepth    uint64
	ReorgRetries  int
	FinalityDepth uint64
	MinEntries    int
	MinDuration   time.Duration
	MaxAge        time.Duration
	FetchMeta     bool
	Out           string
	PGDSN         string
	MetricsAddr   string
	LogLevel      string
}

// LoadWatch merges config file, environment variables, and flags into WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("poll-interval", 12*time.Second)
	v.SetDefault("check-depth", uint64(64))
	v.SetDefault("reorg-retries", 5)
	v.SetDefault("finality-depth", uint64(64))
	v.SetDefault("min-entries", 3)
	v.SetDefault("min-duration", time.Minute)
	v.SetDefault("max-age", time.Hour)
	v.SetDefault("fetch-meta", true)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return WatchConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := readConfigFile(v, cfgFile); err != nil {
		return WatchConfig{}, err
	}

	cfg := WatchConfig{
		RPCURL:        v.GetString("rpc"),
		Addresses:     getStringSlice(v, "address"),
		Events:        getStringSlice(v, "event"),
		PollInterval:  v.GetDuration("poll-interval"),
		CheckDepth:    v.GetUint64("check-depth"),
		ReorgRetries:  v.GetInt("reorg-retries"),
		FinalityDepth: v.GetUint64("finality-depth"),
		MinEntries:    v.GetInt("min-entries"),
		MinDuration:   v.GetDuration("min-duration"),
		MaxAge:        v.GetDuration("max-age"),
		FetchMeta:     v.GetBool("fetch-meta"),
		Out:           v.GetString("out"),
		PGDSN:         v.GetString("pg-dsn"),
		MetricsAddr:   v.GetString("metrics-addr"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}
