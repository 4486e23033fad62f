package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// TwapConfig holds configuration for the twap replay command.
type TwapConfig struct {
	In          string
	Pair        string
	At          string
	MinEntries  int
	MinDuration time.Duration
	MaxAge      time.Duration
	LogLevel    string
}

// LoadTwap merges config file, environment variables, and flags into TwapConfig.
func LoadTwap(cfgFile string, flags *pflag.FlagSet) (TwapConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("min-entries", 3)
	v.SetDefault("min-duration", time.Minute)
	v.SetDefault("max-age", time.Duration(0))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return TwapConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := readConfigFile(v, cfgFile); err != nil {
		return TwapConfig{}, err
	}

	cfg := TwapConfig{
		In:          v.GetString("in"),
		Pair:        v.GetString("pair"),
		At:          v.GetString("at"),
		MinEntries:  v.GetInt("min-entries"),
		MinDuration: v.GetDuration("min-duration"),
		MaxAge:      v.GetDuration("max-age"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
// An empty input returns the zero time.
func ParseTimestamp(input string) (time.Time, error) {
	if strings.TrimSpace(input) == "" {
		return time.Time{}, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(val, 0).UTC(), nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return time.Time{}, err
	}
	return tm.UTC(), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
