// Package config loads aggregator configuration from flags, environment
// variables, and an optional config file via viper, following the
// teacher's per-command Load-function shape (one Load per binary
// entrypoint, SetEnvPrefix/AutomaticEnv, BindPFlags, SetConfigFile) but
// generalized to the single long-running `serve` process this system runs
// (spec §4.10).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultMulticall3Address is the canonical address Multicall3 is deployed
// at across EVM chains (spec §6).
const DefaultMulticall3Address = "0xca11bde05977b3631167028862be2a173976ca11"

// Spec-default tunables (§4.10, §6), set as viper defaults so every field
// is overridable via flag/env/file but never zero-valued by accident.
const (
	DefaultMaxBatchWeight       = 200
	DefaultSchedulerPeriod      = 10 * time.Second
	DefaultDiscoveryRetryWindow = 300 * time.Second
	DefaultCacheTTL             = 10 * time.Second
	DefaultTierHighInterval     = 5 * time.Second
	DefaultTierNormalInterval   = 10 * time.Second
	DefaultTierLowInterval      = 30 * time.Second
	DefaultMulticallTimeout     = 8 * time.Second
	DefaultTokenListTimeout     = 15 * time.Second
	DefaultShutdownGrace        = 10 * time.Second
	DefaultHTTPAddr             = ":8080"
	DefaultRegistryDir          = "./data/registry"
)

// TierIntervals carries the per-tier refresh cadence (spec §3 Tier).
type TierIntervals struct {
	High   time.Duration `mapstructure:"high"`
	Normal time.Duration `mapstructure:"normal"`
	Low    time.Duration `mapstructure:"low"`
}

// ChainConfig describes one EVM-compatible network this aggregator serves
// (spec §4.10, "Per-chain config loaded from a YAML/JSON config file").
type ChainConfig struct {
	Name                string   `mapstructure:"name"`
	ChainID             int      `mapstructure:"chainId"`
	RPCURLs             []string `mapstructure:"rpcUrls"`
	StaticTokensPath    string   `mapstructure:"staticTokens"`
	DynamicTokenListURL string   `mapstructure:"dynamicTokenListUrl"`
	StableAddress       string   `mapstructure:"stableAddress"`
	BaseTokens          []string `mapstructure:"baseTokens"`
	Multicall3Address   string   `mapstructure:"multicall3Address"`
	V2FactoryAddress    string   `mapstructure:"v2FactoryAddress"`
	V2InitCodeHash      string   `mapstructure:"v2InitCodeHash"`
	V3FactoryAddress    string   `mapstructure:"v3FactoryAddress"`
	V3InitCodeHash      string   `mapstructure:"v3InitCodeHash"`
}

// Config holds every tunable the `serve` command needs, merged from
// config file, environment (prefix DEXAGG), and bound pflags, in viper's
// own ascending-priority order.
type Config struct {
	RegistryDir string
	HTTPAddr    string
	LogLevel    string
	Chains      []ChainConfig

	MaxBatchWeight       int
	SchedulerPeriod      time.Duration
	DiscoveryRetryWindow time.Duration
	CacheTTL             time.Duration
	TierIntervals        TierIntervals
	MulticallTimeout     time.Duration
	TokenListTimeout     time.Duration
	ShutdownGrace        time.Duration

	TheGraphAPIKey  string
	EtherscanAPIKey string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("registry-dir", DefaultRegistryDir)
	v.SetDefault("http-addr", DefaultHTTPAddr)
	v.SetDefault("log-level", "info")
	v.SetDefault("max-batch-weight", DefaultMaxBatchWeight)
	v.SetDefault("scheduler-period", DefaultSchedulerPeriod)
	v.SetDefault("discovery-retry-window", DefaultDiscoveryRetryWindow)
	v.SetDefault("cache-ttl", DefaultCacheTTL)
	v.SetDefault("tier-intervals.high", DefaultTierHighInterval)
	v.SetDefault("tier-intervals.normal", DefaultTierNormalInterval)
	v.SetDefault("tier-intervals.low", DefaultTierLowInterval)
	v.SetDefault("multicall-timeout", DefaultMulticallTimeout)
	v.SetDefault("token-list-timeout", DefaultTokenListTimeout)
	v.SetDefault("shutdown-grace", DefaultShutdownGrace)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("dexaggregator")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var chains []ChainConfig
	if err := v.UnmarshalKey("chains", &chains); err != nil {
		return Config{}, fmt.Errorf("parse chains: %w", err)
	}
	for i := range chains {
		if chains[i].Multicall3Address == "" {
			chains[i].Multicall3Address = DefaultMulticall3Address
		}
	}

	cfg := Config{
		RegistryDir:          v.GetString("registry-dir"),
		HTTPAddr:             v.GetString("http-addr"),
		LogLevel:             v.GetString("log-level"),
		Chains:               chains,
		MaxBatchWeight:       v.GetInt("max-batch-weight"),
		SchedulerPeriod:      v.GetDuration("scheduler-period"),
		DiscoveryRetryWindow: v.GetDuration("discovery-retry-window"),
		CacheTTL:             v.GetDuration("cache-ttl"),
		TierIntervals: TierIntervals{
			High:   v.GetDuration("tier-intervals.high"),
			Normal: v.GetDuration("tier-intervals.normal"),
			Low:    v.GetDuration("tier-intervals.low"),
		},
		MulticallTimeout: v.GetDuration("multicall-timeout"),
		TokenListTimeout: v.GetDuration("token-list-timeout"),
		ShutdownGrace:    v.GetDuration("shutdown-grace"),
		TheGraphAPIKey:   v.GetString("the-graph-api-key"),
		EtherscanAPIKey:  v.GetString("etherscan-api-key"),
	}

	return cfg, nil
}
