package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	// Platform selects the candle source: binance or bybit.
	Platform string
	// Assets is the coin universe the dealer analyzes, e.g. BTC, ETH.
	Assets []string
	// Timeframe is the primary candle interval in the exchange's native
	// code (binance: "1h", bybit: "60").
	Timeframe string
	// MacroTimeframe is an optional secondary interval for trend context.
	MacroTimeframe string
	// StrategyText is free-form strategy guidance passed to the oracle.
	StrategyText string

	MaxPositionSizeUSDC decimal.Decimal
	MaxOpenPositions    int
	MaxTradesPerCycle   int
	DefaultLeverage     int
	Aggressive          bool

	TickInterval          time.Duration
	DealerInterval        time.Duration
	PortfolioSyncInterval time.Duration
	CooldownWindow        time.Duration

	// OracleBackend is openai or anthropic.
	OracleBackend string
	OracleAPIURL  string
	OracleAPIKey  string
	OracleModel   string

	HyperliquidURL string
	VaultRPCURL    string
	VaultAddress   string
	// KeyFile holds the encrypted signing key (keystore JSON or envelope).
	KeyFile string

	WALDir string
	// WebAddr enables the telemetry HTTP server when set, e.g. ":8085".
	WebAddr string
}

type ConfigTmp struct {
	Platform       string   `yaml:"platform"`
	Assets         []string `yaml:"assets"`
	Timeframe      string   `yaml:"timeframe"`
	MacroTimeframe string   `yaml:"macro_timeframe,omitempty"`
	StrategyText   string   `yaml:"strategy,omitempty"`

	MaxPositionSizeUSDC string `yaml:"max_position_size_usdc,omitempty"`
	MaxOpenPositions    int    `yaml:"max_open_positions,omitempty"`
	MaxTradesPerCycle   int    `yaml:"max_trades_per_cycle,omitempty"`
	DefaultLeverage     int    `yaml:"default_leverage,omitempty"`
	Aggressive          bool   `yaml:"aggressive,omitempty"`

	TickInterval          time.Duration `yaml:"tick_interval,omitempty"`
	DealerInterval        time.Duration `yaml:"dealer_interval,omitempty"`
	PortfolioSyncInterval time.Duration `yaml:"portfolio_sync_interval,omitempty"`
	CooldownWindow        time.Duration `yaml:"cooldown_window,omitempty"`

	OracleBackend string `yaml:"oracle_backend,omitempty"`
	OracleAPIURL  string `yaml:"oracle_api_url,omitempty"`
	OracleAPIKey  string `yaml:"oracle_api_key,omitempty"`
	OracleModel   string `yaml:"oracle_model,omitempty"`

	HyperliquidURL string `yaml:"hyperliquid_url,omitempty"`
	VaultRPCURL    string `yaml:"vault_rpc_url,omitempty"`
	VaultAddress   string `yaml:"vault_address,omitempty"`
	KeyFile        string `yaml:"key_file,omitempty"`

	WALDir  string `yaml:"wal_dir,omitempty"`
	WebAddr string `yaml:"web_addr,omitempty"`
}

// Get reads configuration from the yaml file named by -config, falling back
// to CLI flags for the essential settings.
func Get() (*Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	platform := flag.String("platform", "binance", "candle source: binance or bybit")
	assets := flag.String("assets", "BTC_ETH", "underscore-separated coin list, example: BTC_ETH_SOL")
	timeframe := flag.String("timeframe", "", "exchange-native candle interval (binance: 1h, bybit: 60); defaults per platform")
	oracleBackend := flag.String("oracle", "openai", "decision oracle backend: openai or anthropic")
	flag.Parse()

	if *configPath != "" {
		return FromFile(*configPath)
	}

	cfg := &Config{
		Platform:      *platform,
		Assets:        strings.Split(*assets, "_"),
		Timeframe:     *timeframe,
		OracleBackend: *oracleBackend,
		OracleAPIKey:  os.Getenv("ORACLE_API_KEY"),
	}
	cfg.applyDefaults()

	return cfg, cfg.validate()
}

// FromFile loads configuration from a yaml file.
func FromFile(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return nil, err
	}

	cfg := &Config{
		Platform:              tmp.Platform,
		Assets:                tmp.Assets,
		Timeframe:             tmp.Timeframe,
		MacroTimeframe:        tmp.MacroTimeframe,
		StrategyText:          tmp.StrategyText,
		MaxOpenPositions:      tmp.MaxOpenPositions,
		MaxTradesPerCycle:     tmp.MaxTradesPerCycle,
		DefaultLeverage:       tmp.DefaultLeverage,
		Aggressive:            tmp.Aggressive,
		TickInterval:          tmp.TickInterval,
		DealerInterval:        tmp.DealerInterval,
		PortfolioSyncInterval: tmp.PortfolioSyncInterval,
		CooldownWindow:        tmp.CooldownWindow,
		OracleBackend:         tmp.OracleBackend,
		OracleAPIURL:          tmp.OracleAPIURL,
		OracleAPIKey:          expandEnv(tmp.OracleAPIKey),
		OracleModel:           tmp.OracleModel,
		HyperliquidURL:        tmp.HyperliquidURL,
		VaultRPCURL:           tmp.VaultRPCURL,
		VaultAddress:          tmp.VaultAddress,
		KeyFile:               tmp.KeyFile,
		WALDir:                tmp.WALDir,
		WebAddr:               tmp.WebAddr,
	}

	if tmp.MaxPositionSizeUSDC != "" {
		size, err := decimal.NewFromString(tmp.MaxPositionSizeUSDC)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'max_position_size_usdc' param in yaml config: %w", err)
		}
		cfg.MaxPositionSizeUSDC = size
	}

	cfg.applyDefaults()

	return cfg, cfg.validate()
}

func (c *Config) applyDefaults() {
	if c.Timeframe == "" {
		c.Timeframe = defaultTimeframe(c.Platform)
	}
	if c.MaxPositionSizeUSDC.IsZero() {
		c.MaxPositionSizeUSDC = decimal.NewFromInt(100)
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 3
	}
	if c.MaxTradesPerCycle <= 0 {
		c.MaxTradesPerCycle = 2
	}
	if c.DefaultLeverage <= 0 {
		c.DefaultLeverage = 2
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.DealerInterval <= 0 {
		c.DealerInterval = 3 * time.Minute
	}
	if c.PortfolioSyncInterval <= 0 {
		c.PortfolioSyncInterval = 30 * time.Second
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = 5 * time.Minute
	}
	if c.OracleBackend == "" {
		c.OracleBackend = "openai"
	}
	if c.OracleAPIURL == "" {
		c.OracleAPIURL = "https://api.openai.com/v1/chat/completions"
	}
	if c.OracleModel == "" {
		c.OracleModel = defaultOracleModel(c.OracleBackend)
	}
	if c.WALDir == "" {
		c.WALDir = "./wal"
	}
}

func (c *Config) validate() error {
	if c.Platform != "binance" && c.Platform != "bybit" {
		return fmt.Errorf("invalid platform: %s (expected binance or bybit)", c.Platform)
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	if c.Timeframe == "" {
		return fmt.Errorf("timeframe is required")
	}
	if c.OracleBackend != "openai" && c.OracleBackend != "anthropic" {
		return fmt.Errorf("invalid oracle backend: %s (expected openai or anthropic)", c.OracleBackend)
	}
	return nil
}

// defaultTimeframe picks the hourly interval in each exchange's native code.
func defaultTimeframe(platform string) string {
	if platform == "bybit" {
		return "60"
	}
	return "1h"
}

func defaultOracleModel(backend string) string {
	if backend == "anthropic" {
		return "claude-sonnet-4-20250514"
	}
	return "gpt-4o"
}

// expandEnv resolves ${VAR} references so secrets stay out of the yaml file.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}"))
	}
	return v
}
