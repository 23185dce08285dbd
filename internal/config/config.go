// Package config defines all configuration for the market-making agent.
//
// The tunables are compile-time defaults matching the trading desk's sign-off
// values below; Load applies a YAML file and DELTA_*-prefixed environment
// overrides on top of those defaults via viper, the way the teacher's bot
// layers environment overrides onto a YAML base.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Symbol universe. ETF trades against a synthetic fair derived from the
// three constituents, weighted by SyntheticWeights.
const (
	SymbolETF = "ETF"
	SymbolXYZ = "XYZ"
	SymbolABC = "ABC"
	SymbolDEF = "DEF"
)

// AllSymbols lists the fixed trading universe in priority-neutral order.
var AllSymbols = []string{SymbolETF, SymbolXYZ, SymbolABC, SymbolDEF}

// BasketSymbols lists the three constituents (excludes the ETF itself).
var BasketSymbols = []string{SymbolXYZ, SymbolABC, SymbolDEF}

// SyntheticWeights is the basket composition used to derive the ETF's
// synthetic fair value. Weights may sum to less than 1 when a constituent
// mid is missing — see risk.go / strategy coordinator for how that's
// handled (intentional; see DESIGN.md open question).
var SyntheticWeights = map[string]float64{
	SymbolXYZ: 0.5,
	SymbolABC: 0.3,
	SymbolDEF: 0.2,
}

// SymbolIDs maps a symbol to the numeric id the gateway wire protocol uses.
var SymbolIDs = map[string]int32{
	SymbolXYZ: 1,
	SymbolETF: 2,
	SymbolABC: 3,
	SymbolDEF: 4,
}

// IDToSymbol is the inverse of SymbolIDs.
var IDToSymbol = func() map[int32]string {
	m := make(map[int32]string, len(SymbolIDs))
	for sym, id := range SymbolIDs {
		m[id] = sym
	}
	return m
}()

// Loop, rate-limit, and fee tunables.
const (
	LoopDelay                = 10 * time.Millisecond // 100 Hz target cadence
	MinMoveToRefreshBps      = 2.0
	MaxActionsPerSecond      = 95
	MakerRebateBps           = 2.0
	TakerFeeBps              = 5.0
	EffectiveMakerEdgeBps    = MakerRebateBps + TakerFeeBps
	TelemetryInterval        = 1 * time.Second
	SnapshotHTTPTimeout      = 200 * time.Millisecond
	VolSmoothingAlpha        = 0.2
	VolatilityFloorBps       = 5.0
	InventorySkewBps         = 8
	InventoryPriorityWeight  = 120.0
	MispricingIntensityBps   = 40.0
	MispricingSizeBonus      = 0.8
	MispricingSizePenalty    = 0.5
	MispricingSpreadWiden    = 0.25
	DrawdownSpreadMult       = 1.5
	DrawdownSizeReduction    = 0.7
	NotionalCapital          = 1_000_000.0
	TargetNotionalUtilization = 0.8
	TargetRestingNotional    = NotionalCapital * TargetNotionalUtilization

	// OrderPriceScale is the number of wire ticks per price unit (cents).
	OrderPriceScale = 100

	TeamTokenEnvVar    = "DELTA_TOKEN"
	DefaultTeamToken   = "shortinggpa-129asfasd301"
)

// RiskLimits are the hard portfolio risk limits of spec.md §4.5.
type RiskLimits struct {
	MaxPosition       int64
	MaxDollarExposure float64
	DrawdownStopPct   float64
	HardStopPct       float64
}

// Limits is the compile-time default risk envelope.
var Limits = RiskLimits{
	MaxPosition:       25_000,
	MaxDollarExposure: 5_000_000.0,
	DrawdownStopPct:   0.15,
	HardStopPct:       0.25,
}

// SymbolConfig is per-symbol ladder construction configuration.
type SymbolConfig struct {
	Symbol             string
	BaseSize           int64
	SizeMultiplier     float64
	BaseSpreadBps      float64
	LevelSpreadStepBps float64
	MaxLevels          int
}

// DefaultSymbolConfigs is the per-symbol ladder configuration, identical
// across the universe per spec.md §4.5.
var DefaultSymbolConfigs = func() map[string]SymbolConfig {
	m := make(map[string]SymbolConfig, len(AllSymbols))
	for _, sym := range AllSymbols {
		m[sym] = SymbolConfig{
			Symbol:             sym,
			BaseSize:           400,
			SizeMultiplier:     1.5,
			BaseSpreadBps:      15,
			LevelSpreadStepBps: 15,
			MaxLevels:          6,
		}
	}
	return m
}()

// Config is the top-level, viper-loadable configuration. Values default to
// the compile-time constants above and can be overridden by a YAML file or
// DELTA_*-prefixed environment variables (sensitive fields only).
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// GatewayConfig points at the exchange's gateway and market-data endpoints.
type GatewayConfig struct {
	Host           string `mapstructure:"host"`
	GatewayPort    int    `mapstructure:"gateway_port"`
	MarketDataPort int    `mapstructure:"market_data_port"`
	SnapshotHost   string `mapstructure:"snapshot_host"` // HTTP base URL for GET /orderbook/{symbol}
	TeamToken      string `mapstructure:"team_token"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only status/metrics HTTP server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads configuration from an optional YAML file layered over
// defaults, with DELTA_*-prefixed environment variables overriding
// individual fields (primarily the gateway team token).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DELTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("dry_run", false)
	v.SetDefault("gateway.host", "159.65.173.202")
	v.SetDefault("gateway.gateway_port", 9001)
	v.SetDefault("gateway.market_data_port", 5001)
	v.SetDefault("gateway.snapshot_host", "http://159.65.173.202:8081")
	v.SetDefault("gateway.team_token", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.port", 8090)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.GatewayPort <= 0 {
		return fmt.Errorf("gateway.gateway_port must be > 0")
	}
	if c.Gateway.SnapshotHost == "" {
		return fmt.Errorf("gateway.snapshot_host is required")
	}
	return nil
}
