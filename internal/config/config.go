// Package config loads the effective CoreConfig from a YAML file and applies
// the environment-variable overrides enumerated in spec.md §6.5, mirroring
// the teacher's internal/config YAML-loader convention.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// GuardsConfig holds the C3 guard thresholds.
type GuardsConfig struct {
	SpreadBpsMax   float64 `yaml:"spread_bps_max"`
	LagSecCap      float64 `yaml:"lag_sec_cap"`
	ActivityMinTPM float64 `yaml:"activity_min_tpm"`
}

// ExchangeFilter holds per-symbol exchange-filter parameters for C4.
type ExchangeFilter struct {
	MinNotional float64 `yaml:"min_notional"`
	StepSize    float64 `yaml:"step_size"`
	TickSize    float64 `yaml:"tick_size"`
}

// PositionConfig holds the C4 position-manager limits.
type PositionConfig struct {
	MaxNotionalUSD float64                   `yaml:"max_notional_usd"`
	MaxLeverage    float64                   `yaml:"max_leverage"`
	SymbolQtyCap   map[string]float64        `yaml:"symbol_qty_cap"`
	Filters        map[string]ExchangeFilter `yaml:"filters"`
}

// StopsConfig holds the stop-rule take-profit / stop-loss parameters. The C5
// slippage cap does not read them; it uses each order's max_slippage_bps.
type StopsConfig struct {
	TakeProfitBps float64 `yaml:"take_profit_bps"`
	StopLossBps   float64 `yaml:"stop_loss_bps"`
}

// RiskConfig nests the pre-order risk-manager subtree (C2-C8).
type RiskConfig struct {
	Enabled   bool           `yaml:"enabled"`
	Guards    GuardsConfig   `yaml:"guards"`
	Position  PositionConfig `yaml:"position"`
	Stops     StopsConfig    `yaml:"stop_rules"`
	Shadow    ShadowConfig   `yaml:"shadow"`
}

// ShadowConfig holds the C8 shadow-comparator thresholds (resolved as
// config-driven per spec §9 Open Question #2).
type ShadowConfig struct {
	Enabled            bool    `yaml:"enabled"`
	ParityThreshold    float64 `yaml:"parity_threshold"`
	CriticalMultiplier float64 `yaml:"critical_multiplier"`
}

// GatingConfig holds the C9 gating z-score thresholds.
type GatingConfig struct {
	OfiZ               float64 `yaml:"ofi_z"`
	CvdZ               float64 `yaml:"cvd_z"`
	EnableDivergenceAlt bool   `yaml:"enable_divergence_alt"`
}

// RegimeThresholds holds per-regime z-score boundaries for C9.
type RegimeThresholds struct {
	ZTrend float64 `yaml:"z_t"`
	ZRevert float64 `yaml:"z_r"`
}

// EntryThresholds holds per-regime score entry thresholds for C9.
type EntryThresholds struct {
	Trend  float64 `yaml:"trend"`
	Revert float64 `yaml:"revert"`
	Quiet  float64 `yaml:"quiet"`
}

// DecisionConfig holds the C9 decision-engine parameters.
type DecisionConfig struct {
	ExpiryMs   int64           `yaml:"expiry_ms"`
	CooldownMs int64           `yaml:"cooldown_ms"`
	AllowQuiet bool            `yaml:"allow_quiet"`
	Gating     GatingConfig    `yaml:"gating"`
	Regime     RegimeThresholds `yaml:"regime"`
	Threshold  EntryThresholds `yaml:"threshold_entry"`
}

// RegimeThresholdSet holds C13's per-regime direction-threshold quadruple,
// grounded on core_algo.py's thresholds.{base,active,quiet} buckets.
type RegimeThresholdSet struct {
	Buy        float64 `yaml:"buy"`
	StrongBuy  float64 `yaml:"strong_buy"`
	Sell       float64 `yaml:"sell"`
	StrongSell float64 `yaml:"strong_sell"`
}

// CoreAlgoThresholds holds C13's per-regime direction thresholds and
// per-regime consistency floors, grounded on core_algo.py's
// "thresholds"/"consistency_min_per_regime" config keys (_thresholds_for_regime,
// _process_feature_row_v2's consistency_min_per_regime lookup).
type CoreAlgoThresholds struct {
	Base                    RegimeThresholdSet `yaml:"base"`
	Active                  RegimeThresholdSet `yaml:"active"`
	Quiet                   RegimeThresholdSet `yaml:"quiet"`
	ConsistencyMinPerRegime map[string]float64 `yaml:"consistency_min_per_regime"`
}

// ScheduleWindow is a UTC time-of-day window for C10's schedule trigger.
type ScheduleWindow struct {
	StartUTC string `yaml:"start_utc"`
	EndUTC   string `yaml:"end_utc"`
}

// MarketTrigger holds the C10 sliding-window activity thresholds.
type MarketTrigger struct {
	WindowSeconds      int     `yaml:"window_seconds"`
	MinTradesPerMin    float64 `yaml:"min_trades_per_min"`
	MinQuoteUpdatesSec float64 `yaml:"min_quote_updates_per_sec"`
	MinVolumeUSD       float64 `yaml:"min_volume_usd"`
	MaxSpreadBps       float64 `yaml:"max_spread_bps"`
	BasicGateMultiplier float64 `yaml:"basic_gate_multiplier"`
	WinsorPercentile   float64 `yaml:"winsor_percentile"`
}

// RegimeConfig holds the C10 StrategyMode classifier configuration.
type RegimeConfig struct {
	Schedule           []ScheduleWindow `yaml:"schedule"`
	MarketTrigger      MarketTrigger    `yaml:"market_trigger"`
	MinActiveWindows   int              `yaml:"min_active_windows"`
	MinQuietWindows    int              `yaml:"min_quiet_windows"`
	HeartbeatSeconds   int              `yaml:"heartbeat_seconds"`
}

// SQLiteConfig holds C11 SQLite-sink tuning parameters.
type SQLiteConfig struct {
	BatchN      int `yaml:"batch_n"`
	FlushMs     int `yaml:"flush_ms"`
}

// JSONLConfig holds C11 JSONL-sink tuning parameters.
type JSONLConfig struct {
	FsyncEveryN int `yaml:"fsync_every_n"`
}

// PersistenceConfig holds the C11 signal-writer configuration.
type PersistenceConfig struct {
	Sink      string       `yaml:"sink"` // jsonl|sqlite|dual|adapter
	OutputDir string       `yaml:"output_dir"`
	SQLite    SQLiteConfig `yaml:"sqlite"`
	JSONL     JSONLConfig  `yaml:"jsonl"`
}

// MetricsConfig holds C1 metrics-registry tuning.
type MetricsConfig struct {
	SampleBufferSize int `yaml:"sample_buffer_size"`
}

// HTTPConfig holds the ambient HTTP server configuration.
type HTTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// CoreConfig is the full effective configuration for the core service.
type CoreConfig struct {
	RunID       string         `yaml:"run_id"`
	RulesVer    string         `yaml:"rules_ver"`
	FeaturesVer string         `yaml:"features_ver"`
	DedupeMs    int64          `yaml:"dedupe_ms"`
	Risk        RiskConfig     `yaml:"risk"`
	Decision    DecisionConfig `yaml:"decision"`
	Regime      RegimeConfig   `yaml:"regime"`
	CoreAlgo    CoreAlgoThresholds `yaml:"core_algo_thresholds"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	HTTP        HTTPConfig     `yaml:"http"`
	ReportTZ    string         `yaml:"report_tz"`
}

// Default returns the documented defaults, matching the original's
// decision_engine.py / precheck.py / metrics.py hard-coded defaults.
func Default() *CoreConfig {
	return &CoreConfig{
		RulesVer:    "v1",
		FeaturesVer: "v1",
		DedupeMs:    250,
		Risk: RiskConfig{
			Enabled: true,
			Guards: GuardsConfig{
				SpreadBpsMax:   8.0,
				LagSecCap:      1.5,
				ActivityMinTPM: 10.0,
			},
			Position: PositionConfig{
				MaxNotionalUSD: 20000.0,
				MaxLeverage:    5.0,
				SymbolQtyCap:   map[string]float64{},
				Filters:        map[string]ExchangeFilter{},
			},
			Stops: StopsConfig{
				TakeProfitBps: 40.0,
				StopLossBps:   25.0,
			},
			Shadow: ShadowConfig{
				Enabled:            false,
				ParityThreshold:    0.99,
				CriticalMultiplier: 0.95,
			},
		},
		Decision: DecisionConfig{
			ExpiryMs:   60000,
			CooldownMs: 30000,
			AllowQuiet: false,
			Gating: GatingConfig{
				OfiZ:                1.5,
				CvdZ:                1.2,
				EnableDivergenceAlt: true,
			},
			Regime: RegimeThresholds{
				ZTrend:  1.2,
				ZRevert: 1.0,
			},
			Threshold: EntryThresholds{
				Trend:  1.8,
				Revert: 2.2,
				Quiet:  2.8,
			},
		},
		Regime: RegimeConfig{
			MarketTrigger: MarketTrigger{
				WindowSeconds:       60,
				MinTradesPerMin:     3.0,
				MinQuoteUpdatesSec:  1.0,
				BasicGateMultiplier: 0.5,
				WinsorPercentile:    0.0,
			},
			MinActiveWindows: 2,
			MinQuietWindows:  3,
			HeartbeatSeconds: 10,
		},
		CoreAlgo: CoreAlgoThresholds{
			Base:   RegimeThresholdSet{Buy: 0.6, StrongBuy: 1.2, Sell: -0.6, StrongSell: -1.2},
			Active: RegimeThresholdSet{Buy: 0.5, StrongBuy: 1.0, Sell: -0.5, StrongSell: -1.0},
			Quiet:  RegimeThresholdSet{Buy: 0.7, StrongBuy: 1.4, Sell: -0.7, StrongSell: -1.4},
			ConsistencyMinPerRegime: map[string]float64{
				"active": 0.10,
				"quiet":  0.15,
			},
		},
		Persistence: PersistenceConfig{
			Sink:      "dual",
			OutputDir: "./out",
			SQLite: SQLiteConfig{
				BatchN:  500,
				FlushMs: 500,
			},
			JSONL: JSONLConfig{
				FsyncEveryN: 50,
			},
		},
		Metrics: MetricsConfig{
			SampleBufferSize: 10000,
		},
		HTTP: HTTPConfig{
			Host:               "127.0.0.1",
			Port:                8080,
			RateLimitPerMinute: 100,
		},
		ReportTZ: "UTC",
	}
}

// Load reads a YAML file (if path is non-empty) over the defaults, then
// applies environment-variable overrides. Unknown env vars are ignored.
func Load(path string) (*CoreConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *CoreConfig) {
	if v := os.Getenv("RUN_ID"); v != "" {
		cfg.RunID = v
	}
	if v, ok := envInt64("CORE_EXPIRY_MS"); ok {
		cfg.Decision.ExpiryMs = v
	}
	if v, ok := envInt64("CORE_COOLDOWN_MS"); ok {
		cfg.Decision.CooldownMs = v
	}
	if v, ok := envFloat("CORE_GATING_Z_OFI"); ok {
		cfg.Decision.Gating.OfiZ = v
	}
	if v, ok := envFloat("CORE_GATING_Z_CVD"); ok {
		cfg.Decision.Gating.CvdZ = v
	}
	if v, ok := envFloat("CORE_ENTRY_TREND"); ok {
		cfg.Decision.Threshold.Trend = v
	}
	if v, ok := envFloat("CORE_ENTRY_REVERT"); ok {
		cfg.Decision.Threshold.Revert = v
	}
	if v, ok := envFloat("CORE_ENTRY_QUIET"); ok {
		cfg.Decision.Threshold.Quiet = v
	}
	if v := os.Getenv("CORE_RULES_VER"); v != "" {
		cfg.RulesVer = v
	}
	if v := os.Getenv("CORE_FEATURES_VER"); v != "" {
		cfg.FeaturesVer = v
	}
	if v, ok := envInt("SQLITE_BATCH_N"); ok {
		cfg.Persistence.SQLite.BatchN = v
	}
	if v, ok := envInt("SQLITE_FLUSH_MS"); ok {
		cfg.Persistence.SQLite.FlushMs = v
	}
	if v, ok := envInt("FSYNC_EVERY_N"); ok {
		cfg.Persistence.JSONL.FsyncEveryN = v
	}
	if v := os.Getenv("V13_SINK"); v != "" {
		cfg.Persistence.Sink = v
	}
	if v := os.Getenv("V13_OUTPUT_DIR"); v != "" {
		cfg.Persistence.OutputDir = v
	}
	if v := os.Getenv("REPORT_TZ"); v != "" {
		cfg.ReportTZ = v
	}
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// EffectiveVersions returns the rules/features version strings folded into
// the config hash and echoed at startup (SPEC_FULL §3.5).
func (c *CoreConfig) EffectiveVersions() (rulesVer, featuresVer string) {
	return c.RulesVer, c.FeaturesVer
}
