package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Admission AdmissionConfig `yaml:"admission"`
	Sizer     SizerConfig     `yaml:"sizer"`
	Exits     ExitsConfig     `yaml:"exits"`
	Risk      RiskConfig      `yaml:"risk"`
	Engine    EngineConfig    `yaml:"engine"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Web       WebConfig       `yaml:"web"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ExchangeConfig struct {
	Mode         string  `yaml:"mode"` // paper or live
	BaseQuote    string  `yaml:"base_quote"`
	FeeTaker     float64 `yaml:"fee_taker"`
	StartCapital float64 `yaml:"start_capital"`
	APIKey       string  `yaml:"api_key"`
	APISecret    string  `yaml:"api_secret"`
}

type AdmissionConfig struct {
	MinLiquidityUSDC    float64 `yaml:"min_liquidity_usdc"`
	MaxSpreadBps        float64 `yaml:"max_spread_bps"`
	MaxSlippageBps      float64 `yaml:"max_slippage_bps"`
	DepthLevels         int     `yaml:"depth_levels"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	EdgeMinPct          float64 `yaml:"edge_min_pct"`
	RSIFilterEnabled    bool    `yaml:"rsi_filter_enabled"`
	RSIMin              float64 `yaml:"rsi_min"`
	RSIMax              float64 `yaml:"rsi_max"`
	MaxTotalExposurePct float64 `yaml:"max_total_exposure_pct"`
	MaxPerAssetPct      float64 `yaml:"max_per_asset_pct"`
	CapitalRecoveryPct  float64 `yaml:"capital_recovery_pct"`
	CapitalRecoveryMult float64 `yaml:"capital_recovery_size_mult"`
}

type SizerConfig struct {
	BaseRiskPct        float64 `yaml:"base_risk_pct"`
	ConfMin            float64 `yaml:"conf_min"`
	ConfMax            float64 `yaml:"conf_max"`
	ConfScaleMin       float64 `yaml:"conf_scale_min"`
	ConfScaleMax       float64 `yaml:"conf_scale_max"`
	EdgeRef            float64 `yaml:"edge_ref"`
	EdgeScale          float64 `yaml:"edge_scale"`
	DDSlowdownPerPct   float64 `yaml:"dd_slowdown_per_pct"`
	PerAssetSoftCapPct float64 `yaml:"per_asset_soft_cap_pct"`
	MinNotional        float64 `yaml:"min_notional"`
}

type ExitsConfig struct {
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	MaxHoldSec    int     `yaml:"max_hold_sec"`
}

type RiskConfig struct {
	MaxDailyDrawdownPct float64 `yaml:"max_daily_drawdown_pct"`
	MaxPositions        int     `yaml:"max_positions"`
	MaxExposurePct      float64 `yaml:"max_exposure_pct"`
}

type EngineConfig struct {
	DecisionInterval string  `yaml:"decision_interval"`
	ExitInterval     string  `yaml:"exit_interval"`
	EquityInterval   string  `yaml:"equity_interval"`
	SanitizeInterval string  `yaml:"sanitize_interval"`
	MinPerTradeUSDC  float64 `yaml:"min_per_trade_usdc"`
	UniverseLimit    int     `yaml:"universe_limit"`
	TrendFastEMA     int     `yaml:"trend_fast_ema"`
	TrendSlowEMA     int     `yaml:"trend_slow_ema"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a config with every default applied. Used by tests and by
// tooling that runs without a config file.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Exchange.Mode == "" {
		cfg.Exchange.Mode = "paper"
	}
	if cfg.Exchange.BaseQuote == "" {
		cfg.Exchange.BaseQuote = "USDC"
	}
	if cfg.Exchange.FeeTaker == 0 {
		cfg.Exchange.FeeTaker = 0.0006
	}
	if cfg.Exchange.StartCapital == 0 {
		cfg.Exchange.StartCapital = 10000
	}
	if cfg.Admission.MinLiquidityUSDC == 0 {
		cfg.Admission.MinLiquidityUSDC = 500
	}
	if cfg.Admission.MaxSpreadBps == 0 {
		cfg.Admission.MaxSpreadBps = 10
	}
	if cfg.Admission.MaxSlippageBps == 0 {
		cfg.Admission.MaxSlippageBps = 20
	}
	if cfg.Admission.DepthLevels == 0 {
		cfg.Admission.DepthLevels = 5
	}
	if cfg.Admission.ConfidenceThreshold == 0 {
		cfg.Admission.ConfidenceThreshold = 0.58
	}
	if cfg.Admission.EdgeMinPct == 0 {
		cfg.Admission.EdgeMinPct = 0.001
	}
	if cfg.Admission.RSIMin == 0 {
		cfg.Admission.RSIMin = 45
	}
	if cfg.Admission.RSIMax == 0 {
		cfg.Admission.RSIMax = 75
	}
	if cfg.Admission.MaxTotalExposurePct == 0 {
		cfg.Admission.MaxTotalExposurePct = 70
	}
	if cfg.Admission.MaxPerAssetPct == 0 {
		cfg.Admission.MaxPerAssetPct = 20
	}
	if cfg.Admission.CapitalRecoveryPct == 0 {
		cfg.Admission.CapitalRecoveryPct = 5
	}
	if cfg.Admission.CapitalRecoveryMult == 0 {
		cfg.Admission.CapitalRecoveryMult = 0.5
	}
	if cfg.Sizer.BaseRiskPct == 0 {
		cfg.Sizer.BaseRiskPct = 0.0075
	}
	if cfg.Sizer.ConfMin == 0 {
		cfg.Sizer.ConfMin = 0.55
	}
	if cfg.Sizer.ConfMax == 0 {
		cfg.Sizer.ConfMax = 0.90
	}
	if cfg.Sizer.ConfScaleMin == 0 {
		cfg.Sizer.ConfScaleMin = 0.6
	}
	if cfg.Sizer.ConfScaleMax == 0 {
		cfg.Sizer.ConfScaleMax = 1.35
	}
	if cfg.Sizer.EdgeRef == 0 {
		cfg.Sizer.EdgeRef = 0.002
	}
	if cfg.Sizer.EdgeScale == 0 {
		cfg.Sizer.EdgeScale = 0.5
	}
	if cfg.Sizer.DDSlowdownPerPct == 0 {
		cfg.Sizer.DDSlowdownPerPct = 0.15
	}
	if cfg.Sizer.PerAssetSoftCapPct == 0 {
		cfg.Sizer.PerAssetSoftCapPct = 25
	}
	if cfg.Sizer.MinNotional == 0 {
		cfg.Sizer.MinNotional = 5
	}
	if cfg.Exits.StopLossPct == 0 {
		cfg.Exits.StopLossPct = 3
	}
	if cfg.Exits.TakeProfitPct == 0 {
		cfg.Exits.TakeProfitPct = 5
	}
	if cfg.Exits.MaxHoldSec == 0 {
		cfg.Exits.MaxHoldSec = 86400
	}
	if cfg.Risk.MaxDailyDrawdownPct == 0 {
		cfg.Risk.MaxDailyDrawdownPct = 2
	}
	if cfg.Risk.MaxPositions == 0 {
		cfg.Risk.MaxPositions = 8
	}
	if cfg.Risk.MaxExposurePct == 0 {
		cfg.Risk.MaxExposurePct = 85
	}
	if cfg.Engine.DecisionInterval == "" {
		cfg.Engine.DecisionInterval = "5s"
	}
	if cfg.Engine.ExitInterval == "" {
		cfg.Engine.ExitInterval = "5s"
	}
	if cfg.Engine.EquityInterval == "" {
		cfg.Engine.EquityInterval = "5m"
	}
	if cfg.Engine.SanitizeInterval == "" {
		cfg.Engine.SanitizeInterval = "15s"
	}
	if cfg.Engine.MinPerTradeUSDC == 0 {
		cfg.Engine.MinPerTradeUSDC = 25
	}
	if cfg.Engine.UniverseLimit == 0 {
		cfg.Engine.UniverseLimit = 40
	}
	if cfg.Engine.TrendFastEMA == 0 {
		cfg.Engine.TrendFastEMA = 12
	}
	if cfg.Engine.TrendSlowEMA == 0 {
		cfg.Engine.TrendSlowEMA = 26
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Exchange.Mode != "paper" && c.Exchange.Mode != "live" {
		return fmt.Errorf("exchange.mode must be paper or live, got %q", c.Exchange.Mode)
	}
	if c.Exchange.Mode == "live" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required in live mode")
	}
	for name, v := range map[string]string{
		"engine.decision_interval": c.Engine.DecisionInterval,
		"engine.exit_interval":     c.Engine.ExitInterval,
		"engine.equity_interval":   c.Engine.EquityInterval,
		"engine.sanitize_interval": c.Engine.SanitizeInterval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	if c.Sizer.ConfMax <= c.Sizer.ConfMin {
		return fmt.Errorf("sizer.conf_max must exceed sizer.conf_min")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) IsPaper() bool {
	return c.Exchange.Mode == "paper"
}

func (c *Config) DecisionInterval() time.Duration {
	d, _ := time.ParseDuration(c.Engine.DecisionInterval)
	return d
}

func (c *Config) ExitInterval() time.Duration {
	d, _ := time.ParseDuration(c.Engine.ExitInterval)
	return d
}

func (c *Config) EquityInterval() time.Duration {
	d, _ := time.ParseDuration(c.Engine.EquityInterval)
	return d
}

func (c *Config) SanitizeInterval() time.Duration {
	d, _ := time.ParseDuration(c.Engine.SanitizeInterval)
	return d
}

func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.Exits.MaxHoldSec) * time.Second
}
